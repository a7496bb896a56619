package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alchemyai/alchemy-backend/internal/apperror"
)

// IdentityToolkitURL is the base of Firebase Auth's REST API.
const IdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"

// FirebaseCredential is what Firebase hands back after a federated sign-in.
type FirebaseCredential struct {
	IDToken      string
	RefreshToken string
	UID          string
	Email        string
	DisplayName  string
	PhotoURL     string
	ExpiresIn    time.Duration
	IsNewUser    bool
}

// FirebaseExchanger converts a provider credential (a Google ID token) into
// a Firebase session via accounts:signInWithIdp.
type FirebaseExchanger struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewFirebaseExchanger creates an exchanger. baseURL defaults to
// IdentityToolkitURL; a nil client gets a 10 second timeout.
func NewFirebaseExchanger(apiKey, baseURL string, client *http.Client) (*FirebaseExchanger, error) {
	if apiKey == "" {
		return nil, errors.New("auth: Firebase API key is required")
	}
	if baseURL == "" {
		baseURL = IdentityToolkitURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &FirebaseExchanger{apiKey: apiKey, baseURL: baseURL, client: client}, nil
}

type signInWithIdpRequest struct {
	PostBody            string `json:"postBody"`
	RequestURI          string `json:"requestUri"`
	ReturnSecureToken   bool   `json:"returnSecureToken"`
	ReturnIdpCredential bool   `json:"returnIdpCredential"`
}

type signInWithIdpResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
	ExpiresIn    string `json:"expiresIn"`
	IsNewUser    bool   `json:"isNewUser"`
}

type identityToolkitError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignInWithGoogle exchanges a Google ID token for a Firebase credential.
// requestURI must be a URI Firebase accepts for the project.
func (e *FirebaseExchanger) SignInWithGoogle(ctx context.Context, googleIDToken, requestURI string) (*FirebaseCredential, error) {
	if googleIDToken == "" {
		return nil, apperror.AuthRejected("missing Google ID token", nil)
	}

	postBody := url.Values{
		"id_token":   {googleIDToken},
		"providerId": {"google.com"},
	}
	body, err := json.Marshal(signInWithIdpRequest{
		PostBody:            postBody.Encode(),
		RequestURI:          requestURI,
		ReturnSecureToken:   true,
		ReturnIdpCredential: true,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: encoding signInWithIdp request: %w", err)
	}

	endpoint := e.baseURL + "/accounts:signInWithIdp?key=" + url.QueryEscape(e.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("auth: building signInWithIdp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperror.ProviderUnavailable(fmt.Errorf("auth: calling signInWithIdp: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, apperror.ProviderUnavailable(fmt.Errorf("auth: signInWithIdp returned status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		var apiErr identityToolkitError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, apperror.AuthRejected("Firebase rejected the credential",
			fmt.Errorf("auth: signInWithIdp status %d: %s", resp.StatusCode, apiErr.Error.Message))
	}

	var out signInWithIdpResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperror.ProviderUnavailable(fmt.Errorf("auth: decoding signInWithIdp response: %w", err))
	}
	if out.IDToken == "" || out.LocalID == "" {
		return nil, apperror.AuthRejected("Firebase response carried no session", nil)
	}

	cred := &FirebaseCredential{
		IDToken:      out.IDToken,
		RefreshToken: out.RefreshToken,
		UID:          out.LocalID,
		Email:        out.Email,
		DisplayName:  out.DisplayName,
		PhotoURL:     out.PhotoURL,
		IsNewUser:    out.IsNewUser,
	}
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil {
		cred.ExpiresIn = time.Duration(secs) * time.Second
	}
	return cred, nil
}
