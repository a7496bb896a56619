package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/alchemyai/alchemy-backend/internal/apperror"
	"github.com/alchemyai/alchemy-backend/internal/auth"
	"github.com/alchemyai/alchemy-backend/internal/model"
	"github.com/alchemyai/alchemy-backend/internal/service"
	"github.com/alchemyai/alchemy-backend/internal/session"
)

const (
	stateCookie     = "oauth_state"
	maxSignInBody   = 64 << 10 // Firebase ID tokens are ~1 KB
	stateCookieLife = 10 * time.Minute
)

// ConsentURLer builds the provider consent URL for an OAuth state value.
// *auth.GoogleProvider implements it.
type ConsentURLer interface {
	AuthURL(state string) string
}

// AuthHandler serves the identity endpoints.
//
// HANDLER RESPONSIBILITIES:
//   - HandleMe             → echo the verified Firebase identity (ID token guard)
//   - HandleSignIn         → bootstrap a session from a Firebase ID token
//   - HandleGuest          → start a guest session
//   - HandleSession        → describe the current session (session guard)
//   - HandleLogout         → clear the session cookie
//   - HandleGoogleLogin    → redirect the browser to Google's consent page
//   - HandleGoogleCallback → finish the web sign-in
type AuthHandler struct {
	sessions      *service.SessionService
	consent       ConsentURLer
	secureCookies bool
	logger        *slog.Logger
}

// AuthOption configures an AuthHandler.
type AuthOption func(*AuthHandler)

// WithSecureCookies marks every cookie Secure. Turn on behind HTTPS.
func WithSecureCookies(secure bool) AuthOption {
	return func(h *AuthHandler) { h.secureCookies = secure }
}

// NewAuthHandler creates an AuthHandler. consent may be nil when Google
// sign-in is not configured.
func NewAuthHandler(sessions *service.SessionService, consent ConsentURLer, logger *slog.Logger, opts ...AuthOption) *AuthHandler {
	h := &AuthHandler{
		sessions: sessions,
		consent:  consent,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// meResponse keeps the shape the mobile app already parses.
type meResponse struct {
	Message string `json:"message"`
	User    meUser `json:"user"`
}

type meUser struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// HandleMe returns the identity behind the bearer token.
//
// HTTP: GET /api/me
// Auth: RequireIDToken
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		// Only reachable if the route lost its guard.
		writeError(w, apperror.AuthRejected("valid authentication required", nil))
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		Message: "Authenticated!",
		User:    meUser{UID: claims.UID, Email: claims.Email},
	})
}

// SignInRequest is the body of POST /api/session.
type SignInRequest struct {
	IDToken string `json:"idToken"`
}

// SessionResponse is returned by the sign-in endpoints.
type SessionResponse struct {
	State        session.State      `json:"state"`
	Guest        bool               `json:"guest"`
	User         *model.UserProfile `json:"user,omitempty"`
	Created      bool               `json:"created"`
	SessionToken string             `json:"sessionToken"`
}

// HandleSignIn bootstraps a session from a Firebase ID token.
//
// HTTP: POST /api/session   {"idToken": "..."}
//
// On success the session token is returned in the body (for the mobile app)
// and set as an HttpOnly cookie (for browsers).
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSignInBody)

	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "request body must be JSON with an idToken"))
		return
	}
	if req.IDToken == "" {
		writeError(w, apperror.ValidationFailed("idToken", "idToken is required"))
		return
	}

	result, err := h.sessions.SignInWithIDToken(r.Context(), req.IDToken)
	if err != nil {
		h.logger.Warn("sign-in failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	if result.Cancelled {
		// The client went away mid-request; nothing useful to send.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.setSessionCookie(w, result.Token)
	writeJSON(w, http.StatusOK, sessionResponse(result))
}

// HandleGuest starts a guest session. No profile is created.
//
// HTTP: POST /api/session/guest
func (h *AuthHandler) HandleGuest(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.ContinueAsGuest(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSessionCookie(w, result.Token)
	writeJSON(w, http.StatusOK, sessionResponse(result))
}

// SessionStatus is returned by GET /api/session.
type SessionStatus struct {
	State     session.State      `json:"state"`
	Subject   string             `json:"subject"`
	Guest     bool               `json:"guest"`
	ExpiresAt time.Time          `json:"expiresAt"`
	User      *model.UserProfile `json:"user,omitempty"`
}

// HandleSession describes the current session.
//
// HTTP: GET /api/session
// Auth: RequireSession
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, apperror.AuthRejected("session required", nil))
		return
	}

	profile, err := h.sessions.SessionProfile(r.Context(), principal)
	if err != nil {
		h.logger.Error("loading session profile",
			slog.String("subject", principal.Subject),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionStatus{
		State:     session.Authenticated,
		Subject:   principal.Subject,
		Guest:     principal.Guest,
		ExpiresAt: principal.ExpiresAt,
		User:      profile,
	})
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /api/session/logout
//
// Session tokens are stateless, so this only removes the client's copy. The
// token stays valid until it expires.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"state": session.Unauthenticated.String()})
}

// HandleGoogleLogin redirects the user to Google's consent page.
//
// HTTP: GET /auth/google/login
//
// A random state value goes into a short-lived HttpOnly cookie and the
// consent URL; the callback refuses any request where the two differ.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.consent == nil {
		writeError(w, service.ErrGoogleDisabled)
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateCookieLife.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.consent.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the web sign-in.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Hand code (or Google's error) to the session service
//  3. Cancelled → /?auth=cancelled, failed → /?auth=error,
//     signed in → session cookie and /
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// --- Step 1: Validate CSRF state ---
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" {
		h.logger.Warn("google callback: missing state cookie")
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}
	if query.Get("state") != cookie.Value {
		h.logger.Warn("google callback: state mismatch")
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	// --- Step 2: Bootstrap ---
	result, err := h.sessions.SignInWithGoogleCode(r.Context(), service.GoogleCallback{
		Code:  query.Get("code"),
		Error: query.Get("error"),
	})
	if err != nil {
		h.logger.Error("google callback: sign-in failed", slog.String("error", err.Error()))
		if errors.Is(err, service.ErrGoogleDisabled) {
			writeError(w, err)
			return
		}
		http.Redirect(w, r, "/?auth=error", http.StatusSeeOther)
		return
	}

	// --- Step 3: Redirect ---
	if result.Cancelled {
		http.Redirect(w, r, "/?auth=cancelled", http.StatusSeeOther)
		return
	}

	h.setSessionCookie(w, result.Token)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   h.sessions.SessionTTL(),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func sessionResponse(res *service.SessionResult) SessionResponse {
	return SessionResponse{
		State:        res.State,
		Guest:        res.Guest,
		User:         res.Profile,
		Created:      res.Created,
		SessionToken: res.Token,
	}
}
