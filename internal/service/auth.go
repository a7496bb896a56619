// Package service — session business logic.
//
// SessionService sits between the HTTP handlers and the auth, session and
// repository packages:
//
//	AuthHandler (HTTP) → SessionService → session.Bootstrap → ProfileRepository
//	                                    ↘ TokenService (session JWT)
//
// KEY RESPONSIBILITIES:
//   - Build the credential source for each sign-in path (mobile ID token,
//     web Google code) and run it through a fresh session.Bootstrap
//   - Issue a session token once the bootstrap reaches Authenticated
//   - Log every state transition
//
// A Bootstrap models one user's sign-in, so the service creates one per
// request. Nothing about a sign-in attempt is shared between requests.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rs/xid"

	"github.com/alchemyai/alchemy-backend/internal/apperror"
	"github.com/alchemyai/alchemy-backend/internal/auth"
	"github.com/alchemyai/alchemy-backend/internal/model"
	"github.com/alchemyai/alchemy-backend/internal/repository"
	"github.com/alchemyai/alchemy-backend/internal/session"
)

// GuestPrefix marks session subjects that belong to guests.
const GuestPrefix = "guest_"

// ErrGoogleDisabled is returned by SignInWithGoogleCode when the server was
// started without Google OAuth credentials.
var ErrGoogleDisabled = errors.New("service/session: Google sign-in is not configured")

// CodeExchanger trades a Google authorization code for a Google ID token.
// *auth.GoogleProvider implements it.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (string, error)
}

// IdpExchanger trades a Google ID token for a Firebase credential.
// *auth.FirebaseExchanger implements it.
type IdpExchanger interface {
	SignInWithGoogle(ctx context.Context, googleIDToken, requestURI string) (*auth.FirebaseCredential, error)
}

// GoogleFlow groups what the web sign-in path needs. RequestURI is passed to
// Firebase as the continue URI; the OAuth callback URL is the usual choice.
type GoogleFlow struct {
	Codes      CodeExchanger
	Firebase   IdpExchanger
	RequestURI string
}

// SessionService handles the sign-in business logic.
//
// DEPENDENCIES (injected via NewSessionService):
//   - verifier  auth.TokenVerifier               → checks Firebase ID tokens
//   - profiles  repository.ProfileRepository     → idempotent profile upsert
//   - tokens    *auth.TokenService               → issues session JWTs
//   - google    *GoogleFlow                      → optional web sign-in path
//   - logger    *slog.Logger                     → structured logging
type SessionService struct {
	verifier auth.TokenVerifier
	profiles repository.ProfileRepository
	tokens   *auth.TokenService
	google   *GoogleFlow
	logger   *slog.Logger
}

// NewSessionService creates a SessionService. google may be nil, in which
// case SignInWithGoogleCode returns ErrGoogleDisabled.
func NewSessionService(
	verifier auth.TokenVerifier,
	profiles repository.ProfileRepository,
	tokens *auth.TokenService,
	google *GoogleFlow,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		verifier: verifier,
		profiles: profiles,
		tokens:   tokens,
		google:   google,
		logger:   logger,
	}
}

// SessionResult is returned by the sign-in operations. It bundles where the
// bootstrap ended up with the session token so the handler can set the
// cookie and respond in one step.
//
// When Cancelled is set the user backed out: State is Unauthenticated and
// Token is empty.
type SessionResult struct {
	State     session.State
	Guest     bool
	Cancelled bool
	Subject   string
	Profile   *model.UserProfile
	Created   bool
	Token     string
}

// GoogleCallback carries the query parameters Google sends back to the
// redirect URL.
type GoogleCallback struct {
	Code  string
	Error string // e.g. "access_denied" when the user closed the consent screen
}

// SignInWithIDToken is the mobile path: the client finished the Google and
// Firebase steps itself and sends the resulting Firebase ID token.
func (s *SessionService) SignInWithIDToken(ctx context.Context, idToken string) (*SessionResult, error) {
	return s.signIn(ctx, session.IDToken(idToken))
}

// SignInWithGoogleCode is the web path:
//
//	Google code → Google ID token → Firebase signInWithIdp → Firebase ID token
//
// and from there the same bootstrap as SignInWithIDToken. An "access_denied"
// callback is a cancellation, not a failure.
func (s *SessionService) SignInWithGoogleCode(ctx context.Context, cb GoogleCallback) (*SessionResult, error) {
	if s.google == nil {
		return nil, ErrGoogleDisabled
	}

	src := session.CredentialFunc(func(ctx context.Context) (string, error) {
		switch cb.Error {
		case "":
		case "access_denied":
			return "", apperror.UserCancelled()
		default:
			return "", apperror.AuthRejected("Google returned "+cb.Error, nil)
		}

		googleIDToken, err := s.google.Codes.Exchange(ctx, cb.Code)
		if err != nil {
			return "", err
		}
		cred, err := s.google.Firebase.SignInWithGoogle(ctx, googleIDToken, s.google.RequestURI)
		if err != nil {
			return "", err
		}
		return cred.IDToken, nil
	})
	return s.signIn(ctx, src)
}

func (s *SessionService) signIn(ctx context.Context, src session.CredentialSource) (*SessionResult, error) {
	b := session.New(s.verifier, s.profiles, session.WithObserver(s.logTransition))

	res, err := b.SignIn(ctx, src)
	if err != nil {
		return nil, err
	}
	if res.Cancelled {
		s.logger.Info("sign-in cancelled by user")
		return &SessionResult{State: res.State, Cancelled: true}, nil
	}

	uid := res.Claims.UID
	token, err := s.tokens.Generate(uid, false)
	if err != nil {
		return nil, fmt.Errorf("service/session: generating token for %s: %w", uid, err)
	}

	s.logger.Info("user signed in",
		slog.String("uid", uid),
		slog.String("provider", res.Claims.SignInProvider),
		slog.Bool("created", res.Created),
	)

	return &SessionResult{
		State:   res.State,
		Subject: uid,
		Profile: res.Profile,
		Created: res.Created,
		Token:   token,
	}, nil
}

// ContinueAsGuest starts a guest session. No identity is verified and the
// profile store is never touched.
func (s *SessionService) ContinueAsGuest(ctx context.Context) (*SessionResult, error) {
	b := session.New(s.verifier, s.profiles, session.WithObserver(s.logTransition))

	res, err := b.ContinueAsGuest()
	if err != nil {
		return nil, err
	}

	subject := GuestPrefix + xid.New().String()
	token, err := s.tokens.Generate(subject, true)
	if err != nil {
		return nil, fmt.Errorf("service/session: generating guest token: %w", err)
	}

	s.logger.InfoContext(ctx, "guest session started", slog.String("subject", subject))

	return &SessionResult{
		State:   res.State,
		Guest:   true,
		Subject: subject,
		Token:   token,
	}, nil
}

// ValidateSession checks a session token and returns its principal.
func (s *SessionService) ValidateSession(token string) (*auth.Principal, error) {
	p, err := s.tokens.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("service/session: %w", err)
	}
	return p, nil
}

// SessionProfile returns the stored profile behind a session. Guests have
// none, so the result is nil with no error.
func (s *SessionService) SessionProfile(ctx context.Context, p *auth.Principal) (*model.UserProfile, error) {
	if p == nil {
		return nil, apperror.AuthRejected("no session", nil)
	}
	if p.Guest {
		return nil, nil
	}
	profile, err := s.profiles.GetProfile(ctx, p.Subject)
	if err != nil {
		return nil, fmt.Errorf("service/session: loading profile %s: %w", p.Subject, err)
	}
	return profile, nil
}

// SessionTTL reports how long issued session tokens live, for cookie MaxAge.
func (s *SessionService) SessionTTL() int {
	return int(s.tokens.TTL().Seconds())
}

// GoogleEnabled reports whether the web sign-in path is configured.
func (s *SessionService) GoogleEnabled() bool {
	return s.google != nil
}

func (s *SessionService) logTransition(t session.Transition) {
	attrs := []any{
		slog.String("from", t.From.String()),
		slog.String("to", t.To.String()),
	}
	if t.Err != nil {
		s.logger.Warn("session transition", append(attrs, slog.String("error", t.Err.Error()))...)
		return
	}
	s.logger.Debug("session transition", attrs...)
}
