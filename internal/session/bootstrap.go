package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alchemyai/alchemy-backend/internal/apperror"
	"github.com/alchemyai/alchemy-backend/internal/auth"
	"github.com/alchemyai/alchemy-backend/internal/model"
)

// CredentialSource performs the interactive part of sign-in (consent screen,
// code exchange, provider round trips) and returns a Firebase ID token.
//
// Returning an error that wraps apperror.ErrUserCancelled means the user
// backed out, which is not a failure.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// CredentialFunc adapts a function to CredentialSource.
type CredentialFunc func(ctx context.Context) (string, error)

func (f CredentialFunc) Credential(ctx context.Context) (string, error) { return f(ctx) }

// IDToken is a CredentialSource for a client that already holds a token.
type IDToken string

func (t IDToken) Credential(context.Context) (string, error) { return string(t), nil }

// ProfileSyncer is the one Profile Store capability the bootstrap needs.
type ProfileSyncer interface {
	UpsertProfile(ctx context.Context, id model.Identity) (*model.UserProfile, bool, error)
}

// Result describes where a sign-in attempt ended up.
type Result struct {
	State     State
	Guest     bool
	Cancelled bool               // user backed out; State is Unauthenticated
	Claims    *auth.Claims       // nil for guests
	Profile   *model.UserProfile // nil for guests
	Created   bool               // profile was created by this sign-in
}

// Failure is the user-visible side of a failed sign-in. Err keeps the
// underlying cause for logs and errors.Is.
type Failure struct {
	Message string
	From    State // pending state the failure happened in
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("session: sign-in failed during %s: %v", f.From, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Bootstrap drives one user's sign-in. It is safe for concurrent use, but a
// second SignIn while one is pending gets ErrInvalidTransition.
type Bootstrap struct {
	verifier auth.TokenVerifier
	profiles ProfileSyncer
	observer Observer
	now      func() time.Time

	mu      sync.Mutex
	state   State
	current *Result
	failure *Failure
}

// Option configures a Bootstrap.
type Option func(*Bootstrap)

// WithObserver registers a transition callback.
func WithObserver(o Observer) Option {
	return func(b *Bootstrap) { b.observer = o }
}

// New creates a Bootstrap in the Unauthenticated state.
func New(verifier auth.TokenVerifier, profiles ProfileSyncer, opts ...Option) *Bootstrap {
	b := &Bootstrap{
		verifier: verifier,
		profiles: profiles,
		now:      time.Now,
		state:    Unauthenticated,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current state.
func (b *Bootstrap) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Current returns the result of the last successful sign-in, or nil when
// not authenticated.
func (b *Bootstrap) Current() *Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// LastFailure returns the most recent failure, or nil.
func (b *Bootstrap) LastFailure() *Failure {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failure
}

// SignIn runs the full flow: credential, verification, profile upsert.
//
// On success the result is Authenticated. On cancellation during the token
// exchange it is Unauthenticated with Cancelled set and a nil error. Any other
// problem returns a *Failure and leaves the machine Unauthenticated.
func (b *Bootstrap) SignIn(ctx context.Context, src CredentialSource) (*Result, error) {
	if err := b.transition(Unauthenticated, TokenExchangePending, nil); err != nil {
		return nil, err
	}

	// --- TokenExchangePending ---
	raw, err := src.Credential(ctx)
	if err == nil {
		var claims *auth.Claims
		claims, err = b.verifier.Verify(ctx, raw)
		if err == nil {
			return b.syncProfile(ctx, claims)
		}
	}

	if isCancellation(ctx, err) {
		if terr := b.transition(TokenExchangePending, Unauthenticated, nil); terr != nil {
			return nil, terr
		}
		return &Result{State: Unauthenticated, Cancelled: true}, nil
	}
	return nil, b.fail(TokenExchangePending, err)
}

func (b *Bootstrap) syncProfile(ctx context.Context, claims *auth.Claims) (*Result, error) {
	if err := b.transition(TokenExchangePending, ProfileSyncPending, nil); err != nil {
		return nil, err
	}

	// --- ProfileSyncPending ---
	profile, created, err := b.profiles.UpsertProfile(ctx, claims.Identity())
	if err != nil {
		return nil, b.fail(ProfileSyncPending, err)
	}

	res := &Result{
		State:   Authenticated,
		Claims:  claims,
		Profile: profile,
		Created: created,
	}
	b.mu.Lock()
	b.current = res
	b.failure = nil
	b.mu.Unlock()

	if err := b.transition(ProfileSyncPending, Authenticated, nil); err != nil {
		return nil, err
	}
	return res, nil
}

// ContinueAsGuest goes straight to Authenticated. No identity is verified
// and no profile is read or written.
func (b *Bootstrap) ContinueAsGuest() (*Result, error) {
	res := &Result{State: Authenticated, Guest: true}

	b.mu.Lock()
	if b.state != Unauthenticated {
		from := b.state
		b.mu.Unlock()
		return nil, invalidTransition(from, Authenticated)
	}
	b.current = res
	b.mu.Unlock()

	if err := b.transition(Unauthenticated, Authenticated, nil); err != nil {
		return nil, err
	}
	return res, nil
}

// SignOut returns an authenticated session to Unauthenticated. It is a no-op
// in any other state.
func (b *Bootstrap) SignOut() {
	b.mu.Lock()
	if b.state != Authenticated {
		b.mu.Unlock()
		return
	}
	b.current = nil
	b.mu.Unlock()

	_ = b.transition(Authenticated, Unauthenticated, nil)
}

// fail records the failure, passes through Error and resets.
func (b *Bootstrap) fail(from State, cause error) error {
	f := &Failure{Message: UserMessage(cause), From: from, Err: cause}

	b.mu.Lock()
	b.failure = f
	b.current = nil
	b.mu.Unlock()

	if err := b.transition(from, Error, cause); err != nil {
		return err
	}
	if err := b.transition(Error, Unauthenticated, nil); err != nil {
		return err
	}
	return f
}

// transition moves from → to if the machine is currently in from.
func (b *Bootstrap) transition(from, to State, cause error) error {
	if !CanTransition(from, to) {
		return invalidTransition(from, to)
	}

	b.mu.Lock()
	if b.state != from {
		actual := b.state
		b.mu.Unlock()
		return invalidTransition(actual, to)
	}
	b.state = to
	b.mu.Unlock()

	if b.observer != nil {
		b.observer(Transition{From: from, To: to, At: b.now(), Err: cause})
	}
	return nil
}

// invalidTransition is a conflict with the session's current state. It
// matches both apperror.ErrConflict and ErrInvalidTransition.
func invalidTransition(from, to State) error {
	msg := fmt.Sprintf("cannot go from %s to %s", from, to)
	if from == TokenExchangePending || from == ProfileSyncPending {
		msg = "a sign-in is already in progress"
	}
	return apperror.Conflict(msg, ErrInvalidTransition)
}

// isCancellation is true for an explicit user cancellation, or when err is
// this caller's own ctx being cancelled. A context.Canceled that did not come
// from ctx belongs to someone else and is a failure.
func isCancellation(ctx context.Context, err error) bool {
	if errors.Is(err, apperror.ErrUserCancelled) {
		return true
	}
	cerr := ctx.Err()
	return errors.Is(cerr, context.Canceled) && errors.Is(err, cerr)
}

// UserMessage is the text shown to the user for a failed sign-in.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, apperror.ErrAuthRejected):
		return "We couldn't verify your sign-in. Please try again."
	case errors.Is(err, apperror.ErrProviderUnavailable):
		return "Sign-in is temporarily unavailable. Please try again shortly."
	case errors.Is(err, apperror.ErrStorageUnavailable):
		return "We couldn't load your profile. Please try again."
	}
	return "Could not complete sign in. Please try again."
}
