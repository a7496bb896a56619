package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alchemyai/alchemy-backend/internal/apperror"
	"github.com/alchemyai/alchemy-backend/internal/auth"
	"github.com/alchemyai/alchemy-backend/internal/model"
)

// =========================================================================
// FAKES
// =========================================================================

// fakeVerifier accepts the token "good" and rejects everything else, unless
// err is set.
type fakeVerifier struct {
	err   error
	calls int
}

func (v *fakeVerifier) Verify(_ context.Context, raw string) (*auth.Claims, error) {
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	if raw != "good" {
		return nil, apperror.AuthRejected("invalid token", nil)
	}
	return &auth.Claims{UID: "u1", Email: "a@example.com", Name: "Ada"}, nil
}

// fakeProfiles is an in-memory ProfileSyncer that counts calls.
type fakeProfiles struct {
	mu       sync.Mutex
	err      error
	calls    int
	profiles map[string]*model.UserProfile
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[string]*model.UserProfile)}
}

func (f *fakeProfiles) UpsertProfile(_ context.Context, id model.Identity) (*model.UserProfile, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	if p, ok := f.profiles[id.UID]; ok {
		p.LastLogin = time.Now()
		return p, false, nil
	}
	p := model.NewUserProfile(id, time.Now())
	f.profiles[id.UID] = p
	return p, true, nil
}

// recorder collects transitions reported to the observer.
type recorder struct {
	mu  sync.Mutex
	got []Transition
}

func (r *recorder) observe(t Transition) {
	r.mu.Lock()
	r.got = append(r.got, t)
	r.mu.Unlock()
}

func (r *recorder) path() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.got) == 0 {
		return nil
	}
	out := []State{r.got[0].From}
	for _, t := range r.got {
		out = append(out, t.To)
	}
	return out
}

func newTestBootstrap(v *fakeVerifier, p *fakeProfiles) (*Bootstrap, *recorder) {
	rec := &recorder{}
	return New(v, p, WithObserver(rec.observe)), rec
}

// =========================================================================
// SIGN IN
// =========================================================================

func TestSignIn_Success(t *testing.T) {
	profiles := newFakeProfiles()
	b, rec := newTestBootstrap(&fakeVerifier{}, profiles)

	res, err := b.SignIn(context.Background(), IDToken("good"))
	require.NoError(t, err)

	assert.Equal(t, Authenticated, res.State)
	assert.Equal(t, Authenticated, b.State())
	assert.True(t, res.Created)
	assert.Equal(t, "u1", res.Profile.UID)
	assert.Equal(t, "Ada", res.Profile.DisplayName)
	assert.Same(t, res, b.Current())
	assert.Equal(t, 1, profiles.calls)

	assert.Equal(t, []State{Unauthenticated, TokenExchangePending, ProfileSyncPending, Authenticated}, rec.path())
}

func TestSignIn_SecondSignInAfterSignOutUpdatesOnly(t *testing.T) {
	profiles := newFakeProfiles()
	b, _ := newTestBootstrap(&fakeVerifier{}, profiles)
	ctx := context.Background()

	first, err := b.SignIn(ctx, IDToken("good"))
	require.NoError(t, err)
	b.SignOut()
	assert.Equal(t, Unauthenticated, b.State())
	assert.Nil(t, b.Current())

	second, err := b.SignIn(ctx, IDToken("good"))
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Len(t, profiles.profiles, 1)
}

func TestSignIn_TokenRejected(t *testing.T) {
	profiles := newFakeProfiles()
	b, rec := newTestBootstrap(&fakeVerifier{}, profiles)

	res, err := b.SignIn(context.Background(), IDToken("forged"))

	assert.Nil(t, res)
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, TokenExchangePending, f.From)
	assert.ErrorIs(t, err, apperror.ErrAuthRejected)
	assert.NotEmpty(t, f.Message)

	assert.Equal(t, Unauthenticated, b.State())
	assert.Same(t, f, b.LastFailure())
	assert.Zero(t, profiles.calls, "no profile write after a rejected token")
	assert.Equal(t, []State{Unauthenticated, TokenExchangePending, Error, Unauthenticated}, rec.path())
}

func TestSignIn_ProviderUnavailable(t *testing.T) {
	b, _ := newTestBootstrap(&fakeVerifier{err: apperror.ProviderUnavailable(errors.New("timeout"))}, newFakeProfiles())

	_, err := b.SignIn(context.Background(), IDToken("good"))

	assert.ErrorIs(t, err, apperror.ErrProviderUnavailable)
	assert.Equal(t, Unauthenticated, b.State())
}

// Token exchange succeeds, upsert fails: Error then Unauthenticated, never
// Authenticated.
func TestSignIn_UpsertFailureAfterExchange(t *testing.T) {
	profiles := newFakeProfiles()
	profiles.err = apperror.StorageUnavailable("upsert profile", errors.New("connection reset"))
	verifier := &fakeVerifier{}
	b, rec := newTestBootstrap(verifier, profiles)

	res, err := b.SignIn(context.Background(), IDToken("good"))

	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperror.ErrStorageUnavailable)
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, ProfileSyncPending, f.From)
	assert.Equal(t, "We couldn't load your profile. Please try again.", f.Message)

	assert.Equal(t, 1, verifier.calls)
	assert.Equal(t, Unauthenticated, b.State())
	assert.Nil(t, b.Current())
	assert.Equal(t,
		[]State{Unauthenticated, TokenExchangePending, ProfileSyncPending, Error, Unauthenticated},
		rec.path())
	assert.NotContains(t, rec.path()[1:], Authenticated)
}

func TestSignIn_CredentialFailure(t *testing.T) {
	verifier := &fakeVerifier{}
	b, _ := newTestBootstrap(verifier, newFakeProfiles())

	src := CredentialFunc(func(context.Context) (string, error) {
		return "", apperror.ProviderUnavailable(errors.New("dns"))
	})
	_, err := b.SignIn(context.Background(), src)

	assert.ErrorIs(t, err, apperror.ErrProviderUnavailable)
	assert.Zero(t, verifier.calls, "verification must not start before the credential exists")
}

func TestSignIn_FailureThenRetrySucceeds(t *testing.T) {
	profiles := newFakeProfiles()
	profiles.err = apperror.StorageUnavailable("upsert profile", nil)
	b, _ := newTestBootstrap(&fakeVerifier{}, profiles)

	_, err := b.SignIn(context.Background(), IDToken("good"))
	require.Error(t, err)

	profiles.err = nil
	res, err := b.SignIn(context.Background(), IDToken("good"))
	require.NoError(t, err)
	assert.Equal(t, Authenticated, res.State)
	assert.Nil(t, b.LastFailure())
}

// =========================================================================
// CANCELLATION
// =========================================================================

func TestSignIn_UserCancelledIsSilent(t *testing.T) {
	tests := []struct {
		name string
		src  func(cancel context.CancelFunc) CredentialSource
	}{
		{
			name: "source reports cancellation",
			src: func(context.CancelFunc) CredentialSource {
				return CredentialFunc(func(context.Context) (string, error) {
					return "", apperror.UserCancelled()
				})
			},
		},
		{
			name: "context cancelled mid-exchange",
			src: func(cancel context.CancelFunc) CredentialSource {
				return CredentialFunc(func(ctx context.Context) (string, error) {
					cancel()
					return "", ctx.Err()
				})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profiles := newFakeProfiles()
			b, rec := newTestBootstrap(&fakeVerifier{}, profiles)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			res, err := b.SignIn(ctx, tt.src(cancel))

			require.NoError(t, err)
			assert.True(t, res.Cancelled)
			assert.Equal(t, Unauthenticated, res.State)
			assert.Equal(t, Unauthenticated, b.State())
			assert.Nil(t, b.LastFailure())
			assert.Zero(t, profiles.calls)
			assert.Equal(t, []State{Unauthenticated, TokenExchangePending, Unauthenticated}, rec.path())
		})
	}
}

func TestSignIn_CancellationNotOwnedByCaller(t *testing.T) {
	tests := []struct {
		name string
		ctx  func() context.Context
		err  error
		want error
	}{
		{
			name: "someone else's cancellation behind a provider error",
			ctx:  context.Background,
			err:  apperror.ProviderUnavailable(context.Canceled),
			want: apperror.ErrProviderUnavailable,
		},
		{
			name: "rejected token after the caller hung up",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			err:  apperror.AuthRejected("invalid token signature", nil),
			want: apperror.ErrAuthRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profiles := newFakeProfiles()
			b, rec := newTestBootstrap(&fakeVerifier{err: tt.err}, profiles)

			res, err := b.SignIn(tt.ctx(), IDToken("good"))

			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Zero(t, profiles.calls)
			assert.Equal(t, []State{Unauthenticated, TokenExchangePending, Error, Unauthenticated}, rec.path())
		})
	}
}

// =========================================================================
// GUEST
// =========================================================================

func TestContinueAsGuest(t *testing.T) {
	profiles := newFakeProfiles()
	verifier := &fakeVerifier{}
	b, rec := newTestBootstrap(verifier, profiles)

	res, err := b.ContinueAsGuest()
	require.NoError(t, err)

	assert.Equal(t, Authenticated, res.State)
	assert.True(t, res.Guest)
	assert.Nil(t, res.Profile)
	assert.Zero(t, profiles.calls)
	assert.Zero(t, verifier.calls)
	assert.Equal(t, []State{Unauthenticated, Authenticated}, rec.path())
}

func TestContinueAsGuest_NotFromAuthenticated(t *testing.T) {
	b, _ := newTestBootstrap(&fakeVerifier{}, newFakeProfiles())
	_, err := b.SignIn(context.Background(), IDToken("good"))
	require.NoError(t, err)

	_, err = b.ContinueAsGuest()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

// =========================================================================
// STATE GUARDS
// =========================================================================

func TestSignIn_RejectedWhenAlreadyAuthenticated(t *testing.T) {
	b, _ := newTestBootstrap(&fakeVerifier{}, newFakeProfiles())
	_, err := b.ContinueAsGuest()
	require.NoError(t, err)

	_, err = b.SignIn(context.Background(), IDToken("good"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, Authenticated, b.State())
}

func TestSignIn_SecondAttemptWhilePending(t *testing.T) {
	b, _ := newTestBootstrap(&fakeVerifier{}, newFakeProfiles())

	entered := make(chan struct{})
	release := make(chan struct{})
	slow := CredentialFunc(func(context.Context) (string, error) {
		close(entered)
		<-release
		return "good", nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := b.SignIn(context.Background(), slow)
		done <- err
	}()

	<-entered
	assert.Equal(t, TokenExchangePending, b.State())
	_, err := b.SignIn(context.Background(), IDToken("good"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, apperror.ErrConflict)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "a sign-in is already in progress", appErr.Message)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, Authenticated, b.State())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(Unauthenticated, TokenExchangePending))
	assert.True(t, CanTransition(Unauthenticated, Authenticated))
	assert.True(t, CanTransition(ProfileSyncPending, Error))
	assert.False(t, CanTransition(TokenExchangePending, Authenticated))
	assert.False(t, CanTransition(Unauthenticated, ProfileSyncPending))
	assert.False(t, CanTransition(Error, Authenticated))
}

func TestStateText(t *testing.T) {
	text, err := ProfileSyncPending.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "profile_sync_pending", string(text))
	assert.True(t, TokenExchangePending.Pending())
	assert.False(t, Authenticated.Pending())
}
