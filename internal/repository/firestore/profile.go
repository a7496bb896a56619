// Package firestore stores profiles as documents in Cloud Firestore, one
// document per Firebase UID under the "users" collection.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alchemyai/alchemy-backend/internal/apperror"
	"github.com/alchemyai/alchemy-backend/internal/model"
	"github.com/alchemyai/alchemy-backend/internal/repository"
)

// DefaultCollection matches the path the mobile app reads: users/{uid}.
const DefaultCollection = "users"

// compile-time check
var _ repository.ProfileRepository = (*Store)(nil)

// Store implements repository.ProfileRepository on Firestore.
type Store struct {
	client     *firestore.Client
	collection string
}

// Option configures a Store.
type Option func(*Store)

// WithCollection overrides the collection name. Tests use it for isolation.
func WithCollection(name string) Option {
	return func(s *Store) { s.collection = name }
}

// New wraps an existing client. The caller owns the client's lifetime.
func New(client *firestore.Client, opts ...Option) *Store {
	s := &Store{client: client, collection: DefaultCollection}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a client for projectID. With FIRESTORE_EMULATOR_HOST set the
// client talks to the emulator; otherwise it uses application default
// credentials unless clientOpts say otherwise.
func Open(ctx context.Context, projectID string, clientOpts []option.ClientOption, opts ...Option) (*Store, error) {
	if projectID == "" {
		return nil, errors.New("firestore: project ID is required")
	}
	client, err := firestore.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: creating client: %w", err)
	}
	return New(client, opts...), nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// UpsertProfile creates users/{uid} on first sign-in and otherwise only sets
// lastLogin.
//
// The read and the write share a transaction. If two first logins race, the
// second commit fails on contention, the runner retries it, and the retry
// sees the document and takes the update branch. Timestamps are assigned by
// the Firestore server.
func (s *Store) UpsertProfile(ctx context.Context, id model.Identity) (*model.UserProfile, bool, error) {
	if id.UID == "" {
		return nil, false, apperror.ValidationFailed("uid", "uid is required")
	}

	ref := s.client.Collection(s.collection).Doc(id.UID)

	var created bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created = false // reset on retry

		_, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			created = true
			return tx.Create(ref, newProfileDoc(id))
		case err != nil:
			return err
		}

		return tx.Update(ref, []firestore.Update{
			{Path: "lastLogin", Value: firestore.ServerTimestamp},
		})
	})
	if err != nil {
		return nil, false, storageError("upsert profile", err)
	}

	profile, err := s.GetProfile(ctx, id.UID)
	if err != nil {
		return nil, false, err
	}
	return profile, created, nil
}

// GetProfile reads users/{uid}.
func (s *Store) GetProfile(ctx context.Context, uid string) (*model.UserProfile, error) {
	snap, err := s.client.Collection(s.collection).Doc(uid).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, apperror.NotFound("profile", uid)
		}
		return nil, storageError("read profile", err)
	}

	var p model.UserProfile
	if err := snap.DataTo(&p); err != nil {
		return nil, fmt.Errorf("firestore: decoding profile %s: %w", uid, err)
	}
	if p.UID == "" {
		p.UID = uid
	}
	return &p, nil
}

// storageError classifies a Firestore failure. Only outages and timeouts are
// StorageUnavailable; permission, argument and cancellation errors are
// wrapped and returned as they are.
func storageError(op string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return apperror.StorageUnavailable(op, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return apperror.StorageUnavailable(op, err)
	}
	return fmt.Errorf("firestore: %s: %w", op, err)
}

// newProfileDoc is the first-sign-in document. A map rather than the struct
// so both timestamps can be the ServerTimestamp sentinel.
func newProfileDoc(id model.Identity) map[string]any {
	prefs := model.DefaultPreferences()
	return map[string]any{
		"uid":         id.UID,
		"email":       id.Email,
		"displayName": id.DisplayName,
		"photoURL":    id.PhotoURL,
		"createdAt":   firestore.ServerTimestamp,
		"lastLogin":   firestore.ServerTimestamp,
		"preferences": map[string]any{
			"tasteProfile":        prefs.TasteProfile,
			"dislikedIngredients": prefs.DislikedIngredients,
			"privacySettings": map[string]any{
				"profileVisible": prefs.PrivacySettings.ProfileVisible,
			},
		},
		"cabinet":      []string{},
		"savedDrinks":  []string{},
		"drinkHistory": []string{},
	}
}
