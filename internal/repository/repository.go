// Package repository declares the storage contracts the service layer
// depends on. Implementations live in sub-packages (sqlite, firestore).
package repository

import (
	"context"

	"github.com/alchemyai/alchemy-backend/internal/model"
)

// ProfileRepository stores one UserProfile per Firebase UID.
type ProfileRepository interface {
	// UpsertProfile creates the profile for id.UID if it does not exist,
	// otherwise moves lastLogin forward and leaves every other field alone.
	// The operation is atomic: concurrent calls for the same UID produce one
	// record. created reports whether this call inserted it.
	//
	// Connectivity failures wrap apperror.ErrStorageUnavailable.
	UpsertProfile(ctx context.Context, id model.Identity) (profile *model.UserProfile, created bool, err error)

	// GetProfile returns the stored profile or apperror.ErrNotFound.
	GetProfile(ctx context.Context, uid string) (*model.UserProfile, error)
}
