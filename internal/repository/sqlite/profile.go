package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alchemyai/alchemy-backend/internal/apperror"
	"github.com/alchemyai/alchemy-backend/internal/model"
	"github.com/alchemyai/alchemy-backend/internal/repository"
)

// compile-time check that *DB implements repository.ProfileRepository
var _ repository.ProfileRepository = (*DB)(nil)

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UpsertProfile creates the profile on first sign-in and only bumps
// last_login afterwards.
//
// Both branches run in one transaction. The insert is
// ON CONFLICT DO NOTHING, so two first logins racing for the same uid cannot
// both create a row: the loser sees zero rows affected and falls through to
// the last_login update. MAX() keeps last_login from moving backwards when an
// older write commits second.
func (db *DB) UpsertProfile(ctx context.Context, id model.Identity) (*model.UserProfile, bool, error) {
	if id.UID == "" {
		return nil, false, apperror.ValidationFailed("uid", "uid is required")
	}

	now := db.now().UTC()
	fresh := model.NewUserProfile(id, now)

	prefs, err := json.Marshal(fresh.Preferences)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: encoding preferences: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, apperror.StorageUnavailable("upsert profile", err)
	}
	defer tx.Rollback() // no-op after Commit

	res, err := tx.ExecContext(ctx,
		`INSERT INTO profiles
			(uid, email, display_name, photo_url, created_at, last_login,
			 preferences, cabinet, saved_drinks, drink_history)
		 VALUES (?, ?, ?, ?, ?, ?, ?, '[]', '[]', '[]')
		 ON CONFLICT(uid) DO NOTHING`,
		fresh.UID,
		fresh.Email,
		fresh.DisplayName,
		fresh.PhotoURL,
		now.UnixMicro(),
		now.UnixMicro(),
		string(prefs),
	)
	if err != nil {
		return nil, false, apperror.StorageUnavailable("upsert profile", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, apperror.StorageUnavailable("upsert profile", err)
	}
	created := inserted == 1

	if !created {
		_, err = tx.ExecContext(ctx,
			`UPDATE profiles SET last_login = MAX(last_login, ?) WHERE uid = ?`,
			now.UnixMicro(),
			id.UID,
		)
		if err != nil {
			return nil, false, apperror.StorageUnavailable("update last login", err)
		}
	}

	profile, err := getProfile(ctx, tx, id.UID)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, apperror.StorageUnavailable("commit profile", err)
	}

	return profile, created, nil
}

// GetProfile retrieves a profile by uid.
// Returns apperror.ErrNotFound if there is none.
func (db *DB) GetProfile(ctx context.Context, uid string) (*model.UserProfile, error) {
	return getProfile(ctx, db.conn, uid)
}

func getProfile(ctx context.Context, q rowQuerier, uid string) (*model.UserProfile, error) {
	var (
		p                                         model.UserProfile
		createdAt, lastLogin                      int64
		prefs, cabinet, savedDrinks, drinkHistory string
	)

	err := q.QueryRowContext(ctx,
		`SELECT uid, email, display_name, photo_url, created_at, last_login,
		        preferences, cabinet, saved_drinks, drink_history
		 FROM profiles WHERE uid = ?`,
		uid,
	).Scan(
		&p.UID,
		&p.Email,
		&p.DisplayName,
		&p.PhotoURL,
		&createdAt,
		&lastLogin,
		&prefs,
		&cabinet,
		&savedDrinks,
		&drinkHistory,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", uid)
		}
		return nil, apperror.StorageUnavailable("read profile", err)
	}

	p.CreatedAt = time.UnixMicro(createdAt).UTC()
	p.LastLogin = time.UnixMicro(lastLogin).UTC()

	if err := decodeJSONColumns(
		column{"preferences", prefs, &p.Preferences},
		column{"cabinet", cabinet, &p.Cabinet},
		column{"saved_drinks", savedDrinks, &p.SavedDrinks},
		column{"drink_history", drinkHistory, &p.DrinkHistory},
	); err != nil {
		return nil, fmt.Errorf("sqlite: profile %s: %w", uid, err)
	}

	return &p, nil
}

type column struct {
	name string
	raw  string
	dst  any
}

func decodeJSONColumns(cols ...column) error {
	for _, c := range cols {
		if err := json.Unmarshal([]byte(c.raw), c.dst); err != nil {
			return fmt.Errorf("decoding %s: %w", c.name, err)
		}
	}
	return nil
}
