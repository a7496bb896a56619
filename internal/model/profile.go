// Package model defines the data structures used throughout the application.
package model

import "time"

// Identity is what the identity provider tells us about a signed-in user.
// It is the input to a profile upsert.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

// UserProfile is the persisted profile record, one per Firebase UID.
//
// Email, DisplayName and PhotoURL are copied from the identity provider when
// the record is created. After that, sign-ins only move LastLogin forward;
// Preferences and the three drink collections belong to feature screens and
// are never touched by the login flow.
//
// The same struct is stored in SQLite (JSON columns for the nested parts) and
// in Firestore (users/{uid}), so it carries both tag sets.
type UserProfile struct {
	UID          string      `json:"uid"          firestore:"uid"`
	Email        string      `json:"email"        firestore:"email"`
	DisplayName  string      `json:"displayName"  firestore:"displayName"`
	PhotoURL     string      `json:"photoURL"     firestore:"photoURL"`
	CreatedAt    time.Time   `json:"createdAt"    firestore:"createdAt"`
	LastLogin    time.Time   `json:"lastLogin"    firestore:"lastLogin"`
	Preferences  Preferences `json:"preferences"  firestore:"preferences"`
	Cabinet      []string    `json:"cabinet"      firestore:"cabinet"`
	SavedDrinks  []string    `json:"savedDrinks"  firestore:"savedDrinks"`
	DrinkHistory []string    `json:"drinkHistory" firestore:"drinkHistory"`
}

// Preferences holds the user's taste settings.
type Preferences struct {
	TasteProfile        []string        `json:"tasteProfile"        firestore:"tasteProfile"`
	DislikedIngredients []string        `json:"dislikedIngredients" firestore:"dislikedIngredients"`
	PrivacySettings     PrivacySettings `json:"privacySettings"     firestore:"privacySettings"`
}

// PrivacySettings controls who can see the profile.
type PrivacySettings struct {
	ProfileVisible bool `json:"profileVisible" firestore:"profileVisible"`
}

// DefaultPreferences returns the preferences a brand new profile starts with.
// Slices are empty rather than nil so they serialize as [] and not null.
func DefaultPreferences() Preferences {
	return Preferences{
		TasteProfile:        []string{},
		DislikedIngredients: []string{},
		PrivacySettings:     PrivacySettings{ProfileVisible: true},
	}
}

// NewUserProfile builds the record written on first sign-in.
// Both timestamps are set to now.
func NewUserProfile(id Identity, now time.Time) *UserProfile {
	return &UserProfile{
		UID:          id.UID,
		Email:        id.Email,
		DisplayName:  id.DisplayName,
		PhotoURL:     id.PhotoURL,
		CreatedAt:    now,
		LastLogin:    now,
		Preferences:  DefaultPreferences(),
		Cabinet:      []string{},
		SavedDrinks:  []string{},
		DrinkHistory: []string{},
	}
}
