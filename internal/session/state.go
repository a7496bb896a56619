// Package session implements the sign-in state machine that takes a user
// from Unauthenticated to Authenticated:
//
//	Unauthenticated      --sign in-->        TokenExchangePending
//	TokenExchangePending --credential ok-->  ProfileSyncPending
//	TokenExchangePending --cancelled-->      Unauthenticated
//	ProfileSyncPending   --upsert ok-->      Authenticated
//	<any pending>        --failure-->        Error --> Unauthenticated
//	Unauthenticated      --guest-->          Authenticated
//	Authenticated        --sign out-->       Unauthenticated
//
// Steps run strictly in order. A failure in either pending state aborts the
// rest, passes through Error so the failure is reported once, and lands back
// in Unauthenticated. Nothing is retried automatically.
package session

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// State is a node in the sign-in state machine.
type State int

const (
	Unauthenticated State = iota
	TokenExchangePending
	ProfileSyncPending
	Authenticated
	Error
)

var stateNames = map[State]string{
	Unauthenticated:      "unauthenticated",
	TokenExchangePending: "token_exchange_pending",
	ProfileSyncPending:   "profile_sync_pending",
	Authenticated:        "authenticated",
	Error:                "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText lets State appear by name in JSON responses and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Pending reports whether s is one of the in-flight states.
func (s State) Pending() bool {
	return s == TokenExchangePending || s == ProfileSyncPending
}

var transitions = map[State][]State{
	Unauthenticated:      {TokenExchangePending, Authenticated},
	TokenExchangePending: {ProfileSyncPending, Unauthenticated, Error},
	ProfileSyncPending:   {Authenticated, Error},
	Authenticated:        {Unauthenticated},
	Error:                {Unauthenticated},
}

// CanTransition reports whether from → to is an edge of the machine.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// ErrInvalidTransition is returned when an operation is attempted from a
// state that does not allow it, e.g. SignIn while already authenticated.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// Transition is reported to the Observer on every state change.
type Transition struct {
	From State
	To   State
	At   time.Time
	Err  error // set when To is Error
}

// Observer receives transitions. It is called synchronously, outside the
// machine's lock, so it may read the machine's state.
type Observer func(Transition)
