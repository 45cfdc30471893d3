package core

import (
	"errors"
	"fmt"
)

// Validation errors (400)
var (
	ErrInvalidAddress     = errors.New("invalid wallet address")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidPurpose     = errors.New("invalid challenge purpose")
	ErrInvalidRequest     = errors.New("invalid request")
)

// Authentication errors (401). Transport never tells them apart.
var (
	ErrInvalidOrExpiredChallenge = errors.New("invalid or expired challenge")
	ErrSignatureMismatch         = errors.New("signature does not match address")
	ErrStaleMessage              = errors.New("signed message is not fresh")
	ErrReplayedMessage           = errors.New("signed message already used")
	ErrInvalidToken              = errors.New("invalid token")
	ErrSessionInvalid            = errors.New("session is invalid")
)

var (
	// ErrRoleSelectionRequired is returned on first login without a desired role
	ErrRoleSelectionRequired = errors.New("role selection required")

	// ErrRateLimited is returned when a caller exceeds the challenge rate limit
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrStorageUnavailable wraps any failure of a backing store
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStoreFull is returned by bounded in-memory stores at capacity
	ErrStoreFull = errors.New("store is full")

	// ErrChallengeNotFound is returned by stores when no consumable row matches
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrRoleNotFound is returned by role stores for wallets without a role
	ErrRoleNotFound = errors.New("role not found")
)

// RoleRequiredError is returned when an authenticated caller lacks a role (403).
type RoleRequiredError struct {
	Required Role
	Current  Role
}

func (e *RoleRequiredError) Error() string {
	return fmt.Sprintf("role %s required, have %s", e.Required, e.Current)
}

// Unavailable wraps a backend error as ErrStorageUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
