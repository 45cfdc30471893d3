package ports

import (
	"context"
	"time"

	"github.com/layer-3/sigauth/core"
)

// ChallengeStore persists outstanding sign-in challenges
type ChallengeStore interface {
	// Create persists a new challenge
	Create(ctx context.Context, challenge *core.Challenge) error

	// Consume atomically marks the matching challenge consumed and returns it.
	// It returns core.ErrChallengeNotFound when no unconsumed, unexpired row
	// matches wallet, id and purpose.
	Consume(ctx context.Context, wallet, challengeID string, purpose core.Purpose, now time.Time) (*core.Challenge, error)

	// DeleteExpired removes challenges that expired before the given time
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// RoleStore persists the write-once role of each wallet
type RoleStore interface {
	// Get returns core.ErrRoleNotFound for wallets without a role
	Get(ctx context.Context, wallet string) (core.Role, error)

	// PutIfAbsent stores role only when the wallet has none and returns the
	// role that is stored after the call.
	PutIfAbsent(ctx context.Context, wallet string, role core.Role, now time.Time) (core.Role, error)
}

// SessionStore persists the single refresh session of each wallet
type SessionStore interface {
	// Record upserts the wallet's session row
	Record(ctx context.Context, session *core.Session) error

	// FindActive reports whether hash is the wallet's current, unexpired refresh fingerprint
	FindActive(ctx context.Context, wallet, refreshTokenHash string, now time.Time) (bool, error)

	// Rotate replaces the fingerprint only if oldHash is still current and unexpired
	Rotate(ctx context.Context, wallet, oldHash string, next *core.Session) (bool, error)

	// Revoke deletes the wallet's session; deleting a missing row is not an error
	Revoke(ctx context.Context, wallet string) error
}

// RateLimiter counts events per key in a sliding time window
type RateLimiter interface {
	// Allow records one event for key and reports whether it is within the limit
	Allow(ctx context.Context, key string) (bool, error)
}
