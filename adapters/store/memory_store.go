package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/sigauth/core"
)

// DefaultMemoryCapacity bounds the in-memory challenge store
const DefaultMemoryCapacity = 10000

// MemoryChallengeStore is an in-memory implementation of the ChallengeStore interface.
// It is process-local: challenges are not shared between instances.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	capacity   int
	challenges map[string]core.Challenge
}

// NewMemoryChallengeStore creates a store holding at most capacity challenges
func NewMemoryChallengeStore(capacity int) *MemoryChallengeStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryChallengeStore{
		capacity:   capacity,
		challenges: make(map[string]core.Challenge),
	}
}

// Create stores a challenge, evicting expired ones when at capacity
func (s *MemoryChallengeStore) Create(ctx context.Context, challenge *core.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.challenges) >= s.capacity {
		s.deleteExpiredLocked(challenge.CreatedAt)
		if len(s.challenges) >= s.capacity {
			return core.ErrStoreFull
		}
	}
	s.challenges[challenge.ID] = *challenge
	return nil
}

// Consume marks a matching challenge consumed
func (s *MemoryChallengeStore) Consume(ctx context.Context, wallet, challengeID string, purpose core.Purpose, now time.Time) (*core.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[challengeID]
	if !ok || ch.Wallet != wallet || ch.Purpose != purpose || ch.ConsumedAt != nil || ch.Expired(now) {
		return nil, core.ErrChallengeNotFound
	}
	consumedAt := now
	ch.ConsumedAt = &consumedAt
	s.challenges[challengeID] = ch
	return &ch, nil
}

// DeleteExpired removes challenges that expired before the given time
func (s *MemoryChallengeStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteExpiredLocked(before), nil
}

func (s *MemoryChallengeStore) deleteExpiredLocked(before time.Time) int64 {
	var n int64
	for id, ch := range s.challenges {
		if ch.ExpiresAt.Before(before) {
			delete(s.challenges, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored challenges
// Contains reports whether challengeID is held, consumed or not, until it is
// swept after expiry
func (s *MemoryChallengeStore) Contains(challengeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.challenges[challengeID]
	return ok
}

func (s *MemoryChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

// MemoryRoleStore is an in-memory implementation of the RoleStore interface
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]core.Role
}

// NewMemoryRoleStore creates a new in-memory role store
func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]core.Role)}
}

// Get returns the wallet's role
func (s *MemoryRoleStore) Get(ctx context.Context, wallet string) (core.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[wallet]
	if !ok {
		return "", core.ErrRoleNotFound
	}
	return role, nil
}

// PutIfAbsent stores role unless the wallet already has one
func (s *MemoryRoleStore) PutIfAbsent(ctx context.Context, wallet string, role core.Role, now time.Time) (core.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.roles[wallet]; ok {
		return existing, nil
	}
	s.roles[wallet] = role
	return role, nil
}

// MemorySessionStore is an in-memory implementation of the SessionStore interface
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]core.Session
}

// NewMemorySessionStore creates a new in-memory session store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]core.Session)}
}

// Record upserts the wallet's session, keeping CreatedAt from the input
func (s *MemorySessionStore) Record(ctx context.Context, session *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Wallet] = *session
	return nil
}

// FindActive reports whether hash is the wallet's current fingerprint
func (s *MemorySessionStore) FindActive(ctx context.Context, wallet, refreshTokenHash string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[wallet]
	return ok && hashEqual(sess.RefreshTokenHash, refreshTokenHash) && sess.Active(now), nil
}

// Rotate swaps the fingerprint if oldHash is still current
func (s *MemorySessionStore) Rotate(ctx context.Context, wallet, oldHash string, next *core.Session) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[wallet]
	if !ok || !hashEqual(sess.RefreshTokenHash, oldHash) || !sess.Active(next.UpdatedAt) {
		return false, nil
	}
	sess.Role = next.Role
	sess.RefreshTokenHash = next.RefreshTokenHash
	sess.ExpiresAt = next.ExpiresAt
	sess.UpdatedAt = next.UpdatedAt
	s.sessions[wallet] = sess
	return true, nil
}

// Revoke deletes the wallet's session
func (s *MemorySessionStore) Revoke(ctx context.Context, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, wallet)
	return nil
}

// Get returns a copy of the wallet's session
func (s *MemorySessionStore) Get(wallet string) (core.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[wallet]
	return sess, ok
}
