package store

import (
	"context"
	"errors"
	"time"

	"github.com/layer-3/sigauth/core"
	"github.com/layer-3/sigauth/ports"
	"go.uber.org/zap"
)

// DefaultPrimaryTimeout bounds each call to the durable backend
const DefaultPrimaryTimeout = 2 * time.Second

// FallbackChallengeStore writes challenges to a durable store and falls back
// to a bounded in-memory store when the durable one fails.
type FallbackChallengeStore struct {
	primary  ports.ChallengeStore
	fallback *MemoryChallengeStore
	timeout  time.Duration
	logger   *zap.Logger
}

// NewFallbackChallengeStore creates a new fallback challenge store
func NewFallbackChallengeStore(primary ports.ChallengeStore, fallback *MemoryChallengeStore, timeout time.Duration, logger *zap.Logger) *FallbackChallengeStore {
	if fallback == nil {
		fallback = NewMemoryChallengeStore(DefaultMemoryCapacity)
	}
	if timeout <= 0 {
		timeout = DefaultPrimaryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackChallengeStore{
		primary:  primary,
		fallback: fallback,
		timeout:  timeout,
		logger:   logger,
	}
}

// Create stores the challenge durably, or in memory when the backend fails
func (s *FallbackChallengeStore) Create(ctx context.Context, challenge *core.Challenge) error {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.primary.Create(pctx, challenge)
	cancel()
	if err == nil {
		return nil
	}

	s.logger.Warn("durable challenge store failed, using memory",
		zap.String("challenge_id", challenge.ID),
		zap.Error(err),
	)
	return s.fallback.Create(ctx, challenge)
}

// Consume tries the in-memory store first, then the durable one. A challenge
// created in memory is only ever redeemed there, even when an ambiguous
// durable write left a second copy behind; that copy is burned on success.
func (s *FallbackChallengeStore) Consume(ctx context.Context, wallet, challengeID string, purpose core.Purpose, now time.Time) (*core.Challenge, error) {
	if ch, err := s.fallback.Consume(ctx, wallet, challengeID, purpose, now); err == nil {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		_, perr := s.primary.Consume(pctx, wallet, challengeID, purpose, now)
		cancel()
		if perr != nil && !errors.Is(perr, core.ErrChallengeNotFound) {
			s.logger.Warn("could not burn durable copy of challenge",
				zap.String("challenge_id", challengeID),
				zap.Error(perr),
			)
		}
		return ch, nil
	}
	if s.fallback.Contains(challengeID) {
		return nil, core.ErrChallengeNotFound
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	ch, err := s.primary.Consume(pctx, wallet, challengeID, purpose, now)
	cancel()
	if err == nil {
		return ch, nil
	}
	if errors.Is(err, core.ErrChallengeNotFound) {
		return nil, core.ErrChallengeNotFound
	}
	s.logger.Warn("durable challenge store failed on consume", zap.Error(err))
	return nil, err
}

// DeleteExpired cleans both stores; a durable failure is returned after the memory sweep
func (s *FallbackChallengeStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	n, _ := s.fallback.DeleteExpired(ctx, before)

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	m, err := s.primary.DeleteExpired(pctx, before)
	return n + m, err
}
