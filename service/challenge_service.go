package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/layer-3/sigauth/core"
	"github.com/layer-3/sigauth/internal/clock"
	"github.com/layer-3/sigauth/internal/metrics"
	"github.com/layer-3/sigauth/ports"
	"go.uber.org/zap"
)

const (
	DefaultChallengeTTL    = 5 * time.Minute
	DefaultCleanupInterval = time.Minute
	DefaultStoreTimeout    = 2 * time.Second

	nonceBytes      = 16
	maxDomainLength = 253
)

// ChallengeConfig tunes challenge issuance
type ChallengeConfig struct {
	AppName         string
	TTL             time.Duration
	CleanupInterval time.Duration
	StoreTimeout    time.Duration
}

// ChallengeService issues and redeems single-use sign-in challenges
type ChallengeService struct {
	store   ports.ChallengeStore
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics

	appName         string
	ttl             time.Duration
	cleanupInterval time.Duration
	storeTimeout    time.Duration
	lastCleanup     atomic.Int64
}

// NewChallengeService creates a new challenge service
func NewChallengeService(store ports.ChallengeStore, cfg ChallengeConfig, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) *ChallengeService {
	if cfg.AppName == "" {
		cfg.AppName = core.DefaultAppName
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultChallengeTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChallengeService{
		store:           store,
		clock:           clk,
		logger:          logger.Named("challenge"),
		metrics:         m,
		appName:         cfg.AppName,
		ttl:             cfg.TTL,
		cleanupInterval: cfg.CleanupInterval,
		storeTimeout:    cfg.StoreTimeout,
	}
}

// CreateChallenge generates and stores a new challenge for wallet
func (s *ChallengeService) CreateChallenge(ctx context.Context, wallet string, purpose core.Purpose, chainID int64, domain string) (*core.Challenge, error) {
	addr, err := core.NormalizeAddress(wallet)
	if err != nil {
		return nil, err
	}
	if !purpose.Valid() {
		return nil, core.ErrInvalidPurpose
	}
	if chainID < 0 {
		return nil, fmt.Errorf("%w: negative chain id", core.ErrInvalidRequest)
	}
	if err := validateDomain(domain); err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	challenge := &core.Challenge{
		ID:        uuid.NewString(),
		Wallet:    addr,
		Purpose:   purpose,
		Nonce:     hex.EncodeToString(nonce),
		ChainID:   chainID,
		Domain:    domain,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		AppName:   s.appName,
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.Create(sctx, challenge); err != nil {
		s.metrics.Challenge("store_error")
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	s.metrics.Challenge("issued")
	return challenge, nil
}

// ConsumeChallenge redeems a challenge exactly once
func (s *ChallengeService) ConsumeChallenge(ctx context.Context, wallet, challengeID string, purpose core.Purpose) (*core.Challenge, error) {
	addr, err := core.NormalizeAddress(wallet)
	if err != nil {
		return nil, err
	}
	if challengeID == "" || !purpose.Valid() {
		return nil, core.ErrInvalidOrExpiredChallenge
	}

	now := s.clock.Now()
	defer s.maybeCleanup(ctx, now)

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	challenge, err := s.store.Consume(sctx, addr, challengeID, purpose, now)
	if errors.Is(err, core.ErrChallengeNotFound) {
		return nil, core.ErrInvalidOrExpiredChallenge
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}
	challenge.AppName = s.appName
	return challenge, nil
}

// maybeCleanup deletes expired challenges at most once per cleanup interval
func (s *ChallengeService) maybeCleanup(ctx context.Context, now time.Time) {
	last := s.lastCleanup.Load()
	if now.UnixNano()-last < s.cleanupInterval.Nanoseconds() {
		return
	}
	if !s.lastCleanup.CompareAndSwap(last, now.UnixNano()) {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	n, err := s.store.DeleteExpired(sctx, now)
	if err != nil {
		s.logger.Debug("expired challenge cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug("expired challenges removed", zap.Int64("count", n))
	}
}

// validateDomain keeps the domain on one printable line
func validateDomain(domain string) error {
	if len(domain) > maxDomainLength {
		return fmt.Errorf("%w: domain too long", core.ErrInvalidRequest)
	}
	for _, r := range domain {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: invalid domain", core.ErrInvalidRequest)
		}
	}
	return nil
}
