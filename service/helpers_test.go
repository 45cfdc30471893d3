package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/sigauth/adapters/ratelimit"
	"github.com/layer-3/sigauth/adapters/signature"
	"github.com/layer-3/sigauth/adapters/store"
	"github.com/layer-3/sigauth/adapters/tokenizer"
	"github.com/layer-3/sigauth/core"
	"github.com/layer-3/sigauth/internal/clock"
	"github.com/layer-3/sigauth/ports"
	"github.com/stretchr/testify/require"
)

const testSecret = "service-test-secret-at-least-32-characters"

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	clk        *clock.Fake
	svc        *AuthService
	challenges *ChallengeService
	chStore    *store.MemoryChallengeStore
	roles      ports.RoleStore
	sessions   ports.SessionStore
	tokens     *tokenizer.JWTTokenizer
	key        *ecdsa.PrivateKey
	wallet     string // checksummed, as a browser wallet reports it
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	roles    ports.RoleStore
	sessions ports.SessionStore
	auth     AuthConfig
	limit    int
}

func withRoleStore(s ports.RoleStore) harnessOption {
	return func(c *harnessConfig) { c.roles = s }
}

func withSessionStore(s ports.SessionStore) harnessOption {
	return func(c *harnessConfig) { c.sessions = s }
}

func withAuthConfig(fn func(*AuthConfig)) harnessOption {
	return func(c *harnessConfig) { fn(&c.auth) }
}

func withRateLimit(n int) harnessOption {
	return func(c *harnessConfig) { c.limit = n }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{
		roles:    store.NewMemoryRoleStore(),
		sessions: store.NewMemorySessionStore(),
		auth: AuthConfig{
			TrustDesiredOnFailure: true,
			SessionHashKey:        DeriveSessionKey(testSecret),
		},
		limit: 20,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	clk := clock.NewFake(testStart)
	tokens, err := tokenizer.NewJWTTokenizer(tokenizer.Config{
		Secret:   testSecret,
		Issuer:   "sigauth",
		Audience: "sigauth-api",
		Clock:    clk,
	})
	require.NoError(t, err)

	chStore := store.NewMemoryChallengeStore(100)
	challenges := NewChallengeService(chStore, ChallengeConfig{}, clk, nil, nil)
	roles := NewRoleResolver(cfg.roles, clk, time.Second)

	svc := NewAuthService(Deps{
		Challenges: challenges,
		Roles:      roles,
		Verifier:   signature.NewEthVerifier(signature.WithClock(clk)),
		Tokens:     tokens,
		Sessions:   cfg.sessions,
		Limiter:    ratelimit.NewMemoryLimiter(cfg.limit, time.Minute, clk),
		Clock:      clk,
	}, cfg.auth)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &harness{
		clk:        clk,
		svc:        svc,
		challenges: challenges,
		chStore:    chStore,
		roles:      cfg.roles,
		sessions:   cfg.sessions,
		tokens:     tokens,
		key:        key,
		wallet:     crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
}

func (h *harness) lower() string { return strings.ToLower(h.wallet) }

func sign(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

// challenge issues a challenge and returns it with the wallet's signature over it
func (h *harness) challenge(t *testing.T) (*core.Challenge, string) {
	t.Helper()
	ch, err := h.svc.IssueChallenge(context.Background(), ChallengeRequest{Wallet: h.wallet, ClientIP: "10.0.0.1"})
	require.NoError(t, err)
	return ch, sign(t, h.key, ch.Message())
}

func (h *harness) login(t *testing.T, role string) *LoginResult {
	t.Helper()
	ch, sig := h.challenge(t)
	res, err := h.svc.Login(context.Background(), LoginRequest{
		Wallet:      h.wallet,
		Signature:   sig,
		ChallengeID: ch.ID,
		DesiredRole: role,
	})
	require.NoError(t, err)
	return res
}

var errDown = errors.New("connection refused")

// failingRoleStore fails every call
type failingRoleStore struct{}

func (failingRoleStore) Get(context.Context, string) (core.Role, error) {
	return "", core.Unavailable("get role", errDown)
}

func (failingRoleStore) PutIfAbsent(context.Context, string, core.Role, time.Time) (core.Role, error) {
	return "", core.Unavailable("put role", errDown)
}

// flakySessionStore wraps a session store and fails the selected operations
type flakySessionStore struct {
	ports.SessionStore
	failRecord, failFind, failRotate, failRevoke bool
}

func (s *flakySessionStore) Record(ctx context.Context, sess *core.Session) error {
	if s.failRecord {
		return core.Unavailable("record session", errDown)
	}
	return s.SessionStore.Record(ctx, sess)
}

func (s *flakySessionStore) FindActive(ctx context.Context, wallet, hash string, now time.Time) (bool, error) {
	if s.failFind {
		return false, core.Unavailable("find session", errDown)
	}
	return s.SessionStore.FindActive(ctx, wallet, hash, now)
}

func (s *flakySessionStore) Rotate(ctx context.Context, wallet, oldHash string, next *core.Session) (bool, error) {
	if s.failRotate {
		return false, core.Unavailable("rotate session", errDown)
	}
	return s.SessionStore.Rotate(ctx, wallet, oldHash, next)
}

func (s *flakySessionStore) Revoke(ctx context.Context, wallet string) error {
	if s.failRevoke {
		return core.Unavailable("revoke session", errDown)
	}
	return s.SessionStore.Revoke(ctx, wallet)
}
