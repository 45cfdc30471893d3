package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/layer-3/sigauth/core"
	"github.com/layer-3/sigauth/internal/clock"
	"github.com/layer-3/sigauth/internal/metrics"
	"github.com/layer-3/sigauth/ports"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxMessageAge = 5 * time.Minute

// AuthConfig tunes the login flow
type AuthConfig struct {
	// LegacyMessages accepts timestamped messages without a challenge id
	LegacyMessages bool
	MaxMessageAge  time.Duration
	// TrustDesiredOnFailure honors the requested role when the role store is down
	TrustDesiredOnFailure bool
	StoreTimeout          time.Duration
	SessionHashKey        []byte
}

// Deps groups the collaborators of AuthService
type Deps struct {
	Challenges *ChallengeService
	Roles      *RoleResolver
	Verifier   ports.SignatureVerifier
	Tokens     ports.Tokenizer
	Sessions   ports.SessionStore
	Limiter    ports.RateLimiter
	Events     ports.EventPublisher
	Clock      clock.Clock
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// AuthService handles authentication business logic
type AuthService struct {
	challenges *ChallengeService
	roles      *RoleResolver
	verifier   ports.SignatureVerifier
	tokens     ports.Tokenizer
	sessions   ports.SessionStore
	limiter    ports.RateLimiter
	events     ports.EventPublisher
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics

	cfg AuthConfig
}

// ChallengeRequest asks for a new login challenge
type ChallengeRequest struct {
	Wallet   string
	ChainID  int64
	Domain   string
	ClientIP string
}

// LoginRequest carries a signed challenge
type LoginRequest struct {
	Wallet      string
	Signature   string
	ChallengeID string
	Message     string
	DesiredRole string
}

// LoginResult is the outcome of a successful login
type LoginResult struct {
	Wallet       string
	Role         core.Role
	RoleLocked   bool
	AccessToken  core.IssuedToken
	RefreshToken core.IssuedToken
	// SessionPersisted is false when the session row could not be written;
	// the refresh token will then be rejected.
	SessionPersisted bool
}

// RefreshResult is the outcome of a successful refresh
type RefreshResult struct {
	Wallet       string
	Role         core.Role
	RoleChanged  bool
	AccessToken  core.IssuedToken
	RefreshToken core.IssuedToken
}

// VerifyOutcome is the outcome of a token check with optional role revalidation
type VerifyOutcome struct {
	Identity    core.Identity
	RoleChanged bool
	// AccessToken is set only when RoleChanged
	AccessToken *core.IssuedToken
}

// NewAuthService creates a new authentication service
func NewAuthService(deps Deps, cfg AuthConfig) *AuthService {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.MaxMessageAge <= 0 {
		cfg.MaxMessageAge = DefaultMaxMessageAge
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	return &AuthService{
		challenges: deps.Challenges,
		roles:      deps.Roles,
		verifier:   deps.Verifier,
		tokens:     deps.Tokens,
		sessions:   deps.Sessions,
		limiter:    deps.Limiter,
		events:     deps.Events,
		clock:      deps.Clock,
		logger:     deps.Logger.Named("auth"),
		metrics:    deps.Metrics,
		cfg:        cfg,
	}
}

// IssueChallenge rate limits by wallet and client IP, then creates a login challenge
func (s *AuthService) IssueChallenge(ctx context.Context, req ChallengeRequest) (*core.Challenge, error) {
	wallet, err := core.NormalizeAddress(req.Wallet)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, wallet+"|"+req.ClientIP)
		if err != nil {
			s.logger.Warn("rate limiter failed", zap.Error(err))
		} else if !allowed {
			s.metrics.RateLimited()
			return nil, core.ErrRateLimited
		}
	}

	return s.challenges.CreateChallenge(ctx, wallet, core.PurposeLogin, req.ChainID, req.Domain)
}

// Login verifies a signed challenge, locks the wallet's role and opens a session
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	res, err := s.login(ctx, req)
	if err != nil {
		s.metrics.Login("failure")
		return nil, err
	}
	s.metrics.Login("success")
	return res, nil
}

func (s *AuthService) login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	wallet, err := core.NormalizeAddress(req.Wallet)
	if err != nil {
		return nil, err
	}

	var desired core.Role
	if strings.TrimSpace(req.DesiredRole) != "" {
		if desired, err = core.ParseRole(req.DesiredRole); err != nil {
			return nil, err
		}
	}

	// Without a desired role the wallet must already have one. Checked
	// before the challenge is consumed so the client can retry with a role.
	var locked core.Role
	if desired == "" {
		role, ok, err := s.roles.GetLockedRole(ctx, wallet)
		if err != nil {
			s.metrics.StorageFailure("get_role")
			return nil, fmt.Errorf("failed to read role: %w", err)
		}
		if !ok {
			return nil, core.ErrRoleSelectionRequired
		}
		locked = role
	}

	if err := s.verifySignature(ctx, wallet, req); err != nil {
		return nil, err
	}

	role, roleLocked := locked, locked != ""
	if role == "" {
		role, err = s.roles.ResolveLockedRole(ctx, wallet, desired)
		switch {
		case err == nil:
			roleLocked = true
		case errors.Is(err, core.ErrStorageUnavailable) && s.cfg.TrustDesiredOnFailure:
			s.metrics.StorageFailure("resolve_role")
			s.logger.Warn("role store unavailable, honoring desired role",
				zap.String("wallet", wallet),
				zap.Stringer("role", desired),
				zap.Error(err),
			)
			role = desired
		default:
			return nil, fmt.Errorf("failed to resolve role: %w", err)
		}
	}

	access, err := s.tokens.IssueAccessToken(wallet, role)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefreshToken(wallet, role)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	now := s.clock.Now()
	session := &core.Session{
		Wallet:           wallet,
		Role:             role,
		RefreshTokenHash: fingerprint(s.cfg.SessionHashKey, refresh.Token),
		ExpiresAt:        refresh.ExpiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	persisted := true
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	err = s.sessions.Record(sctx, session)
	cancel()
	if err != nil {
		persisted = false
		s.metrics.StorageFailure("record_session")
		s.logger.Error("failed to record session", zap.String("wallet", wallet), zap.Error(err))
	}

	s.publish("login", func() error { return s.events.PublishLogin(ctx, wallet, role.String()) })
	s.logger.Info("login", zap.String("wallet", wallet), zap.Stringer("role", role), zap.Bool("role_locked", roleLocked))

	return &LoginResult{
		Wallet:           wallet,
		Role:             role,
		RoleLocked:       roleLocked,
		AccessToken:      access,
		RefreshToken:     refresh,
		SessionPersisted: persisted,
	}, nil
}

// verifySignature redeems the challenge, or checks a legacy timestamped message
func (s *AuthService) verifySignature(ctx context.Context, wallet string, req LoginRequest) error {
	var result core.VerifyResult
	switch {
	case req.ChallengeID != "":
		challenge, err := s.challenges.ConsumeChallenge(ctx, wallet, req.ChallengeID, core.PurposeLogin)
		if err != nil {
			return err
		}
		result = s.verifier.Verify(challenge.Message(), req.Signature, wallet)
	case req.Message != "" && s.cfg.LegacyMessages:
		if addr, ok := core.MessageFields(req.Message)[core.FieldAddress]; ok && !strings.EqualFold(addr, wallet) {
			return core.ErrSignatureMismatch
		}
		result = s.verifier.VerifyWithFreshness(req.Message, req.Signature, wallet, s.cfg.MaxMessageAge)
	default:
		return fmt.Errorf("%w: challengeId is required", core.ErrInvalidRequest)
	}

	if !result.Valid {
		if result.Err != nil {
			return result.Err
		}
		return core.ErrSignatureMismatch
	}
	return nil
}

// Refresh rotates the refresh token and issues new access and refresh tokens
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	res, err := s.refresh(ctx, refreshToken)
	if err != nil {
		s.metrics.Refresh("failure")
		return nil, err
	}
	s.metrics.Refresh("success")
	return res, nil
}

func (s *AuthService) refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	payload, ok := s.tokens.VerifyToken(refreshToken, core.TokenTypeRefresh)
	if !ok {
		return nil, core.ErrInvalidToken
	}
	wallet := payload.Wallet
	oldHash := fingerprint(s.cfg.SessionHashKey, refreshToken)
	now := s.clock.Now()

	var (
		active  bool
		check   core.RoleCheck
		roleErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sctx, cancel := context.WithTimeout(gctx, s.cfg.StoreTimeout)
		defer cancel()
		var err error
		active, err = s.sessions.FindActive(sctx, wallet, oldHash, now)
		return err
	})
	g.Go(func() error {
		check, roleErr = s.roles.RevalidateRole(gctx, wallet, payload.Role)
		return nil
	})
	if err := g.Wait(); err != nil {
		s.metrics.StorageFailure("find_session")
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if !active {
		return nil, core.ErrSessionInvalid
	}

	role := payload.Role
	if roleErr != nil {
		s.metrics.StorageFailure("revalidate_role")
		s.logger.Warn("role revalidation failed, keeping claimed role", zap.String("wallet", wallet), zap.Error(roleErr))
	} else if check.Changed {
		role = check.Role
	}
	changed := role != payload.Role

	access, err := s.tokens.IssueAccessToken(wallet, role)
	if err != nil {
		return nil, fmt.Errorf("failed to create new access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefreshToken(wallet, role)
	if err != nil {
		return nil, fmt.Errorf("failed to create new refresh token: %w", err)
	}

	next := &core.Session{
		Wallet:           wallet,
		Role:             role,
		RefreshTokenHash: fingerprint(s.cfg.SessionHashKey, refresh.Token),
		ExpiresAt:        refresh.ExpiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	rotated, err := s.sessions.Rotate(sctx, wallet, oldHash, next)
	cancel()
	if err != nil {
		s.metrics.StorageFailure("rotate_session")
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}
	if !rotated {
		return nil, core.ErrSessionInvalid
	}

	s.publish("refresh", func() error { return s.events.PublishRefresh(ctx, wallet, role.String()) })

	return &RefreshResult{
		Wallet:       wallet,
		Role:         role,
		RoleChanged:  changed,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// Verify reports the caller's identity, reissuing the access token when the
// stored role differs from the one in the token
func (s *AuthService) Verify(ctx context.Context, identity core.Identity, revalidate bool) (*VerifyOutcome, error) {
	out := &VerifyOutcome{Identity: identity}
	if !revalidate {
		return out, nil
	}

	check, err := s.roles.RevalidateRole(ctx, identity.Wallet, identity.Role)
	if err != nil {
		s.metrics.StorageFailure("revalidate_role")
		s.logger.Warn("role revalidation failed", zap.String("wallet", identity.Wallet), zap.Error(err))
		return out, nil
	}
	if !check.Changed {
		return out, nil
	}

	access, err := s.tokens.IssueAccessToken(identity.Wallet, check.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}
	out.Identity.Role = check.Role
	out.RoleChanged = true
	out.AccessToken = &access
	return out, nil
}

// Logout revokes the wallet's session. It never fails from the caller's view.
func (s *AuthService) Logout(ctx context.Context, identity core.Identity) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	err := s.sessions.Revoke(sctx, identity.Wallet)
	cancel()
	if err != nil {
		s.metrics.StorageFailure("revoke_session")
		s.logger.Error("failed to revoke session", zap.String("wallet", identity.Wallet), zap.Error(err))
	}
	s.metrics.Logout()
	s.publish("logout", func() error { return s.events.PublishLogout(ctx, identity.Wallet) })
}

// VerifyBearer verifies an access token and returns its identity
func (s *AuthService) VerifyBearer(token string) (core.Identity, error) {
	payload, ok := s.tokens.VerifyToken(token, core.TokenTypeAccess)
	if !ok {
		return core.Identity{}, core.ErrInvalidToken
	}
	return core.Identity{Wallet: payload.Wallet, Role: payload.Role}, nil
}

// AuthenticateBearer verifies the token in an Authorization header value
func (s *AuthService) AuthenticateBearer(header string) (core.Identity, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return core.Identity{}, core.ErrInvalidToken
	}
	return s.VerifyBearer(strings.TrimSpace(token))
}

// RequireRole returns a *core.RoleRequiredError unless identity satisfies role
func (s *AuthService) RequireRole(identity core.Identity, role core.Role) error {
	if !identity.Role.Satisfies(role) {
		return &core.RoleRequiredError{Required: role, Current: identity.Role}
	}
	return nil
}

// HasRole reports whether the wallet's stored role satisfies role.
// Store failures answer false.
func (s *AuthService) HasRole(ctx context.Context, wallet string, role core.Role) bool {
	addr, err := core.NormalizeAddress(wallet)
	if err != nil {
		return false
	}
	ok, err := s.roles.HasRole(ctx, addr, role)
	if err != nil {
		s.logger.Warn("role lookup failed", zap.String("wallet", addr), zap.Error(err))
		return false
	}
	return ok
}

func (s *AuthService) publish(event string, fn func() error) {
	if s.events == nil {
		return
	}
	if err := fn(); err != nil {
		s.logger.Warn("failed to publish event", zap.String("event", event), zap.Error(err))
	}
}
