package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/sigauth/core"
	"github.com/layer-3/sigauth/internal/clock"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	// MinSecretLength is the shortest HMAC secret the tokenizer accepts
	MinSecretLength = 32
)

var ErrWeakSecret = errors.New("jwt secret must be at least 32 characters")

// Config configures a JWTTokenizer
type Config struct {
	Secret     string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Clock      clock.Clock
}

// JWTTokenizer implements the Tokenizer interface using HS256 JWTs
type JWTTokenizer struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      clock.Clock
	parser     *jwt.Parser
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(cfg Config) (*JWTTokenizer, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, fmt.Errorf("jwt issuer and audience are required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	t := &JWTTokenizer{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		clock:      cfg.Clock,
	}
	t.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(cfg.Clock.Now),
	)
	return t, nil
}

// AccessTTL returns the access token lifetime
func (j *JWTTokenizer) AccessTTL() time.Duration { return j.accessTTL }

// RefreshTTL returns the refresh token lifetime
func (j *JWTTokenizer) RefreshTTL() time.Duration { return j.refreshTTL }

// IssueAccessToken signs a short-lived access token
func (j *JWTTokenizer) IssueAccessToken(wallet string, role core.Role) (core.IssuedToken, error) {
	return j.issue(wallet, role, core.TokenTypeAccess, j.accessTTL)
}

// IssueRefreshToken signs a long-lived refresh token
func (j *JWTTokenizer) IssueRefreshToken(wallet string, role core.Role) (core.IssuedToken, error) {
	return j.issue(wallet, role, core.TokenTypeRefresh, j.refreshTTL)
}

func (j *JWTTokenizer) issue(wallet string, role core.Role, tokenType core.TokenType, ttl time.Duration) (core.IssuedToken, error) {
	normalized, err := core.NormalizeAddress(wallet)
	if err != nil {
		return core.IssuedToken{}, err
	}
	if !role.Valid() {
		return core.IssuedToken{}, core.ErrInvalidRole
	}

	now := j.clock.Now()
	expiresAt := now.Add(ttl)
	jti := uuid.NewString()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   normalized,
			Audience:  jwt.ClaimStrings{j.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
		Wallet:    normalized,
		Role:      role,
		TokenType: tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return core.IssuedToken{}, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return core.IssuedToken{Token: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}

// VerifyToken parses and validates a session token
func (j *JWTTokenizer) VerifyToken(tokenStr string, expected core.TokenType) (core.TokenPayload, bool) {
	if tokenStr == "" {
		return core.TokenPayload{}, false
	}

	token, err := j.parser.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil || !token.Valid {
		return core.TokenPayload{}, false
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return core.TokenPayload{}, false
	}

	// Claim shape
	wallet, err := core.NormalizeAddress(claims.Wallet)
	if err != nil || wallet != claims.Wallet || claims.Subject != claims.Wallet {
		return core.TokenPayload{}, false
	}
	if !claims.Role.Valid() || !claims.TokenType.Valid() || claims.ID == "" || claims.IssuedAt == nil {
		return core.TokenPayload{}, false
	}
	if expected != "" && claims.TokenType != expected {
		return core.TokenPayload{}, false
	}

	return core.TokenPayload{
		Wallet:    claims.Wallet,
		Role:      claims.Role,
		TokenType: claims.TokenType,
		JTI:       claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		Issuer:    claims.Issuer,
		Audience:  claims.Audience,
	}, true
}
