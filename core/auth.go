package core

import "time"

// Purpose binds a challenge to the action it authorizes.
type Purpose string

const (
	// PurposeLogin is the purpose of challenges redeemed at /auth/login.
	PurposeLogin Purpose = "login"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeLogin:
		return true
	default:
		return false
	}
}

// Challenge represents an outstanding sign-in challenge
type Challenge struct {
	ID         string     // Globally unique challenge identifier
	Wallet     string     // Normalized (lowercase) wallet address
	Purpose    Purpose    // Action the challenge authorizes
	Nonce      string     // Random value embedded in the message
	ChainID    int64      // Chain binding, 0 when unbound
	Domain     string     // Origin binding, empty when unbound
	CreatedAt  time.Time  // Issuance time, millisecond precision
	ExpiresAt  time.Time  // CreatedAt + challenge TTL
	ConsumedAt *time.Time // Set exactly once by a successful consume

	// AppName heads the message. Stores do not persist it; the challenge
	// service sets it on every challenge it returns.
	AppName string
}

// Message rebuilds the text the wallet is asked to sign.
func (c *Challenge) Message() string {
	return BuildChallengeMessage(c)
}

// Expired reports whether the challenge can no longer be consumed at now.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Session is the durable record of a wallet's current refresh token fingerprint
type Session struct {
	Wallet           string
	Role             Role
	RefreshTokenHash string
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Active reports whether the session is usable at now.
func (s *Session) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	switch t {
	case TokenTypeAccess, TokenTypeRefresh:
		return true
	default:
		return false
	}
}

// TokenPayload is the verified content of a session token.
type TokenPayload struct {
	Wallet    string
	Role      Role
	TokenType TokenType
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
	Audience  []string
}

// IssuedToken is a freshly signed token with its expiry.
type IssuedToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// Identity is the authenticated caller handed to downstream handlers.
type Identity struct {
	Wallet string
	Role   Role
}

// VerifyResult is the outcome of a signature check.
type VerifyResult struct {
	Valid     bool
	Recovered string // Recovered signer address, lowercase; empty if recovery failed
	Err       error
}

// RoleCheck reports a re-read of a wallet's locked role against a claimed one.
type RoleCheck struct {
	Role    Role
	Changed bool
}
