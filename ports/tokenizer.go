package ports

import "github.com/layer-3/sigauth/core"

// Tokenizer issues and verifies signed session tokens
type Tokenizer interface {
	IssueAccessToken(wallet string, role core.Role) (core.IssuedToken, error)
	IssueRefreshToken(wallet string, role core.Role) (core.IssuedToken, error)

	// VerifyToken returns false on any structural or cryptographic failure,
	// including a type mismatch when expected is non-empty.
	VerifyToken(token string, expected core.TokenType) (core.TokenPayload, bool)
}
