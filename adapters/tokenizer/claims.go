package tokenizer

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/sigauth/core"
)

// SessionClaims combines standard claims with the wallet session fields
type SessionClaims struct {
	jwt.RegisteredClaims
	Wallet    string         `json:"wallet"`
	Role      core.Role      `json:"role"`
	TokenType core.TokenType `json:"tokenType"`
}
