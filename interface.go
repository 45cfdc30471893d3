// Package sigauth is the contract other services use to consume wallet
// authentication verdicts.
package sigauth

import (
	"context"

	"github.com/layer-3/sigauth/core"
)

// Authenticator is implemented by service.AuthService
type Authenticator interface {
	// VerifyBearer verifies an access token and returns the wallet and role it carries
	VerifyBearer(token string) (core.Identity, error)

	// HasRole reports whether the wallet's locked role satisfies role.
	// It answers false when the role cannot be read.
	HasRole(ctx context.Context, wallet string, role core.Role) bool
}

// Identity is the authenticated caller
type Identity = core.Identity

// Role is a wallet's locked role
type Role = core.Role

const (
	RoleTrader  = core.RoleTrader
	RoleCreator = core.RoleCreator
)
