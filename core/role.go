package core

import "strings"

// Role is the immutable role locked to a wallet on first login.
type Role string

const (
	RoleTrader  Role = "TRADER"
	RoleCreator Role = "CREATOR"
)

// AllRoles lists every selectable role in display order.
var AllRoles = []Role{RoleTrader, RoleCreator}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleTrader:
		return RoleTrader, nil
	case RoleCreator:
		return RoleCreator, nil
	default:
		return "", ErrInvalidRole
	}
}

// Valid reports whether r is one of the closed set of roles.
func (r Role) Valid() bool {
	switch r {
	case RoleTrader, RoleCreator:
		return true
	default:
		return false
	}
}

// Satisfies reports whether a holder of r may perform an action that
// requires the given role. Roles are disjoint: neither implies the other.
func (r Role) Satisfies(required Role) bool {
	switch required {
	case RoleTrader:
		return r == RoleTrader
	case RoleCreator:
		return r == RoleCreator
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }

// UnmarshalText rejects unknown roles at decode time.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
