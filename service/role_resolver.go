package service

import (
	"context"
	"errors"
	"time"

	"github.com/layer-3/sigauth/core"
	"github.com/layer-3/sigauth/internal/clock"
	"github.com/layer-3/sigauth/ports"
)

// RoleResolver reads and locks the write-once role of each wallet
type RoleResolver struct {
	store        ports.RoleStore
	clock        clock.Clock
	storeTimeout time.Duration
}

// NewRoleResolver creates a new role resolver
func NewRoleResolver(store ports.RoleStore, clk clock.Clock, storeTimeout time.Duration) *RoleResolver {
	if clk == nil {
		clk = clock.Real()
	}
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	return &RoleResolver{store: store, clock: clk, storeTimeout: storeTimeout}
}

// GetLockedRole returns the wallet's role and whether it has one
func (r *RoleResolver) GetLockedRole(ctx context.Context, wallet string) (core.Role, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	role, err := r.store.Get(ctx, wallet)
	if errors.Is(err, core.ErrRoleNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return role, true, nil
}

// ResolveLockedRole returns the existing role, or locks desired when there is none.
// Concurrent first logins all receive the winner's role.
func (r *RoleResolver) ResolveLockedRole(ctx context.Context, wallet string, desired core.Role) (core.Role, error) {
	role, ok, err := r.GetLockedRole(ctx, wallet)
	if err != nil {
		return "", err
	}
	if ok {
		return role, nil
	}
	if desired == "" {
		return "", core.ErrRoleSelectionRequired
	}
	if !desired.Valid() {
		return "", core.ErrInvalidRole
	}

	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	return r.store.PutIfAbsent(ctx, wallet, desired, r.clock.Now())
}

// RevalidateRole compares the stored role with one embedded in a token.
// A wallet without a stored role keeps the claimed one.
func (r *RoleResolver) RevalidateRole(ctx context.Context, wallet string, claimed core.Role) (core.RoleCheck, error) {
	role, ok, err := r.GetLockedRole(ctx, wallet)
	if err != nil {
		return core.RoleCheck{Role: claimed}, err
	}
	if !ok || role == claimed {
		return core.RoleCheck{Role: claimed}, nil
	}
	return core.RoleCheck{Role: role, Changed: true}, nil
}

// HasRole reports whether the wallet's stored role satisfies role
func (r *RoleResolver) HasRole(ctx context.Context, wallet string, role core.Role) (bool, error) {
	current, ok, err := r.GetLockedRole(ctx, wallet)
	if err != nil || !ok {
		return false, err
	}
	return current.Satisfies(role), nil
}
