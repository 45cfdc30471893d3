package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/sigauth/adapters/store"
	"github.com/layer-3/sigauth/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lockedWallet = "0x52908400098527886e0f7030069857d2e4169ee7"

func TestResolveLockedRole(t *testing.T) {
	ctx := context.Background()
	r := NewRoleResolver(store.NewMemoryRoleStore(), nil, time.Second)

	_, ok, err := r.GetLockedRole(ctx, lockedWallet)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.ResolveLockedRole(ctx, lockedWallet, "")
	assert.ErrorIs(t, err, core.ErrRoleSelectionRequired)

	role, err := r.ResolveLockedRole(ctx, lockedWallet, core.RoleCreator)
	require.NoError(t, err)
	assert.Equal(t, core.RoleCreator, role)

	role, err = r.ResolveLockedRole(ctx, lockedWallet, core.RoleTrader)
	require.NoError(t, err)
	assert.Equal(t, core.RoleCreator, role, "existing role wins")

	role, ok, err = r.GetLockedRole(ctx, lockedWallet)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, core.RoleCreator, role)
}

func TestResolveLockedRole_ConcurrentFirstLogin(t *testing.T) {
	ctx := context.Background()
	r := NewRoleResolver(store.NewMemoryRoleStore(), nil, time.Second)

	results := make([]core.Role, 10)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			desired := core.RoleTrader
			if i%2 == 1 {
				desired = core.RoleCreator
			}
			role, err := r.ResolveLockedRole(ctx, lockedWallet, desired)
			assert.NoError(t, err)
			results[i] = role
		}(i)
	}
	wg.Wait()
	for _, role := range results {
		assert.Equal(t, results[0], role)
	}
}

func TestRevalidateRole(t *testing.T) {
	ctx := context.Background()
	r := NewRoleResolver(store.NewMemoryRoleStore(), nil, time.Second)

	check, err := r.RevalidateRole(ctx, lockedWallet, core.RoleCreator)
	require.NoError(t, err)
	assert.Equal(t, core.RoleCheck{Role: core.RoleCreator}, check, "no stored role keeps the claim")

	_, err = r.ResolveLockedRole(ctx, lockedWallet, core.RoleTrader)
	require.NoError(t, err)

	check, err = r.RevalidateRole(ctx, lockedWallet, core.RoleCreator)
	require.NoError(t, err)
	assert.Equal(t, core.RoleCheck{Role: core.RoleTrader, Changed: true}, check)

	check, err = r.RevalidateRole(ctx, lockedWallet, core.RoleTrader)
	require.NoError(t, err)
	assert.False(t, check.Changed)
}

func TestRoleResolver_StoreDown(t *testing.T) {
	ctx := context.Background()
	r := NewRoleResolver(failingRoleStore{}, nil, time.Second)

	_, _, err := r.GetLockedRole(ctx, lockedWallet)
	assert.ErrorIs(t, err, core.ErrStorageUnavailable)

	check, err := r.RevalidateRole(ctx, lockedWallet, core.RoleTrader)
	assert.ErrorIs(t, err, core.ErrStorageUnavailable)
	assert.Equal(t, core.RoleTrader, check.Role)

	ok, err := r.HasRole(ctx, lockedWallet, core.RoleTrader)
	assert.Error(t, err)
	assert.False(t, ok)
}
