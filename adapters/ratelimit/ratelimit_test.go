package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/layer-3/sigauth/internal/clock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(start)
	l := NewMemoryLimiter(3, time.Minute, clk)

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		clk.Advance(10 * time.Second)
	}
	ok, _ := l.Allow(ctx, "a")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok, "keys are independent")

	// first hit leaves the window
	clk.Advance(31 * time.Second)
	ok, _ = l.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "a")
	assert.False(t, ok)
}

func TestMemoryLimiter_EvictsStaleKeys(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(start)
	l := NewMemoryLimiter(5, time.Minute, clk)

	for _, k := range []string{"a", "b", "c"} {
		_, _ = l.Allow(ctx, k)
	}
	assert.Equal(t, 3, l.Keys())

	clk.Advance(2 * time.Minute)
	_, _ = l.Allow(ctx, "d")
	assert.Equal(t, 1, l.Keys())
}

func TestRedisLimiter(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	clk := clock.NewFake(start)
	l := NewRedisLimiter(client, 2, time.Minute, clk, nil)

	ok, err := l.Allow(ctx, "w|ip")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "w|ip")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "w|ip")
	assert.False(t, ok)

	clk.Advance(61 * time.Second)
	ok, _ = l.Allow(ctx, "w|ip")
	assert.True(t, ok)
}

func TestRedisLimiter_FallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	l := NewRedisLimiter(client, 1, time.Minute, clock.NewFake(start), nil)
	ok, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	assert.False(t, ok)
}
