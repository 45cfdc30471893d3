package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/layer-3/sigauth/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenStore fails every call with a storage error
type brokenStore struct{}

var errBroken = core.Unavailable("broken", errors.New("down"))

func (brokenStore) Create(context.Context, *core.Challenge) error { return errBroken }
func (brokenStore) Consume(context.Context, string, string, core.Purpose, time.Time) (*core.Challenge, error) {
	return nil, errBroken
}
func (brokenStore) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, errBroken }

// lostReplyStore commits every write but reports a timeout, like a reply
// lost after the transaction committed
type lostReplyStore struct {
	*MemoryChallengeStore
}

func (s lostReplyStore) Create(ctx context.Context, challenge *core.Challenge) error {
	if err := s.MemoryChallengeStore.Create(ctx, challenge); err != nil {
		return err
	}
	return core.Unavailable("create challenge", context.DeadlineExceeded)
}

func TestFallbackChallengeStore_PrimaryHealthy(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryChallengeStore(10)
	mem := NewMemoryChallengeStore(10)
	s := NewFallbackChallengeStore(primary, mem, time.Second, nil)

	require.NoError(t, s.Create(ctx, newChallenge("c1")))
	assert.Equal(t, 1, primary.Len())
	assert.Equal(t, 0, mem.Len())

	_, err := s.Consume(ctx, testWallet, "c1", core.PurposeLogin, t0)
	require.NoError(t, err)
	_, err = s.Consume(ctx, testWallet, "c1", core.PurposeLogin, t0)
	assert.ErrorIs(t, err, core.ErrChallengeNotFound)
}

func TestFallbackChallengeStore_PrimaryDown(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryChallengeStore(10)
	s := NewFallbackChallengeStore(brokenStore{}, mem, time.Second, nil)

	require.NoError(t, s.Create(ctx, newChallenge("c1")))
	assert.Equal(t, 1, mem.Len())

	_, err := s.Consume(ctx, testWallet, "c1", core.PurposeLogin, t0)
	require.NoError(t, err)

	// unknown to memory while the backend is down: report the outage
	_, err = s.Consume(ctx, testWallet, "c2", core.PurposeLogin, t0)
	assert.ErrorIs(t, err, core.ErrStorageUnavailable)

	_, err = s.DeleteExpired(ctx, t0)
	assert.ErrorIs(t, err, core.ErrStorageUnavailable)
}

func TestFallbackChallengeStore_ConsumeFromMemoryAfterRecovery(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryChallengeStore(10)
	mem := NewMemoryChallengeStore(10)
	require.NoError(t, mem.Create(ctx, newChallenge("c1")))
	s := NewFallbackChallengeStore(primary, mem, time.Second, nil)

	_, err := s.Consume(ctx, testWallet, "c1", core.PurposeLogin, t0)
	assert.NoError(t, err)
}

func TestFallbackChallengeStore_AmbiguousCreateConsumesOnce(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryChallengeStore(10)
	mem := NewMemoryChallengeStore(10)
	s := NewFallbackChallengeStore(lostReplyStore{primary}, mem, time.Second, nil)

	require.NoError(t, s.Create(ctx, newChallenge("c1")))
	require.Equal(t, 1, primary.Len())
	require.Equal(t, 1, mem.Len())

	wins := 0
	for i := 0; i < 3; i++ {
		if _, err := s.Consume(ctx, testWallet, "c1", core.PurposeLogin, t0); err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, core.ErrChallengeNotFound)
		}
	}
	assert.Equal(t, 1, wins)

	// the durable copy was burned too
	_, err := primary.Consume(ctx, testWallet, "c1", core.PurposeLogin, t0)
	assert.ErrorIs(t, err, core.ErrChallengeNotFound)
}

func TestFallbackChallengeStore_ConcurrentConsumeAfterAmbiguousCreate(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryChallengeStore(10)
	s := NewFallbackChallengeStore(lostReplyStore{primary}, NewMemoryChallengeStore(10), time.Second, nil)
	require.NoError(t, s.Create(ctx, newChallenge("c1")))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Consume(ctx, testWallet, "c1", core.PurposeLogin, t0); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
