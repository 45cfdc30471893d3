// Package ratelimit provides sliding-window limiters for challenge issuance
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/sigauth/internal/clock"
)

const (
	DefaultLimit  = 20
	DefaultWindow = time.Minute
)

// MemoryLimiter is a process-local sliding-window limiter
type MemoryLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	clock     clock.Clock
	hits      map[string][]time.Time
	lastSweep time.Time
}

// NewMemoryLimiter allows limit events per key within window
func NewMemoryLimiter(limit int, window time.Duration, clk clock.Clock) *MemoryLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		clock:  clk,
		hits:   make(map[string][]time.Time),
	}
}

// Allow records an event for key and reports whether it is within the limit
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		l.sweepLocked(cutoff)
		l.lastSweep = now
	}

	hits := trim(l.hits[key], cutoff)
	if len(hits) >= l.limit {
		l.hits[key] = hits
		return false, nil
	}
	l.hits[key] = append(hits, now)
	return true, nil
}

func (l *MemoryLimiter) sweepLocked(cutoff time.Time) {
	for key, hits := range l.hits {
		if hits = trim(hits, cutoff); len(hits) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = hits
		}
	}
}

// Keys returns the number of tracked keys
func (l *MemoryLimiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// trim drops timestamps at or before cutoff; hits are in ascending order
func trim(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
