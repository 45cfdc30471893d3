package signature

import (
	"container/list"
	"sync"
	"time"

	"github.com/layer-3/sigauth/core"
)

// ReplayGuard remembers consumed message keys until they expire.
// It is process-local; multiple instances do not share it.
type ReplayGuard struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
}

type replayEntry struct {
	key       string
	expiresAt time.Time
}

// NewReplayGuard creates a guard holding at most capacity keys
func NewReplayGuard(capacity int) *ReplayGuard {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}
	return &ReplayGuard{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Mark records key as used until expiresAt. It returns ErrReplayedMessage if
// the key is already marked and not yet expired, and ErrStoreFull when every
// slot holds an unexpired key.
func (g *ReplayGuard) Mark(key string, expiresAt, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if el, ok := g.entries[key]; ok {
		if now.Before(el.Value.(*replayEntry).expiresAt) {
			return core.ErrReplayedMessage
		}
		g.order.Remove(el)
		delete(g.entries, key)
	}

	if g.order.Len() >= g.capacity {
		g.sweepLocked(now)
		if g.order.Len() >= g.capacity {
			return core.ErrStoreFull
		}
	}

	g.entries[key] = g.order.PushBack(&replayEntry{key: key, expiresAt: expiresAt})
	return nil
}

// sweepLocked drops every expired key. Keys are appended in arrival order but
// may carry different expiries, so the whole list is walked.
func (g *ReplayGuard) sweepLocked(now time.Time) {
	for el := g.order.Front(); el != nil; {
		next := el.Next()
		entry := el.Value.(*replayEntry)
		if !now.Before(entry.expiresAt) {
			g.order.Remove(el)
			delete(g.entries, entry.key)
		}
		el = next
	}
}

// Len returns the number of remembered keys
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.order.Len()
}
