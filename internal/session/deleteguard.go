package session

import (
	"sync"
	"time"
)

// DeleteGuard remembers ids this session deleted, for a short TTL. A remote
// insert or update for a guarded id is ignored so a stale event can never
// resurrect an entity the user just removed; the matching remote delete event
// confirms the removal and retires the entry.
type DeleteGuard struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

// NewDeleteGuard creates a guard with the given entry TTL.
func NewDeleteGuard(ttl time.Duration) *DeleteGuard {
	return &DeleteGuard{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

// MarkDeleted records a local delete.
func (g *DeleteGuard) MarkDeleted(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[id] = g.now().Add(g.ttl)
}

// RecentlyDeleted reports whether the id is still guarded. Expired entries
// are pruned on the way.
func (g *DeleteGuard) RecentlyDeleted(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	deadline, ok := g.entries[id]
	if !ok {
		return false
	}
	if g.now().After(deadline) {
		delete(g.entries, id)
		return false
	}
	return true
}

// Confirm retires an entry once the remote delete event has arrived.
func (g *DeleteGuard) Confirm(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, id)
}
