// Package session implements the per-session synchronization layer: the
// paginated primary feed, batched reference resolution, the search/date
// overlay, the mutation coordinator and live reconciliation with the change
// feed, all over one shared entity cache.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"workshop-sync/internal/backing"
	"workshop-sync/internal/cache"
	"workshop-sync/internal/models"
	"workshop-sync/internal/util"

	"go.uber.org/zap"
)

// Scope is a feed's date window. The zero Scope is unbounded.
type Scope struct {
	Start time.Time
	End   time.Time
}

// TodayScope covers the calendar day containing now.
func TodayScope(now time.Time) Scope {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return Scope{Start: start, End: start.AddDate(0, 0, 1)}
}

// Contains reports whether t falls inside the scope.
func (s Scope) Contains(t time.Time) bool {
	if !s.Start.IsZero() && t.Before(s.Start) {
		return false
	}
	if !s.End.IsZero() && !t.Before(s.End) {
		return false
	}
	return true
}

// Bounded reports whether the scope restricts anything.
func (s Scope) Bounded() bool {
	return !s.Start.IsZero() || !s.End.IsZero()
}

// Feed is the primary request list: an ordered window over the remote table,
// newest first, extended by explicit LoadNext calls. Entities live in the
// cache; the feed only keeps their order.
type Feed struct {
	store    backing.Store
	caches   *cache.Set
	resolver *Resolver
	pageSize int
	scope    Scope
	logger   *zap.Logger

	loading atomic.Bool

	mu      sync.Mutex
	order   []string
	index   map[string]struct{}
	hasMore bool
}

// NewFeed creates an empty feed. Nothing is loaded until LoadNext.
func NewFeed(store backing.Store, caches *cache.Set, resolver *Resolver, pageSize int, scope Scope) *Feed {
	return &Feed{
		store:    store,
		caches:   caches,
		resolver: resolver,
		pageSize: pageSize,
		scope:    scope,
		logger:   util.GetLogger(),
		index:    make(map[string]struct{}),
		hasMore:  true,
	}
}

// LoadNext fetches the next page, offset by what is already loaded. It is a
// no-op while another load is in flight; callers should check Loading before
// calling again, the flag here only prevents a double fetch.
func (f *Feed) LoadNext(ctx context.Context) error {
	if !f.loading.CompareAndSwap(false, true) {
		return nil
	}
	defer f.loading.Store(false)

	start := time.Now()
	defer func() {
		util.FeedLoadLatency.Observe(time.Since(start).Seconds())
	}()

	f.mu.Lock()
	offset := len(f.order)
	f.mu.Unlock()

	opts := backing.SelectOptions{
		OrderBy:    "created_at",
		Descending: true,
		Limit:      f.pageSize,
		Offset:     offset,
	}
	if f.scope.Bounded() {
		opts.Range = &backing.TimeRange{Column: "created_at", Start: f.scope.Start, End: f.scope.End}
	}

	rows, err := f.store.Select(ctx, models.TableRequests, opts)
	if err != nil {
		return fmt.Errorf("failed to load request page: %w", err)
	}

	requests, err := backing.DecodeRows[models.Request](rows)
	if err != nil {
		return fmt.Errorf("failed to decode request page: %w", err)
	}

	f.caches.Requests.UpsertMany(requests...)

	f.mu.Lock()
	for _, req := range requests {
		if _, ok := f.index[req.ID]; ok {
			continue
		}
		f.index[req.ID] = struct{}{}
		f.order = append(f.order, req.ID)
	}
	f.hasMore = len(requests) == f.pageSize
	f.mu.Unlock()

	// Reference resolution failures degrade to placeholders, they do not
	// fail the page load.
	if err := f.resolver.EnsureLoaded(ctx, requests); err != nil {
		f.logger.Warn("Reference resolution failed for page", zap.Error(err))
	}

	return nil
}

// Items resolves the ordered window against the cache. Ids whose entity has
// been removed are skipped.
func (f *Feed) Items() []models.Request {
	f.mu.Lock()
	ids := make([]string, len(f.order))
	copy(ids, f.order)
	f.mu.Unlock()

	out := make([]models.Request, 0, len(ids))
	for _, id := range ids {
		if req, ok := f.caches.Requests.GetByID(id); ok {
			out = append(out, req)
		}
	}
	return out
}

// Len returns the number of loaded feed entries.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

// Contains reports whether an id is in the feed window.
func (f *Feed) Contains(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.index[id]
	return ok
}

// HasMore reports whether the remote table may hold another page.
func (f *Feed) HasMore() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasMore
}

// Loading reports whether a page load is in flight.
func (f *Feed) Loading() bool {
	return f.loading.Load()
}

// Scope returns the feed's date window.
func (f *Feed) Scope() Scope {
	return f.scope
}

// Insert places a request into the window at its created-at position,
// newest first. The caller is responsible for scope gating.
func (f *Feed) Insert(req models.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.index[req.ID]; ok {
		return
	}
	f.index[req.ID] = struct{}{}

	pos := len(f.order)
	for i, id := range f.order {
		other, ok := f.caches.Requests.GetByID(id)
		if !ok {
			continue
		}
		if req.CreatedAt.After(other.CreatedAt) {
			pos = i
			break
		}
	}
	f.order = append(f.order, "")
	copy(f.order[pos+1:], f.order[pos:])
	f.order[pos] = req.ID
}

// Remove drops an id from the window.
func (f *Feed) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.index[id]; !ok {
		return
	}
	delete(f.index, id)
	for i, other := range f.order {
		if other == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}
