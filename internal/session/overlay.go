package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"workshop-sync/internal/backing"
	"workshop-sync/internal/cache"
	"workshop-sync/internal/models"
	"workshop-sync/internal/util"

	"go.uber.org/zap"
)

// Overlay is an independently-sourced request list that supersedes the
// primary feed for display without touching it. Two slots exist: a debounced
// text/number search and a date-range view; search wins when both are set.
// Clearing a slot restores whatever is underneath with no network call.
type Overlay struct {
	store    backing.Store
	caches   *cache.Set
	resolver *Resolver
	debounce time.Duration
	logger   *zap.Logger

	// gen invalidates in-flight searches: a response is applied only if its
	// generation is still the latest.
	gen atomic.Uint64

	timerMu sync.Mutex
	timer   *time.Timer

	mu           sync.Mutex
	searchActive bool
	searched     []string
	rangeActive  bool
	ranged       []string
	rangeScope   Scope
}

// NewOverlay creates an inactive overlay.
func NewOverlay(store backing.Store, caches *cache.Set, resolver *Resolver, debounce time.Duration) *Overlay {
	return &Overlay{
		store:    store,
		caches:   caches,
		resolver: resolver,
		debounce: debounce,
		logger:   util.GetLogger(),
	}
}

// Search schedules a remote search after the debounce quiet period. Every
// call supersedes the previous one; an empty query clears the search slot
// immediately.
func (o *Overlay) Search(query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		o.ClearSearch()
		return
	}

	gen := o.gen.Add(1)

	o.timerMu.Lock()
	defer o.timerMu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(o.debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.runSearch(ctx, gen, query); err != nil {
			o.logger.Warn("Search failed", zap.String("query", query), zap.Error(err))
		}
	})
}

// SearchNow runs a search immediately, bypassing the debounce but still
// subject to stale-response discarding.
func (o *Overlay) SearchNow(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		o.ClearSearch()
		return nil
	}
	return o.runSearch(ctx, o.gen.Add(1), query)
}

func (o *Overlay) runSearch(ctx context.Context, gen uint64, query string) error {
	var rows []models.Row
	var err error

	if number, numErr := strconv.ParseInt(query, 10, 64); numErr == nil {
		rows, err = o.store.Select(ctx, models.TableRequests, backing.SelectOptions{
			Filter: map[string]any{"number": number},
		})
	} else {
		rows, err = o.searchByClient(ctx, query)
	}
	if err != nil {
		// Cache and overlay stay untouched on a failed read.
		return fmt.Errorf("search %q failed: %w", query, err)
	}

	requests, err := backing.DecodeRows[models.Request](rows)
	if err != nil {
		return fmt.Errorf("failed to decode search results: %w", err)
	}

	if gen != o.gen.Load() {
		util.StaleSearchesDropped.Inc()
		return nil
	}

	o.caches.Requests.UpsertMany(requests...)

	ids := make([]string, len(requests))
	for i, req := range requests {
		ids[i] = req.ID
	}

	o.mu.Lock()
	if gen != o.gen.Load() {
		o.mu.Unlock()
		util.StaleSearchesDropped.Inc()
		return nil
	}
	o.searchActive = true
	o.searched = ids
	o.mu.Unlock()

	if err := o.resolver.EnsureLoaded(ctx, requests); err != nil {
		o.logger.Warn("Reference resolution failed for search", zap.Error(err))
	}
	return nil
}

// searchByClient matches clients by name, then pulls their requests in one
// batched select.
func (o *Overlay) searchByClient(ctx context.Context, query string) ([]models.Row, error) {
	clientRows, err := o.store.Select(ctx, models.TableClients, backing.SelectOptions{
		Match: map[string]string{"name": query},
		Limit: 25,
	})
	if err != nil {
		return nil, err
	}
	clients, err := backing.DecodeRows[models.Client](clientRows)
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		return nil, nil
	}

	o.caches.Clients.UpsertMany(clients...)

	ids := make([]string, len(clients))
	for i, c := range clients {
		ids[i] = c.ID
	}
	return o.store.Select(ctx, models.TableRequests, backing.SelectOptions{
		In:         map[string][]string{"client_id": ids},
		OrderBy:    "created_at",
		Descending: true,
	})
}

// ClearSearch drops the search slot and invalidates in-flight searches.
func (o *Overlay) ClearSearch() {
	o.gen.Add(1)

	o.timerMu.Lock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.timerMu.Unlock()

	o.mu.Lock()
	o.searchActive = false
	o.searched = nil
	o.mu.Unlock()
}

// ByDateRange loads the date-range slot from the store.
func (o *Overlay) ByDateRange(ctx context.Context, start, end time.Time) error {
	rows, err := o.store.Select(ctx, models.TableRequests, backing.SelectOptions{
		Range:      &backing.TimeRange{Column: "created_at", Start: start, End: end},
		OrderBy:    "created_at",
		Descending: true,
	})
	if err != nil {
		return fmt.Errorf("failed to load date range: %w", err)
	}
	requests, err := backing.DecodeRows[models.Request](rows)
	if err != nil {
		return fmt.Errorf("failed to decode date range: %w", err)
	}

	o.caches.Requests.UpsertMany(requests...)

	ids := make([]string, len(requests))
	for i, req := range requests {
		ids[i] = req.ID
	}

	o.mu.Lock()
	o.rangeActive = true
	o.ranged = ids
	o.rangeScope = Scope{Start: start, End: end}
	o.mu.Unlock()

	if err := o.resolver.EnsureLoaded(ctx, requests); err != nil {
		o.logger.Warn("Reference resolution failed for date range", zap.Error(err))
	}
	return nil
}

// ClearRange drops the date-range slot.
func (o *Overlay) ClearRange() {
	o.mu.Lock()
	o.rangeActive = false
	o.ranged = nil
	o.rangeScope = Scope{}
	o.mu.Unlock()
}

// Active reports whether any slot supersedes the primary feed.
func (o *Overlay) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.searchActive || o.rangeActive
}

// Items resolves the displayed slot against the cache. The second return is
// false when no slot is active and the primary feed should show instead.
func (o *Overlay) Items() ([]models.Request, bool) {
	o.mu.Lock()
	var ids []string
	switch {
	case o.searchActive:
		ids = append(ids, o.searched...)
	case o.rangeActive:
		ids = append(ids, o.ranged...)
	default:
		o.mu.Unlock()
		return nil, false
	}
	o.mu.Unlock()

	out := make([]models.Request, 0, len(ids))
	for _, id := range ids {
		if req, ok := o.caches.Requests.GetByID(id); ok {
			out = append(out, req)
		}
	}
	return out, true
}

// Remove drops an id from both slots.
func (o *Overlay) Remove(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.searched = removeID(o.searched, id)
	o.ranged = removeID(o.ranged, id)
}

// ApplyInsert grows the date-range slot with a new remote request when the
// slot covers its creation time. The search slot never grows from live
// inserts; it is a bespoke result set.
func (o *Overlay) ApplyInsert(req models.Request) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.rangeActive || !o.rangeScope.Contains(req.CreatedAt) {
		return
	}
	for _, id := range o.ranged {
		if id == req.ID {
			return
		}
	}

	pos := len(o.ranged)
	for i, id := range o.ranged {
		other, ok := o.caches.Requests.GetByID(id)
		if !ok {
			continue
		}
		if req.CreatedAt.After(other.CreatedAt) {
			pos = i
			break
		}
	}
	o.ranged = append(o.ranged, "")
	copy(o.ranged[pos+1:], o.ranged[pos:])
	o.ranged[pos] = req.ID
}

func removeID(ids []string, id string) []string {
	for i, other := range ids {
		if other == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
