// Package cache holds the session's authoritative in-memory copy of every
// entity the UI has seen. Each entity type gets one Store keyed by id; the
// collections are partial by design and remote state is the source of truth,
// so entries are only ever overwritten or explicitly removed, never evicted.
package cache

import (
	"encoding/json"
	"fmt"
	"sync"

	"workshop-sync/internal/models"
	"workshop-sync/internal/util"
)

// Store is a keyed in-memory cache for one entity type.
//
// UpsertMany is idempotent and order-independent: the row with the newest
// logical revision wins no matter the call order. MergeRow overlays only the
// fields present in a sparse wire row, leaving the rest of the entity
// untouched.
type Store[T models.Entity] struct {
	name string

	mu         sync.RWMutex
	items      map[string]T
	partitions map[string]struct{}

	watchMu  sync.Mutex
	nextID   int
	watchers map[int]func()
}

// New creates an empty store. The name labels metrics and logs.
func New[T models.Entity](name string) *Store[T] {
	return &Store[T]{
		name:       name,
		items:      make(map[string]T),
		partitions: make(map[string]struct{}),
		watchers:   make(map[int]func()),
	}
}

// Name returns the store's entity-type label.
func (s *Store[T]) Name() string { return s.name }

// GetByID returns the cached entity, if present.
func (s *Store[T]) GetByID(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

// Has reports whether an id is cached.
func (s *Store[T]) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[id]
	return ok
}

// GetAll returns a snapshot of every cached entity, in no particular order.
func (s *Store[T]) GetAll() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	return out
}

// Len returns the number of cached entities.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// UpsertMany merges full rows into the store. An incoming row with a revision
// strictly older than the cached one is dropped, so batches converge to the
// same state regardless of arrival order.
func (s *Store[T]) UpsertMany(items ...T) {
	if len(items) == 0 {
		return
	}

	s.mu.Lock()
	for _, item := range items {
		id := item.EntityID()
		if id == "" {
			continue
		}
		if existing, ok := s.items[id]; ok && item.Revision().Before(existing.Revision()) {
			continue
		}
		s.items[id] = item
	}
	size := len(s.items)
	s.mu.Unlock()

	util.CacheEntries.WithLabelValues(s.name).Set(float64(size))
	s.notify()
}

// Replace swaps the whole collection. Used only for a fresh full load.
func (s *Store[T]) Replace(items []T) {
	next := make(map[string]T, len(items))
	for _, item := range items {
		if id := item.EntityID(); id != "" {
			next[id] = item
		}
	}

	s.mu.Lock()
	s.items = next
	size := len(s.items)
	s.mu.Unlock()

	util.CacheEntries.WithLabelValues(s.name).Set(float64(size))
	s.notify()
}

// MergeRow applies a sparse wire row: fields present in the row overwrite the
// cached entity, fields absent from it survive. Rows carrying an updated_at
// older than the cached revision are dropped. For unknown ids the row must
// decode to a complete entity on its own.
func (s *Store[T]) MergeRow(row models.Row) (T, error) {
	var zero T
	id, _ := row["id"].(string)
	if id == "" {
		return zero, fmt.Errorf("row has no id")
	}

	s.mu.Lock()
	existing, ok := s.items[id]
	if ok {
		if rev := (models.ChangeEvent{Row: row}).RowTime("updated_at"); !rev.IsZero() && rev.Before(existing.Revision()) {
			s.mu.Unlock()
			return existing, nil
		}
	}

	merged, err := overlay(existing, ok, row)
	if err != nil {
		s.mu.Unlock()
		return zero, err
	}
	s.items[id] = merged
	size := len(s.items)
	s.mu.Unlock()

	util.CacheEntries.WithLabelValues(s.name).Set(float64(size))
	s.notify()
	return merged, nil
}

// MergeRows applies a batch of sparse rows, stopping at the first bad row.
func (s *Store[T]) MergeRows(rows []models.Row) error {
	for _, row := range rows {
		if _, err := s.MergeRow(row); err != nil {
			return err
		}
	}
	return nil
}

// RemoveMany deletes entities by id. Unknown ids are ignored.
func (s *Store[T]) RemoveMany(ids ...string) {
	if len(ids) == 0 {
		return
	}

	s.mu.Lock()
	for _, id := range ids {
		delete(s.items, id)
	}
	size := len(s.items)
	s.mu.Unlock()

	util.CacheEntries.WithLabelValues(s.name).Set(float64(size))
	s.notify()
}

// MissingIDs filters ids down to those not yet cached, deduplicated,
// preserving first-seen order. Empty ids are skipped.
func (s *Store[T]) MissingIDs(ids []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	var missing []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := s.items[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// MarkPartitionLoaded records that a one-to-many partition (e.g. all models
// of one make) has been fully paged, so it is never refetched.
func (s *Store[T]) MarkPartitionLoaded(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitions[key] = struct{}{}
}

// PartitionLoaded reports whether a partition has been fully paged.
func (s *Store[T]) PartitionLoaded(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.partitions[key]
	return ok
}

// Watch registers a callback fired after every mutation. The returned
// function cancels the registration.
func (s *Store[T]) Watch(fn func()) func() {
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Store[T]) notify() {
	s.watchMu.Lock()
	fns := make([]func(), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// overlay merges a sparse row over an existing entity via a JSON round trip.
func overlay[T models.Entity](existing T, haveExisting bool, row models.Row) (T, error) {
	var zero T
	base := models.Row{}
	if haveExisting {
		raw, err := json.Marshal(existing)
		if err != nil {
			return zero, fmt.Errorf("failed to encode cached entity: %w", err)
		}
		if err := json.Unmarshal(raw, &base); err != nil {
			return zero, fmt.Errorf("failed to decode cached entity: %w", err)
		}
	}
	for col, v := range row {
		base[col] = v
	}

	raw, err := json.Marshal(base)
	if err != nil {
		return zero, fmt.Errorf("failed to encode merged row: %w", err)
	}
	var merged T
	if err := json.Unmarshal(raw, &merged); err != nil {
		return zero, fmt.Errorf("failed to decode merged row: %w", err)
	}
	return merged, nil
}
