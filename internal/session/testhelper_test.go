package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"workshop-sync/internal/backing"
	"workshop-sync/internal/cache"
	"workshop-sync/internal/models"

	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory backing.Store for tests: deterministic rows,
// call counting and per-table failure injection.
type fakeStore struct {
	mu          sync.Mutex
	tables      map[string][]models.Row
	selectCalls map[string]int
	updateCalls map[string]int
	failSelect  map[string]error
	failInsert  map[string]error
	failUpdate  map[string]error
	failDelete  map[string]error
	nextNumber  int64
	clock       time.Time

	// blockSelect, when set for a table, is received from before the select
	// returns, letting tests order concurrent responses.
	blockSelect map[string]chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tables:      make(map[string][]models.Row),
		selectCalls: make(map[string]int),
		updateCalls: make(map[string]int),
		failSelect:  make(map[string]error),
		failInsert:  make(map[string]error),
		failUpdate:  make(map[string]error),
		failDelete:  make(map[string]error),
		blockSelect: make(map[string]chan struct{}),
		clock:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) seed(table string, rows ...models.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range rows {
		f.tables[table] = append(f.tables[table], copyRow(row))
	}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) Select(ctx context.Context, table string, opts backing.SelectOptions) ([]models.Row, error) {
	f.mu.Lock()
	f.selectCalls[table]++
	err := f.failSelect[table]
	gate := f.blockSelect[table]
	rows := make([]models.Row, len(f.tables[table]))
	for i, row := range f.tables[table] {
		rows[i] = copyRow(row)
	}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	var out []models.Row
	for _, row := range rows {
		if matchRow(row, opts) {
			out = append(out, row)
		}
	}

	if opts.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a := rowTime(out[i], opts.OrderBy)
			b := rowTime(out[j], opts.OrderBy)
			if opts.Descending {
				return a.After(b)
			}
			return a.Before(b)
		})
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeStore) Insert(ctx context.Context, table string, payload models.Row) (models.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failInsert[table]; err != nil {
		return nil, err
	}

	row := copyRow(payload)
	f.nextNumber++
	if _, ok := row["number"]; !ok {
		row["number"] = f.nextNumber
	}
	now := f.tick().Format(time.RFC3339Nano)
	row["created_at"] = now
	row["updated_at"] = now

	f.tables[table] = append(f.tables[table], row)
	return copyRow(row), nil
}

func (f *fakeStore) Update(ctx context.Context, table string, id string, patch models.Row) (models.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updateCalls[table]++
	if err := f.failUpdate[table]; err != nil {
		return nil, err
	}

	for _, row := range f.tables[table] {
		if row["id"] == id {
			for col, v := range patch {
				row[col] = v
			}
			row["updated_at"] = f.tick().Format(time.RFC3339Nano)
			return copyRow(row), nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", backing.ErrNotFound, table, id)
}

func (f *fakeStore) Delete(ctx context.Context, table string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failDelete[table]; err != nil {
		return err
	}

	rows := f.tables[table]
	for i, row := range rows {
		if row["id"] == id {
			f.tables[table] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", backing.ErrNotFound, table, id)
}

func matchRow(row models.Row, opts backing.SelectOptions) bool {
	for col, want := range opts.Filter {
		if fmt.Sprint(row[col]) != fmt.Sprint(want) {
			return false
		}
	}
	for col, ids := range opts.In {
		hit := false
		for _, id := range ids {
			if fmt.Sprint(row[col]) == id {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for col, q := range opts.Match {
		s, _ := row[col].(string)
		if !strings.Contains(strings.ToLower(s), strings.ToLower(q)) {
			return false
		}
	}
	if r := opts.Range; r != nil {
		t := rowTime(row, r.Column)
		if !r.Start.IsZero() && t.Before(r.Start) {
			return false
		}
		if !r.End.IsZero() && !t.Before(r.End) {
			return false
		}
	}
	return true
}

func rowTime(row models.Row, column string) time.Time {
	return models.ChangeEvent{Row: row}.RowTime(column)
}

func copyRow(row models.Row) models.Row {
	out := make(models.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// fakeDeduper remembers event ids in memory.
type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{seen: make(map[string]bool)}
}

func (d *fakeDeduper) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[eventID] {
		return false, nil
	}
	d.seen[eventID] = true
	return true, nil
}

// harness bundles a fully wired session over a fake store.
type harness struct {
	store    *fakeStore
	caches   *cache.Set
	resolver *Resolver
	feed     *Feed
	overlay  *Overlay
	guard    *DeleteGuard
	mutator  *Mutator
}

func newHarness(pageSize int, scope Scope) *harness {
	store := newFakeStore()
	caches := cache.NewSet()
	resolver := NewResolver(store, caches, time.Millisecond)
	feed := NewFeed(store, caches, resolver, pageSize, scope)
	overlay := NewOverlay(store, caches, resolver, 5*time.Millisecond)
	guard := NewDeleteGuard(2 * time.Second)
	mutator := NewMutator(store, nil, caches, feed, overlay, guard)

	return &harness{
		store:    store,
		caches:   caches,
		resolver: resolver,
		feed:     feed,
		overlay:  overlay,
		guard:    guard,
		mutator:  mutator,
	}
}

func (h *harness) reconciler(dedup Deduper) *Reconciler {
	return NewReconciler(h.caches, h.feed, h.overlay, h.guard, dedup)
}

func requestRow(id, clientID, carID string, createdAt time.Time) models.Row {
	ts := createdAt.Format(time.RFC3339Nano)
	return models.Row{
		"id":                 id,
		"number":             int64(1),
		"client_id":          clientID,
		"car_id":             carID,
		"inspection_type_id": "insp-1",
		"employee_id":        "emp-1",
		"payment_type":       models.PaymentTypeUnpaid,
		"price":              int64(300),
		"status":             models.RequestStatusNew,
		"created_at":         ts,
		"updated_at":         ts,
	}
}

func clientRow(id, name string) models.Row {
	return models.Row{
		"id":         id,
		"name":       name,
		"phone":      "0500000000",
		"vip":        false,
		"updated_at": time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC).Format(time.RFC3339Nano),
	}
}

func mustDecodeRequest(t *testing.T, row models.Row) models.Request {
	t.Helper()
	req, err := backing.DecodeRow[models.Request](row)
	require.NoError(t, err)
	return req
}

func carRow(id, makeID, modelID string) models.Row {
	return models.Row{
		"id":         id,
		"make_id":    makeID,
		"model_id":   modelID,
		"year":       2020,
		"updated_at": time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC).Format(time.RFC3339Nano),
	}
}
