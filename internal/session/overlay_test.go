package session

import (
	"context"
	"testing"
	"time"

	"workshop-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSearchFixtures(h *harness) {
	h.store.seed(models.TableClients, clientRow("c1", "Omar"), clientRow("c2", "Sara"))
	h.store.seed(models.TableCars, carRow("car-1", "m1", "md1"))

	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	r7 := requestRow("req-7", "c1", "car-1", at)
	r7["number"] = int64(7)
	r77 := requestRow("req-77", "c2", "car-1", at.Add(time.Minute))
	r77["number"] = int64(77)
	h.store.seed(models.TableRequests, r7, r77)
}

func TestSearchNowByNumber(t *testing.T) {
	h := newHarness(50, testDay)
	seedSearchFixtures(h)

	require.NoError(t, h.overlay.SearchNow(context.Background(), "77"))

	assert.True(t, h.overlay.Active())
	items, active := h.overlay.Items()
	require.True(t, active)
	require.Len(t, items, 1)
	assert.Equal(t, "req-77", items[0].ID)
}

func TestSearchNowByClientName(t *testing.T) {
	h := newHarness(50, testDay)
	seedSearchFixtures(h)

	require.NoError(t, h.overlay.SearchNow(context.Background(), "oma"))

	items, active := h.overlay.Items()
	require.True(t, active)
	require.Len(t, items, 1)
	assert.Equal(t, "req-7", items[0].ID)
	assert.True(t, h.caches.Clients.Has("c1"))
}

func TestSearchNowNoMatches(t *testing.T) {
	h := newHarness(50, testDay)
	seedSearchFixtures(h)

	require.NoError(t, h.overlay.SearchNow(context.Background(), "nobody"))

	items, active := h.overlay.Items()
	assert.True(t, active)
	assert.Empty(t, items)
}

func TestSearchEmptyQueryClears(t *testing.T) {
	h := newHarness(50, testDay)
	seedSearchFixtures(h)

	require.NoError(t, h.overlay.SearchNow(context.Background(), "77"))
	require.True(t, h.overlay.Active())

	require.NoError(t, h.overlay.SearchNow(context.Background(), "   "))
	assert.False(t, h.overlay.Active())
}

func TestStaleSearchResponseDiscarded(t *testing.T) {
	h := newHarness(50, testDay)
	seedSearchFixtures(h)
	ctx := context.Background()

	older := h.overlay.gen.Add(1)
	newer := h.overlay.gen.Add(1)

	// The newer search resolves first; the older response must not clobber it.
	require.NoError(t, h.overlay.runSearch(ctx, newer, "77"))
	require.NoError(t, h.overlay.runSearch(ctx, older, "7"))

	items, active := h.overlay.Items()
	require.True(t, active)
	require.Len(t, items, 1)
	assert.Equal(t, "req-77", items[0].ID)
}

func TestDebouncedSearchRunsLatestQuery(t *testing.T) {
	h := newHarness(50, testDay)
	seedSearchFixtures(h)

	h.overlay.Search("7")
	h.overlay.Search("77")

	require.Eventually(t, func() bool {
		items, active := h.overlay.Items()
		return active && len(items) == 1 && items[0].ID == "req-77"
	}, time.Second, time.Millisecond)
}

func TestClearSearchRestoresFeedWithoutNetwork(t *testing.T) {
	h := newHarness(50, testDay)
	seedSearchFixtures(h)
	ctx := context.Background()

	require.NoError(t, h.feed.LoadNext(ctx))
	require.Equal(t, 2, h.feed.Len())

	require.NoError(t, h.overlay.SearchNow(ctx, "77"))
	h.store.mu.Lock()
	calls := h.store.selectCalls[models.TableRequests]
	h.store.mu.Unlock()

	h.overlay.ClearSearch()
	assert.False(t, h.overlay.Active())
	_, active := h.overlay.Items()
	assert.False(t, active)
	assert.Equal(t, 2, h.feed.Len())

	h.store.mu.Lock()
	after := h.store.selectCalls[models.TableRequests]
	h.store.mu.Unlock()
	assert.Equal(t, calls, after)
}

func TestSearchFailureLeavesOverlayUntouched(t *testing.T) {
	h := newHarness(50, testDay)
	h.store.failSelect[models.TableRequests] = assert.AnError

	err := h.overlay.SearchNow(context.Background(), "77")
	assert.Error(t, err)
	assert.False(t, h.overlay.Active())
}

func TestSearchWinsOverDateRange(t *testing.T) {
	h := newHarness(50, testDay)
	seedSearchFixtures(h)
	ctx := context.Background()

	require.NoError(t, h.overlay.ByDateRange(ctx, testDay.Start, testDay.End))
	ranged, active := h.overlay.Items()
	require.True(t, active)
	require.Len(t, ranged, 2)

	require.NoError(t, h.overlay.SearchNow(ctx, "77"))
	searched, active := h.overlay.Items()
	require.True(t, active)
	require.Len(t, searched, 1)

	// Clearing the search slot uncovers the range slot, not the feed.
	h.overlay.ClearSearch()
	items, active := h.overlay.Items()
	require.True(t, active)
	assert.Len(t, items, 2)

	h.overlay.ClearRange()
	_, active = h.overlay.Items()
	assert.False(t, active)
}

func TestRangeOverlayAcceptsInScopeInserts(t *testing.T) {
	h := newHarness(50, testDay)
	seedSearchFixtures(h)
	ctx := context.Background()

	require.NoError(t, h.overlay.ByDateRange(ctx, testDay.Start, testDay.End))

	fresh := mustDecodeRequest(t, requestRow("req-new", "c1", "car-1",
		time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	h.caches.Requests.UpsertMany(fresh)
	h.overlay.ApplyInsert(fresh)

	items, _ := h.overlay.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "req-new", items[0].ID)

	outside := mustDecodeRequest(t, requestRow("req-outside", "c1", "car-1",
		time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)))
	h.caches.Requests.UpsertMany(outside)
	h.overlay.ApplyInsert(outside)

	items, _ = h.overlay.Items()
	assert.Len(t, items, 3)
}

func TestSearchOverlayNeverGrowsFromInserts(t *testing.T) {
	h := newHarness(50, testDay)
	seedSearchFixtures(h)

	require.NoError(t, h.overlay.SearchNow(context.Background(), "77"))

	fresh := mustDecodeRequest(t, requestRow("req-new", "c1", "car-1",
		time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	h.caches.Requests.UpsertMany(fresh)
	h.overlay.ApplyInsert(fresh)

	items, _ := h.overlay.Items()
	assert.Len(t, items, 1)
}

func TestOverlayRemoveDropsFromBothSlots(t *testing.T) {
	h := newHarness(50, testDay)
	seedSearchFixtures(h)
	ctx := context.Background()

	require.NoError(t, h.overlay.ByDateRange(ctx, testDay.Start, testDay.End))
	require.NoError(t, h.overlay.SearchNow(ctx, "77"))

	h.overlay.Remove("req-77")

	searched, _ := h.overlay.Items()
	assert.Empty(t, searched)

	h.overlay.ClearSearch()
	ranged, _ := h.overlay.Items()
	require.Len(t, ranged, 1)
	assert.Equal(t, "req-7", ranged[0].ID)
}
