package cache

import (
	"testing"
	"time"

	"workshop-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(id string, price int64, status string, updatedAt time.Time) models.Request {
	return models.Request{
		ID:        id,
		Price:     price,
		Status:    status,
		UpdatedAt: updatedAt,
	}
}

func TestUpsertManyIsIdempotent(t *testing.T) {
	s := New[models.Request]("requests")
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	batch := []models.Request{
		request("r1", 300, models.RequestStatusNew, now),
		request("r2", 500, models.RequestStatusInProgress, now),
	}

	s.UpsertMany(batch...)
	first := s.GetAll()

	s.UpsertMany(batch...)
	second := s.GetAll()

	assert.Equal(t, 2, s.Len())
	assert.ElementsMatch(t, first, second)
}

func TestUpsertManyNeverDuplicates(t *testing.T) {
	s := New[models.Request]("requests")
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s.UpsertMany(request("r1", int64(100+i), models.RequestStatusNew, now.Add(time.Duration(i)*time.Second)))
	}

	assert.Equal(t, 1, s.Len())
	got, ok := s.GetByID("r1")
	require.True(t, ok)
	assert.Equal(t, int64(104), got.Price)
}

func TestUpsertManyConvergesOutOfOrder(t *testing.T) {
	newer := request("r1", 999, models.RequestStatusComplete, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	older := request("r1", 100, models.RequestStatusNew, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))

	a := New[models.Request]("requests")
	a.UpsertMany(newer)
	a.UpsertMany(older)

	b := New[models.Request]("requests")
	b.UpsertMany(older)
	b.UpsertMany(newer)

	gotA, _ := a.GetByID("r1")
	gotB, _ := b.GetByID("r1")
	assert.Equal(t, gotB, gotA)
	assert.Equal(t, int64(999), gotA.Price)
}

func TestMergeRowKeepsUnmentionedFields(t *testing.T) {
	s := New[models.Request]("requests")
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	s.UpsertMany(request("x", 5, models.RequestStatusNew, now))

	merged, err := s.MergeRow(models.Row{
		"id":         "x",
		"price":      10,
		"updated_at": now.Add(time.Minute).Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10), merged.Price)
	assert.Equal(t, models.RequestStatusNew, merged.Status)
}

func TestMergeRowDropsStaleRows(t *testing.T) {
	s := New[models.Request]("requests")
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	s.UpsertMany(request("x", 50, models.RequestStatusInProgress, now))

	merged, err := s.MergeRow(models.Row{
		"id":         "x",
		"price":      1,
		"updated_at": now.Add(-time.Hour).Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(50), merged.Price)
	assert.Equal(t, models.RequestStatusInProgress, merged.Status)
}

func TestMergeRowRequiresID(t *testing.T) {
	s := New[models.Request]("requests")
	_, err := s.MergeRow(models.Row{"price": 10})
	assert.Error(t, err)
}

func TestRemoveMany(t *testing.T) {
	s := New[models.Client]("clients")
	s.UpsertMany(
		models.Client{ID: "c1", Name: "Omar"},
		models.Client{ID: "c2", Name: "Sara"},
	)

	s.RemoveMany("c1", "missing")

	assert.Equal(t, 1, s.Len())
	assert.False(t, s.Has("c1"))
	assert.True(t, s.Has("c2"))
}

func TestReplaceSwapsCollection(t *testing.T) {
	s := New[models.CarMake]("car_makes")
	s.UpsertMany(models.CarMake{ID: "m1", Name: "Toyota"})

	s.Replace([]models.CarMake{
		{ID: "m2", Name: "Honda"},
		{ID: "m3", Name: "Nissan"},
	})

	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Has("m1"))
}

func TestMissingIDs(t *testing.T) {
	s := New[models.Client]("clients")
	s.UpsertMany(models.Client{ID: "c1"})

	missing := s.MissingIDs([]string{"c1", "c2", "c2", "", "c3"})
	assert.Equal(t, []string{"c2", "c3"}, missing)
}

func TestPartitionMarkers(t *testing.T) {
	s := New[models.CarModel]("car_models")

	assert.False(t, s.PartitionLoaded("make-1"))
	s.MarkPartitionLoaded("make-1")
	assert.True(t, s.PartitionLoaded("make-1"))
	assert.False(t, s.PartitionLoaded("make-2"))
}

func TestWatchFiresOnMutation(t *testing.T) {
	s := New[models.Client]("clients")

	fired := 0
	unsub := s.Watch(func() { fired++ })

	s.UpsertMany(models.Client{ID: "c1"})
	s.RemoveMany("c1")
	assert.Equal(t, 2, fired)

	unsub()
	s.UpsertMany(models.Client{ID: "c2"})
	assert.Equal(t, 2, fired)
}
