package session

import (
	"context"
	"fmt"
	"time"

	"workshop-sync/internal/backing"
	"workshop-sync/internal/cache"
	"workshop-sync/internal/models"
	"workshop-sync/internal/util"

	"github.com/graph-gophers/dataloader/v7"
	"go.uber.org/zap"
)

// Resolver guarantees that the clients and cars referenced by a batch of
// requests are present in the cache before a dependent view renders. Missing
// ids are fetched in at most one batched call per entity type; ids the store
// does not know stay unresolved and render as placeholders.
type Resolver struct {
	store  backing.Store
	caches *cache.Set
	logger *zap.Logger

	clients *dataloader.Loader[string, *models.Client]
	cars    *dataloader.Loader[string, *models.Car]
}

// NewResolver creates a resolver. wait is the loader's batching window;
// concurrent callers within it share one fetch.
func NewResolver(store backing.Store, caches *cache.Set, wait time.Duration) *Resolver {
	r := &Resolver{
		store:  store,
		caches: caches,
		logger: util.GetLogger(),
	}

	// The entity cache is the only cache here; the loaders batch, they must
	// not memoize.
	r.clients = dataloader.NewBatchedLoader(
		batchFetch(store, caches.Clients, models.TableClients),
		dataloader.WithCache[string, *models.Client](&dataloader.NoCache[string, *models.Client]{}),
		dataloader.WithWait[string, *models.Client](wait),
	)
	r.cars = dataloader.NewBatchedLoader(
		batchFetch(store, caches.Cars, models.TableCars),
		dataloader.WithCache[string, *models.Car](&dataloader.NoCache[string, *models.Car]{}),
		dataloader.WithWait[string, *models.Car](wait),
	)

	return r
}

// EnsureLoaded fetches the clients and cars referenced by requests that are
// not yet cached. Empty missing sets cost no network call. Redundant or
// concurrent calls are safe; the cache upsert is idempotent.
func (r *Resolver) EnsureLoaded(ctx context.Context, requests []models.Request) error {
	clientIDs := make([]string, 0, len(requests))
	carIDs := make([]string, 0, len(requests))
	for _, req := range requests {
		clientIDs = append(clientIDs, req.ClientID)
		carIDs = append(carIDs, req.CarID)
	}

	missingClients := r.caches.Clients.MissingIDs(clientIDs)
	missingCars := r.caches.Cars.MissingIDs(carIDs)

	var clientThunk dataloader.ThunkMany[*models.Client]
	var carThunk dataloader.ThunkMany[*models.Car]
	if len(missingClients) > 0 {
		clientThunk = r.clients.LoadMany(ctx, missingClients)
	}
	if len(missingCars) > 0 {
		carThunk = r.cars.LoadMany(ctx, missingCars)
	}

	var first error
	if clientThunk != nil {
		if _, errs := clientThunk(); len(errs) > 0 {
			r.logger.Warn("Client resolution failed", zap.Error(errs[0]))
			first = errs[0]
		}
	}
	if carThunk != nil {
		if _, errs := carThunk(); len(errs) > 0 {
			r.logger.Warn("Car resolution failed", zap.Error(errs[0]))
			if first == nil {
				first = errs[0]
			}
		}
	}
	return first
}

// Client returns one client, from cache if present, otherwise through the
// batched loader.
func (r *Resolver) Client(ctx context.Context, id string) (*models.Client, error) {
	if c, ok := r.caches.Clients.GetByID(id); ok {
		return &c, nil
	}
	return r.clients.Load(ctx, id)()
}

// Car returns one car, from cache if present, otherwise through the batched
// loader.
func (r *Resolver) Car(ctx context.Context, id string) (*models.Car, error) {
	if c, ok := r.caches.Cars.GetByID(id); ok {
		return &c, nil
	}
	return r.cars.Load(ctx, id)()
}

// LoadMakes fetches the full make list. Makes are small and global, so this
// is the one full-replacement load in the session.
func (r *Resolver) LoadMakes(ctx context.Context) error {
	rows, err := r.store.Select(ctx, models.TableCarMakes, backing.SelectOptions{OrderBy: "name"})
	if err != nil {
		return fmt.Errorf("failed to load car makes: %w", err)
	}
	makes, err := backing.DecodeRows[models.CarMake](rows)
	if err != nil {
		return fmt.Errorf("failed to decode car makes: %w", err)
	}
	r.caches.Makes.Replace(makes)
	return nil
}

// EnsureModels pages in all models of one make, once. Later calls for the
// same make are free.
func (r *Resolver) EnsureModels(ctx context.Context, makeID string) error {
	if r.caches.Models.PartitionLoaded(makeID) {
		return nil
	}

	rows, err := r.store.Select(ctx, models.TableCarModels, backing.SelectOptions{
		Filter:  map[string]any{"make_id": makeID},
		OrderBy: "name",
	})
	if err != nil {
		return fmt.Errorf("failed to load models for make %s: %w", makeID, err)
	}
	carModels, err := backing.DecodeRows[models.CarModel](rows)
	if err != nil {
		return fmt.Errorf("failed to decode models for make %s: %w", makeID, err)
	}

	r.caches.Models.UpsertMany(carModels...)
	r.caches.Models.MarkPartitionLoaded(makeID)
	return nil
}

// batchFetch builds a loader batch function that issues a single
// `WHERE id IN (...)` select, upserts the hits into the cache, and returns
// results aligned with the requested id order. Unknown ids yield a nil
// result, not an error.
func batchFetch[T models.Entity](store backing.Store, s *cache.Store[T], table string) dataloader.BatchFunc[string, *T] {
	return func(ctx context.Context, ids []string) []*dataloader.Result[*T] {
		util.ResolverBatchSize.WithLabelValues(table).Observe(float64(len(ids)))

		rows, err := store.Select(ctx, table, backing.SelectOptions{
			In: map[string][]string{"id": ids},
		})
		if err != nil {
			return loaderError[*T](len(ids), err)
		}
		items, err := backing.DecodeRows[T](rows)
		if err != nil {
			return loaderError[*T](len(ids), err)
		}

		s.UpsertMany(items...)

		byID := make(map[string]T, len(items))
		for _, item := range items {
			byID[item.EntityID()] = item
		}

		results := make([]*dataloader.Result[*T], 0, len(ids))
		for _, id := range ids {
			if item, ok := byID[id]; ok {
				item := item
				results = append(results, &dataloader.Result[*T]{Data: &item})
			} else {
				results = append(results, &dataloader.Result[*T]{})
			}
		}
		return results
	}
}

// loaderError repeats one error for every requested id.
func loaderError[T any](n int, err error) []*dataloader.Result[T] {
	results := make([]*dataloader.Result[T], n)
	for i := 0; i < n; i++ {
		results[i] = &dataloader.Result[T]{Error: err}
	}
	return results
}
