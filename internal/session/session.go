package session

import (
	"context"
	"time"

	"workshop-sync/internal/backing"
	"workshop-sync/internal/cache"
	"workshop-sync/internal/models"
)

// PlaceholderName is rendered when a referenced entity is not resolvable.
const PlaceholderName = "unknown"

// Options tune a session.
type Options struct {
	PageSize        int
	SearchDebounce  time.Duration
	RecentDeleteTTL time.Duration
	ResolverWait    time.Duration
	Scope           Scope
	Publisher       backing.Publisher
	Dedup           Deduper
}

// Session ties one UI session's components around a shared cache set. It is
// the surface the presentation layer talks to.
type Session struct {
	Caches     *cache.Set
	Feed       *Feed
	Overlay    *Overlay
	Mutate     *Mutator
	Reconciler *Reconciler

	resolver *Resolver
}

// New wires a session over a backing store.
func New(store backing.Store, opts Options) *Session {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = 400 * time.Millisecond
	}
	if opts.RecentDeleteTTL <= 0 {
		opts.RecentDeleteTTL = 2 * time.Second
	}
	if opts.ResolverWait <= 0 {
		opts.ResolverWait = 5 * time.Millisecond
	}

	caches := cache.NewSet()
	resolver := NewResolver(store, caches, opts.ResolverWait)
	feed := NewFeed(store, caches, resolver, opts.PageSize, opts.Scope)
	overlay := NewOverlay(store, caches, resolver, opts.SearchDebounce)
	guard := NewDeleteGuard(opts.RecentDeleteTTL)
	mutator := NewMutator(store, opts.Publisher, caches, feed, overlay, guard)
	reconciler := NewReconciler(caches, feed, overlay, guard, opts.Dedup)

	return &Session{
		Caches:     caches,
		Feed:       feed,
		Overlay:    overlay,
		Mutate:     mutator,
		Reconciler: reconciler,
		resolver:   resolver,
	}
}

// Start attaches the session to the change feed and primes the global
// lookups (makes). The primary feed stays empty until LoadMore.
func (s *Session) Start(ctx context.Context, feed backing.Feed) error {
	s.Reconciler.Start(feed)
	return s.resolver.LoadMakes(ctx)
}

// Stop detaches from the change feed.
func (s *Session) Stop() {
	s.Reconciler.Stop()
}

// Visible returns what the UI should display: the search overlay if set,
// else the date-range overlay, else the primary feed.
func (s *Session) Visible() []models.Request {
	if items, active := s.Overlay.Items(); active {
		return items
	}
	return s.Feed.Items()
}

// LoadMore extends the primary feed by one page.
func (s *Session) LoadMore(ctx context.Context) error {
	return s.Feed.LoadNext(ctx)
}

// Resolver exposes single-entity loads for the presentation layer.
func (s *Session) Resolver() *Resolver {
	return s.resolver
}

// ClientName renders a request's client, falling back to a placeholder when
// the reference has not resolved.
func (s *Session) ClientName(req models.Request) string {
	if client, ok := s.Caches.Clients.GetByID(req.ClientID); ok {
		return client.Name
	}
	return PlaceholderName
}

// CarLabel renders a request's live car as "Make Model", falling back to the
// creation-time snapshot and then to a placeholder.
func (s *Session) CarLabel(req models.Request) string {
	if car, ok := s.Caches.Cars.GetByID(req.CarID); ok {
		mk, haveMake := s.Caches.Makes.GetByID(car.MakeID)
		md, haveModel := s.Caches.Models.GetByID(car.ModelID)
		if haveMake && haveModel {
			return mk.Name + " " + md.Name
		}
	}
	if req.Car.Make != "" || req.Car.Model != "" {
		return req.Car.Make + " " + req.Car.Model
	}
	return PlaceholderName
}
