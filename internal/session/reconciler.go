package session

import (
	"context"
	"time"

	"workshop-sync/internal/backing"
	"workshop-sync/internal/cache"
	"workshop-sync/internal/models"
	"workshop-sync/internal/util"

	"go.uber.org/zap"
)

// dedupTTL is how long a processed change event id stays marked.
const dedupTTL = 24 * time.Hour

// Deduper remembers processed change event ids so an event is applied at
// most once per session, across reconnects.
type Deduper interface {
	MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

// Reconciler merges remote-origin changes into the cache and the visible
// lists. Inserts and updates are idempotent cache merges guarded by the
// logical revision, so this session's own echoed events are harmless; a
// delete event is authoritative and also confirms any pending local delete.
type Reconciler struct {
	caches  *cache.Set
	feed    *Feed
	overlay *Overlay
	guard   *DeleteGuard
	dedup   Deduper
	logger  *zap.Logger

	unsubs []func()
}

// NewReconciler creates a reconciler. dedup may be nil, in which case only
// the merge idempotency protects against re-delivery.
func NewReconciler(caches *cache.Set, feed *Feed, overlay *Overlay, guard *DeleteGuard, dedup Deduper) *Reconciler {
	return &Reconciler{
		caches:  caches,
		feed:    feed,
		overlay: overlay,
		guard:   guard,
		dedup:   dedup,
		logger:  util.GetLogger(),
	}
}

// Start subscribes to every entity table on the change feed.
func (r *Reconciler) Start(feed backing.Feed) {
	r.unsubs = append(r.unsubs,
		feed.Subscribe(models.TableRequests, r.handleRequest),
		watchTable(r, feed, r.caches.Clients, models.TableClients),
		watchTable(r, feed, r.caches.Cars, models.TableCars),
		watchTable(r, feed, r.caches.Makes, models.TableCarMakes),
		watchTable(r, feed, r.caches.Models, models.TableCarModels),
		watchTable(r, feed, r.caches.Brokers, models.TableBrokers),
		watchTable(r, feed, r.caches.Employees, models.TableEmployees),
		watchTable(r, feed, r.caches.InspectionTypes, models.TableInspectionTypes),
		watchTable(r, feed, r.caches.Expenses, models.TableExpenses),
		watchTable(r, feed, r.caches.Revenues, models.TableRevenues),
		watchTable(r, feed, r.caches.Reservations, models.TableReservations),
	)
}

// Stop cancels all subscriptions.
func (r *Reconciler) Stop() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

// handleRequest applies one change event for the requests table.
func (r *Reconciler) handleRequest(event models.ChangeEvent) {
	if r.skip(event) {
		return
	}

	id := event.RowID()
	switch event.Op {
	case models.OpDelete:
		r.caches.Requests.RemoveMany(id)
		r.feed.Remove(id)
		r.overlay.Remove(id)
		r.guard.Confirm(id)

	case models.OpInsert, models.OpUpdate:
		merged, err := r.caches.Requests.MergeRow(event.Row)
		if err != nil {
			r.logger.Warn("Failed to merge request event",
				zap.String("id", id), zap.Error(err))
			return
		}
		if event.Op == models.OpInsert {
			// While an overlay is showing, the primary feed underneath stays
			// frozen; a date-bounded overlay may still accept the new row.
			if !r.overlay.Active() && r.feed.Scope().Contains(merged.CreatedAt) {
				r.feed.Insert(merged)
			}
			r.overlay.ApplyInsert(merged)
		}

	default:
		util.ReconcileSkippedTotal.WithLabelValues("unknown_op").Inc()
		return
	}

	util.ReconcileEventsTotal.WithLabelValues(event.Table, event.Op).Inc()
}

// skip filters duplicates and events for ids this session just deleted.
func (r *Reconciler) skip(event models.ChangeEvent) bool {
	if r.dedup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		first, err := r.dedup.MarkEventSeen(ctx, event.EventID, dedupTTL)
		cancel()
		if err != nil {
			r.logger.Warn("Event dedup check failed", zap.Error(err))
		} else if !first {
			util.ReconcileSkippedTotal.WithLabelValues("duplicate").Inc()
			return true
		}
	}

	if event.Op != models.OpDelete && r.guard.RecentlyDeleted(event.RowID()) {
		util.ReconcileSkippedTotal.WithLabelValues("recently_deleted").Inc()
		return true
	}
	return false
}

// watchTable subscribes one secondary entity table: inserts and updates
// merge into the cache, deletes remove.
func watchTable[T models.Entity](r *Reconciler, feed backing.Feed, s *cache.Store[T], table string) func() {
	return feed.Subscribe(table, func(event models.ChangeEvent) {
		if r.skip(event) {
			return
		}

		switch event.Op {
		case models.OpDelete:
			id := event.RowID()
			s.RemoveMany(id)
			r.guard.Confirm(id)

		case models.OpInsert, models.OpUpdate:
			if _, err := s.MergeRow(event.Row); err != nil {
				r.logger.Warn("Failed to merge change event",
					zap.String("table", table), zap.Error(err))
				return
			}

		default:
			util.ReconcileSkippedTotal.WithLabelValues("unknown_op").Inc()
			return
		}

		util.ReconcileEventsTotal.WithLabelValues(table, event.Op).Inc()
	})
}
