package session

import (
	"context"
	"fmt"
	"time"

	"workshop-sync/internal/backing"
	"workshop-sync/internal/cache"
	"workshop-sync/internal/models"
	"workshop-sync/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mutator is the write path. Every operation writes to the backing store
// first and mutates the cache only from the confirmed server row, so a
// failed write leaves the local state exactly as it was and needs no
// rollback. After a success the cache, the primary feed and any active
// overlay are brought up to date in the same pass, and the change event is
// published for other sessions.
type Mutator struct {
	store     backing.Store
	publisher backing.Publisher
	caches    *cache.Set
	feed      *Feed
	overlay   *Overlay
	guard     *DeleteGuard
	logger    *zap.Logger
}

// NewMutator creates the coordinator. publisher may be nil when the session
// has no outbound feed.
func NewMutator(store backing.Store, publisher backing.Publisher, caches *cache.Set, feed *Feed, overlay *Overlay, guard *DeleteGuard) *Mutator {
	return &Mutator{
		store:     store,
		publisher: publisher,
		caches:    caches,
		feed:      feed,
		overlay:   overlay,
		guard:     guard,
		logger:    util.GetLogger(),
	}
}

// RequestDraft is the client-supplied part of a new request. Number and
// timestamps are assigned by the store.
type RequestDraft struct {
	ClientID         string `json:"client_id" binding:"required"`
	CarID            string `json:"car_id" binding:"required"`
	InspectionTypeID string `json:"inspection_type_id" binding:"required"`
	EmployeeID       string `json:"employee_id" binding:"required"`
	BrokerID         string `json:"broker_id,omitempty"`
	BrokerCommission int64  `json:"broker_commission,omitempty"`
	Price            int64  `json:"price"`
	WaitPayment      bool   `json:"wait_payment,omitempty"`
}

// CreateRequest writes a new request and threads the confirmed row into
// every view. The car snapshot is captured here, from the cache, and never
// updated again.
func (m *Mutator) CreateRequest(ctx context.Context, draft RequestDraft) (*models.Request, error) {
	ctx, span := util.StartSpan(ctx, "Mutator.CreateRequest")
	defer span.End()

	status := models.RequestStatusNew
	if draft.WaitPayment {
		status = models.RequestStatusWaitingPayment
	}

	snapshot, err := backing.EncodeRow(m.carSnapshot(draft.CarID))
	if err != nil {
		return nil, err
	}

	payload := models.Row{
		"id":                 uuid.New().String(),
		"client_id":          draft.ClientID,
		"car_id":             draft.CarID,
		"car":                snapshot,
		"inspection_type_id": draft.InspectionTypeID,
		"employee_id":        draft.EmployeeID,
		"payment_type":       models.PaymentTypeUnpaid,
		"price":              draft.Price,
		"status":             status,
	}
	if draft.BrokerID != "" {
		payload["broker_id"] = draft.BrokerID
		payload["broker_commission"] = draft.BrokerCommission
	}

	row, err := m.store.Insert(ctx, models.TableRequests, payload)
	if err != nil {
		util.MutationFailuresTotal.WithLabelValues(models.TableRequests, models.OpInsert).Inc()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req, err := backing.DecodeRow[models.Request](row)
	if err != nil {
		return nil, fmt.Errorf("failed to decode created request: %w", err)
	}

	m.caches.Requests.UpsertMany(req)
	if m.feed.Scope().Contains(req.CreatedAt) {
		m.feed.Insert(req)
	}
	m.overlay.ApplyInsert(req)
	m.publish(ctx, models.TableRequests, models.OpInsert, row)

	util.MutationsTotal.WithLabelValues(models.TableRequests, models.OpInsert).Inc()
	m.logger.Info("Request created",
		zap.String("id", req.ID), zap.Int64("number", req.Number))
	return &req, nil
}

// UpdateRequest applies a sparse patch. A non-empty note is appended to the
// request's activity log as part of the same write.
func (m *Mutator) UpdateRequest(ctx context.Context, id string, patch models.Row, note string) (*models.Request, error) {
	ctx, span := util.StartSpan(ctx, "Mutator.UpdateRequest")
	defer span.End()

	if note != "" {
		var activity []models.ActivityEntry
		if existing, ok := m.caches.Requests.GetByID(id); ok {
			activity = append(activity, existing.Activity...)
		}
		employeeID, _ := patch["employee_id"].(string)
		activity = append(activity, models.ActivityEntry{At: time.Now(), EmployeeID: employeeID, Note: note})
		encoded, err := backing.EncodeRow(struct {
			Activity []models.ActivityEntry `json:"activity"`
		}{activity})
		if err != nil {
			return nil, err
		}
		patch["activity"] = encoded["activity"]
	}

	row, err := m.store.Update(ctx, models.TableRequests, id, patch)
	if err != nil {
		util.MutationFailuresTotal.WithLabelValues(models.TableRequests, models.OpUpdate).Inc()
		return nil, fmt.Errorf("failed to update request %s: %w", id, err)
	}

	merged, err := m.caches.Requests.MergeRow(row)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, models.TableRequests, models.OpUpdate, row)

	util.MutationsTotal.WithLabelValues(models.TableRequests, models.OpUpdate).Inc()
	return &merged, nil
}

// ActivateRequest moves a waiting_payment request to new, assigning its
// payment classification. Split amounts apply only to split payments.
func (m *Mutator) ActivateRequest(ctx context.Context, id, paymentType string, splitCash, splitCard int64) (*models.Request, error) {
	existing, ok := m.caches.Requests.GetByID(id)
	if !ok {
		return nil, fmt.Errorf("request %s is not loaded", id)
	}
	if existing.Status != models.RequestStatusWaitingPayment {
		return nil, fmt.Errorf("request %s is not waiting for payment", id)
	}

	patch := models.Row{
		"status":       models.RequestStatusNew,
		"payment_type": paymentType,
	}
	if paymentType == models.PaymentTypeSplit {
		patch["split_cash"] = splitCash
		patch["split_card"] = splitCard
	}
	return m.UpdateRequest(ctx, id, patch, "payment assigned: "+paymentType)
}

// AdvanceRequestStatus moves a request one step along
// new -> in_progress -> complete.
func (m *Mutator) AdvanceRequestStatus(ctx context.Context, id string) (*models.Request, error) {
	existing, ok := m.caches.Requests.GetByID(id)
	if !ok {
		return nil, fmt.Errorf("request %s is not loaded", id)
	}

	var next string
	switch existing.Status {
	case models.RequestStatusNew:
		next = models.RequestStatusInProgress
	case models.RequestStatusInProgress:
		next = models.RequestStatusComplete
	default:
		return nil, fmt.Errorf("request %s cannot advance from %s", id, existing.Status)
	}
	return m.UpdateRequest(ctx, id, models.Row{"status": next}, "status: "+next)
}

// StampReport marks a named report flag on a request.
func (m *Mutator) StampReport(ctx context.Context, id, stamp string) (*models.Request, error) {
	stamps := map[string]bool{}
	if existing, ok := m.caches.Requests.GetByID(id); ok {
		for k, v := range existing.ReportStamps {
			stamps[k] = v
		}
	}
	stamps[stamp] = true
	return m.UpdateRequest(ctx, id, models.Row{"report_stamps": stamps}, "")
}

// UpdateRequestWithCar updates a request's car and the request itself as one
// logical unit. The car write goes first; if it fails the request write is
// never attempted and nothing is applied locally. The confirmed car row is
// merged and published as soon as its write succeeds, so even if the request
// write fails afterwards the car cache matches what remote holds; the caller
// still gets the failure.
func (m *Mutator) UpdateRequestWithCar(ctx context.Context, id string, carPatch, requestPatch models.Row, note string) (*models.Request, error) {
	ctx, span := util.StartSpan(ctx, "Mutator.UpdateRequestWithCar")
	defer span.End()

	existing, ok := m.caches.Requests.GetByID(id)
	if !ok {
		return nil, fmt.Errorf("request %s is not loaded", id)
	}

	carRow, err := m.store.Update(ctx, models.TableCars, existing.CarID, carPatch)
	if err != nil {
		util.MutationFailuresTotal.WithLabelValues(models.TableCars, models.OpUpdate).Inc()
		return nil, fmt.Errorf("failed to update car %s: %w", existing.CarID, err)
	}

	if _, mergeErr := m.caches.Cars.MergeRow(carRow); mergeErr != nil {
		m.logger.Error("Failed to merge updated car", zap.Error(mergeErr))
	}
	m.publish(ctx, models.TableCars, models.OpUpdate, carRow)
	util.MutationsTotal.WithLabelValues(models.TableCars, models.OpUpdate).Inc()

	return m.UpdateRequest(ctx, id, requestPatch, note)
}

// DeleteRequest removes a request everywhere and arms the recently-deleted
// guard so a stale remote event cannot bring it back.
func (m *Mutator) DeleteRequest(ctx context.Context, id string) error {
	if err := deleteEntity(ctx, m, m.caches.Requests, models.TableRequests, id); err != nil {
		return err
	}
	m.feed.Remove(id)
	m.overlay.Remove(id)
	return nil
}

// CreateClient writes a new client row.
func (m *Mutator) CreateClient(ctx context.Context, payload models.Row) (models.Client, error) {
	return createEntity(ctx, m, m.caches.Clients, models.TableClients, payload)
}

// UpdateClient patches a client row.
func (m *Mutator) UpdateClient(ctx context.Context, id string, patch models.Row) (models.Client, error) {
	return updateEntity(ctx, m, m.caches.Clients, models.TableClients, id, patch)
}

// DeleteClient removes a client row.
func (m *Mutator) DeleteClient(ctx context.Context, id string) error {
	return deleteEntity(ctx, m, m.caches.Clients, models.TableClients, id)
}

// CreateCar writes a new car row.
func (m *Mutator) CreateCar(ctx context.Context, payload models.Row) (models.Car, error) {
	return createEntity(ctx, m, m.caches.Cars, models.TableCars, payload)
}

// UpdateCar patches a car row.
func (m *Mutator) UpdateCar(ctx context.Context, id string, patch models.Row) (models.Car, error) {
	return updateEntity(ctx, m, m.caches.Cars, models.TableCars, id, patch)
}

// DeleteCar removes a car row.
func (m *Mutator) DeleteCar(ctx context.Context, id string) error {
	return deleteEntity(ctx, m, m.caches.Cars, models.TableCars, id)
}

// CreateBroker writes a new broker row.
func (m *Mutator) CreateBroker(ctx context.Context, payload models.Row) (models.Broker, error) {
	return createEntity(ctx, m, m.caches.Brokers, models.TableBrokers, payload)
}

// UpdateBroker patches a broker row.
func (m *Mutator) UpdateBroker(ctx context.Context, id string, patch models.Row) (models.Broker, error) {
	return updateEntity(ctx, m, m.caches.Brokers, models.TableBrokers, id, patch)
}

// DeleteBroker removes a broker row.
func (m *Mutator) DeleteBroker(ctx context.Context, id string) error {
	return deleteEntity(ctx, m, m.caches.Brokers, models.TableBrokers, id)
}

// CreateEmployee writes a new employee row.
func (m *Mutator) CreateEmployee(ctx context.Context, payload models.Row) (models.Employee, error) {
	return createEntity(ctx, m, m.caches.Employees, models.TableEmployees, payload)
}

// UpdateEmployee patches an employee row.
func (m *Mutator) UpdateEmployee(ctx context.Context, id string, patch models.Row) (models.Employee, error) {
	return updateEntity(ctx, m, m.caches.Employees, models.TableEmployees, id, patch)
}

// DeleteEmployee removes an employee row.
func (m *Mutator) DeleteEmployee(ctx context.Context, id string) error {
	return deleteEntity(ctx, m, m.caches.Employees, models.TableEmployees, id)
}

// CreateInspectionType writes a new inspection type row.
func (m *Mutator) CreateInspectionType(ctx context.Context, payload models.Row) (models.InspectionType, error) {
	return createEntity(ctx, m, m.caches.InspectionTypes, models.TableInspectionTypes, payload)
}

// UpdateInspectionType patches an inspection type row.
func (m *Mutator) UpdateInspectionType(ctx context.Context, id string, patch models.Row) (models.InspectionType, error) {
	return updateEntity(ctx, m, m.caches.InspectionTypes, models.TableInspectionTypes, id, patch)
}

// DeleteInspectionType removes an inspection type row.
func (m *Mutator) DeleteInspectionType(ctx context.Context, id string) error {
	return deleteEntity(ctx, m, m.caches.InspectionTypes, models.TableInspectionTypes, id)
}

// CreateExpense writes a new expense row.
func (m *Mutator) CreateExpense(ctx context.Context, payload models.Row) (models.Expense, error) {
	return createEntity(ctx, m, m.caches.Expenses, models.TableExpenses, payload)
}

// UpdateExpense patches an expense row.
func (m *Mutator) UpdateExpense(ctx context.Context, id string, patch models.Row) (models.Expense, error) {
	return updateEntity(ctx, m, m.caches.Expenses, models.TableExpenses, id, patch)
}

// DeleteExpense removes an expense row.
func (m *Mutator) DeleteExpense(ctx context.Context, id string) error {
	return deleteEntity(ctx, m, m.caches.Expenses, models.TableExpenses, id)
}

// CreateRevenue writes a new revenue row.
func (m *Mutator) CreateRevenue(ctx context.Context, payload models.Row) (models.Revenue, error) {
	return createEntity(ctx, m, m.caches.Revenues, models.TableRevenues, payload)
}

// UpdateRevenue patches a revenue row.
func (m *Mutator) UpdateRevenue(ctx context.Context, id string, patch models.Row) (models.Revenue, error) {
	return updateEntity(ctx, m, m.caches.Revenues, models.TableRevenues, id, patch)
}

// DeleteRevenue removes a revenue row.
func (m *Mutator) DeleteRevenue(ctx context.Context, id string) error {
	return deleteEntity(ctx, m, m.caches.Revenues, models.TableRevenues, id)
}

// CreateReservation writes a new reservation row.
func (m *Mutator) CreateReservation(ctx context.Context, payload models.Row) (models.Reservation, error) {
	return createEntity(ctx, m, m.caches.Reservations, models.TableReservations, payload)
}

// UpdateReservation patches a reservation row.
func (m *Mutator) UpdateReservation(ctx context.Context, id string, patch models.Row) (models.Reservation, error) {
	return updateEntity(ctx, m, m.caches.Reservations, models.TableReservations, id, patch)
}

// DeleteReservation removes a reservation row.
func (m *Mutator) DeleteReservation(ctx context.Context, id string) error {
	return deleteEntity(ctx, m, m.caches.Reservations, models.TableReservations, id)
}

// carSnapshot denormalizes a car's make/model/year from the cache. Unloaded
// references fall back to raw ids; the snapshot is informational.
func (m *Mutator) carSnapshot(carID string) models.CarSnapshot {
	car, ok := m.caches.Cars.GetByID(carID)
	if !ok {
		return models.CarSnapshot{}
	}
	snapshot := models.CarSnapshot{Make: car.MakeID, Model: car.ModelID, Year: car.Year}
	if mk, ok := m.caches.Makes.GetByID(car.MakeID); ok {
		snapshot.Make = mk.Name
	}
	if md, ok := m.caches.Models.GetByID(car.ModelID); ok {
		snapshot.Model = md.Name
	}
	return snapshot
}

func (m *Mutator) publish(ctx context.Context, table, op string, row models.Row) {
	if m.publisher == nil {
		return
	}
	event := models.ChangeEvent{
		EventID:   uuid.New().String(),
		Table:     table,
		Op:        op,
		Row:       row,
		Timestamp: time.Now(),
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Error("Failed to publish change event",
			zap.String("table", table), zap.String("op", op), zap.Error(err))
	}
}

func createEntity[T models.Entity](ctx context.Context, m *Mutator, s *cache.Store[T], table string, payload models.Row) (T, error) {
	var zero T
	if _, ok := payload["id"]; !ok {
		payload["id"] = uuid.New().String()
	}

	row, err := m.store.Insert(ctx, table, payload)
	if err != nil {
		util.MutationFailuresTotal.WithLabelValues(table, models.OpInsert).Inc()
		return zero, fmt.Errorf("failed to create %s: %w", table, err)
	}

	item, err := backing.DecodeRow[T](row)
	if err != nil {
		return zero, fmt.Errorf("failed to decode created %s: %w", table, err)
	}

	s.UpsertMany(item)
	m.publish(ctx, table, models.OpInsert, row)
	util.MutationsTotal.WithLabelValues(table, models.OpInsert).Inc()
	return item, nil
}

func updateEntity[T models.Entity](ctx context.Context, m *Mutator, s *cache.Store[T], table, id string, patch models.Row) (T, error) {
	var zero T
	row, err := m.store.Update(ctx, table, id, patch)
	if err != nil {
		util.MutationFailuresTotal.WithLabelValues(table, models.OpUpdate).Inc()
		return zero, fmt.Errorf("failed to update %s/%s: %w", table, id, err)
	}

	merged, err := s.MergeRow(row)
	if err != nil {
		return zero, err
	}

	m.publish(ctx, table, models.OpUpdate, row)
	util.MutationsTotal.WithLabelValues(table, models.OpUpdate).Inc()
	return merged, nil
}

func deleteEntity[T models.Entity](ctx context.Context, m *Mutator, s *cache.Store[T], table, id string) error {
	if err := m.store.Delete(ctx, table, id); err != nil {
		util.MutationFailuresTotal.WithLabelValues(table, models.OpDelete).Inc()
		return fmt.Errorf("failed to delete %s/%s: %w", table, id, err)
	}

	m.guard.MarkDeleted(id)
	s.RemoveMany(id)
	m.publish(ctx, table, models.OpDelete, models.Row{"id": id})
	util.MutationsTotal.WithLabelValues(table, models.OpDelete).Inc()
	return nil
}
