package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/metrics"
	"github.com/angelmondragon/storefront-engine/pkg/storage"
	"github.com/angelmondragon/storefront-engine/pkg/types"
)

// Change is delivered to subscribers after every successful mutation.
type Change struct {
	Orders      []types.OrderRecord
	ActiveCount int
}

type Listener func(Change)

// Reader exposes snapshot queries over the local order history.
type Reader interface {
	List() []types.OrderRecord
	Get(id string) (types.OrderRecord, bool)
	ActiveCount() int
	ListByStatus(statuses ...enums.OrderStatus) []types.OrderRecord
	Completed() []types.OrderRecord
	Cancelled() []types.OrderRecord
	Subscribe(fn Listener) (unsubscribe func())
}

// Writer records confirmed orders. Only order submission holds one.
type Writer interface {
	Upsert(ctx context.Context, record types.OrderRecord) (types.OrderRecord, error)
}

// StatusUpdater moves existing orders through their lifecycle. Tracking
// lookups hold one.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, status enums.OrderStatus) (types.OrderRecord, error)
	UpdateETA(ctx context.Context, id, eta string) error
}

// Service is the full ledger surface; hand out the narrower roles instead
// of Service wherever possible.
type Service interface {
	Reader
	Writer
	StatusUpdater
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Load(ctx context.Context) error
}

type service struct {
	store   storage.Store
	logg    *logger.Logger
	metrics *metrics.CommerceMetrics
	now     func() time.Time

	mu     sync.Mutex
	orders []types.OrderRecord

	subMu     sync.Mutex
	listeners map[int]Listener
	nextSub   int
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMetrics(m *metrics.CommerceMetrics) Option {
	return func(s *service) {
		s.metrics = m
	}
}

// NewService wires a ledger over the durable store.
func NewService(durable storage.Store, logg *logger.Logger, opts ...Option) (Service, error) {
	if durable == nil {
		return nil, fmt.Errorf("durable store required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	s := &service{
		store:     durable,
		logg:      logg,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *service) Load(ctx context.Context) error {
	var stored []types.OrderRecord
	if _, err := storage.GetJSON(ctx, s.store, storage.KeyOrders, &stored); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load orders")
	}

	seen := make(map[string]struct{}, len(stored))
	clean := make([]types.OrderRecord, 0, len(stored))
	for _, record := range stored {
		if record.ID == "" || !record.Status.IsValid() {
			continue
		}
		if _, dup := seen[record.ID]; dup {
			continue
		}
		seen[record.ID] = struct{}{}
		clean = append(clean, record)
	}

	s.mu.Lock()
	s.orders = clean
	change := s.changeLocked()
	s.mu.Unlock()

	s.metrics.SetActiveOrders(change.ActiveCount)
	return nil
}

func (s *service) List() []types.OrderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrders(s.orders)
}

func (s *service) Get(id string) (types.OrderRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := indexOf(s.orders, id)
	if idx < 0 {
		return types.OrderRecord{}, false
	}
	return cloneOrder(s.orders[idx]), true
}

func (s *service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return activeCount(s.orders)
}

func (s *service) ListByStatus(statuses ...enums.OrderStatus) []types.OrderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.OrderRecord, 0)
	for _, record := range s.orders {
		for _, status := range statuses {
			if record.Status == status {
				out = append(out, cloneOrder(record))
				break
			}
		}
	}
	return out
}

func (s *service) Completed() []types.OrderRecord {
	return s.ListByStatus(enums.OrderStatusDelivered)
}

func (s *service) Cancelled() []types.OrderRecord {
	return s.ListByStatus(enums.OrderStatusCancelled)
}

func (s *service) Upsert(ctx context.Context, record types.OrderRecord) (types.OrderRecord, error) {
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		return types.OrderRecord{}, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if record.Status == "" {
		record.Status = enums.OrderStatusPending
	}
	if !record.Status.IsValid() {
		return types.OrderRecord{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", record.Status))
	}

	var result types.OrderRecord
	err := s.mutate(ctx, func(orders []types.OrderRecord, now time.Time) ([]types.OrderRecord, error) {
		idx := indexOf(orders, record.ID)
		if idx < 0 {
			if record.CreatedAt.IsZero() {
				record.CreatedAt = now
			}
			record.LastUpdated = now
			result = record
			return append([]types.OrderRecord{record}, orders...), nil
		}
		merged := s.merge(ctx, orders[idx], record)
		merged.LastUpdated = now
		orders[idx] = merged
		result = merged
		return orders, nil
	})
	if err != nil {
		return types.OrderRecord{}, err
	}
	s.logg.Info(s.logg.WithFields(s.logg.WithOrderID(ctx, result.ID), map[string]any{"status": result.Status}), "ledger.upsert")
	return cloneOrder(result), nil
}

func (s *service) UpdateStatus(ctx context.Context, id string, status enums.OrderStatus) (types.OrderRecord, error) {
	if !status.IsValid() {
		return types.OrderRecord{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", status))
	}
	var result types.OrderRecord
	err := s.mutate(ctx, func(orders []types.OrderRecord, now time.Time) ([]types.OrderRecord, error) {
		idx := indexOf(orders, id)
		if idx < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		current := orders[idx]
		if current.Status == status {
			result = current
			return nil, errUnchanged
		}
		if !current.Status.CanAdvanceTo(status) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot move order from %s to %s", current.Status, status)).
				WithDetails(map[string]any{"from": current.Status, "to": status})
		}
		current.Status = status
		current.LastUpdated = now
		orders[idx] = current
		result = current
		return orders, nil
	})
	if err != nil {
		return types.OrderRecord{}, err
	}
	return cloneOrder(result), nil
}

func (s *service) UpdateETA(ctx context.Context, id, eta string) error {
	eta = strings.TrimSpace(eta)
	return s.mutate(ctx, func(orders []types.OrderRecord, now time.Time) ([]types.OrderRecord, error) {
		idx := indexOf(orders, id)
		if idx < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if eta == "" || orders[idx].ETA == eta {
			return nil, errUnchanged
		}
		orders[idx].ETA = eta
		orders[idx].LastUpdated = now
		return orders, nil
	})
}

func (s *service) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, func(orders []types.OrderRecord, _ time.Time) ([]types.OrderRecord, error) {
		idx := indexOf(orders, id)
		if idx < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return append(orders[:idx], orders[idx+1:]...), nil
	})
}

func (s *service) Clear(ctx context.Context) error {
	s.mu.Lock()
	if err := s.store.Remove(ctx, storage.KeyOrders); err != nil {
		s.mu.Unlock()
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear orders")
	}
	s.orders = nil
	change := s.changeLocked()
	s.mu.Unlock()

	s.notify(change)
	return nil
}

func (s *service) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.listeners, id)
			s.subMu.Unlock()
		})
	}
}

var errUnchanged = pkgerrors.New(pkgerrors.CodeStateConflict, "ledger unchanged")

func (s *service) mutate(ctx context.Context, fn func([]types.OrderRecord, time.Time) ([]types.OrderRecord, error)) error {
	s.mu.Lock()
	next, err := fn(cloneOrders(s.orders), s.now().UTC())
	if err == errUnchanged {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := storage.SetJSON(ctx, s.store, storage.KeyOrders, next); err != nil {
		s.mu.Unlock()
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist orders")
	}
	s.orders = next
	change := s.changeLocked()
	s.mu.Unlock()

	s.notify(change)
	return nil
}

// merge overlays the non-empty fields of update onto existing. Status only
// moves forward along the lifecycle.
func (s *service) merge(ctx context.Context, existing, update types.OrderRecord) types.OrderRecord {
	merged := existing
	if update.Status != existing.Status {
		if existing.Status.CanAdvanceTo(update.Status) {
			merged.Status = update.Status
		} else {
			s.logg.Warn(s.logg.WithFields(s.logg.WithOrderID(ctx, existing.ID), map[string]any{
				"from": existing.Status,
				"to":   update.Status,
			}), "ledger.upsert.status_ignored")
		}
	}
	if len(update.Items) > 0 {
		merged.Items = update.Items
	}
	if !update.Totals.Total.IsZero() || !update.Totals.Subtotal.IsZero() {
		merged.Totals = update.Totals
	}
	if update.DeliveryMethod != "" {
		merged.DeliveryMethod = update.DeliveryMethod
	}
	if update.BranchID != "" {
		merged.BranchID = update.BranchID
	}
	if update.AddressInputType != "" {
		merged.AddressInputType = update.AddressInputType
	}
	if update.Customer != (types.Customer{}) {
		merged.Customer = update.Customer
	}
	if update.ETA != "" {
		merged.ETA = update.ETA
	}
	if update.CouponCode != "" {
		merged.CouponCode = update.CouponCode
	}
	if update.DeliveryInfo != (types.DeliveryInfo{}) {
		merged.DeliveryInfo = update.DeliveryInfo
	}
	return merged
}

func (s *service) changeLocked() Change {
	return Change{Orders: cloneOrders(s.orders), ActiveCount: activeCount(s.orders)}
}

func (s *service) notify(change Change) {
	s.metrics.SetActiveOrders(change.ActiveCount)

	s.subMu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

func activeCount(orders []types.OrderRecord) int {
	count := 0
	for _, record := range orders {
		if record.Status.IsActive() {
			count++
		}
	}
	return count
}

func indexOf(orders []types.OrderRecord, id string) int {
	id = strings.TrimSpace(id)
	for i, record := range orders {
		if record.ID == id {
			return i
		}
	}
	return -1
}

func cloneOrders(orders []types.OrderRecord) []types.OrderRecord {
	out := make([]types.OrderRecord, 0, len(orders))
	for _, record := range orders {
		out = append(out, cloneOrder(record))
	}
	return out
}

func cloneOrder(record types.OrderRecord) types.OrderRecord {
	if record.Items != nil {
		items := make([]types.OrderItem, len(record.Items))
		copy(items, record.Items)
		record.Items = items
	}
	if record.DeliveryInfo.DistanceKm != nil {
		distance := *record.DeliveryInfo.DistanceKm
		record.DeliveryInfo.DistanceKm = &distance
	}
	return record
}
