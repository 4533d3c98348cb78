package cart

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/storage"
	"github.com/angelmondragon/storefront-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// MaxQuantity is the per-line ceiling enforced before any network call.
const MaxQuantity = 50

// Snapshot is the cart state delivered to subscribers. Version increases
// with every mutation so late deliveries can be recognized.
type Snapshot struct {
	Lines   []types.CartLine
	Count   int
	Version uint64
}

// Listener receives a snapshot after every persisted mutation.
type Listener func(Snapshot)

// PriceLookup resolves a unit price for display totals.
type PriceLookup func(productID string) (decimal.Decimal, bool)

// Service is the cart store. It never talks to the network.
type Service interface {
	Add(ctx context.Context, productID string, qty int) error
	Remove(ctx context.Context, productID string) error
	SetQuantity(ctx context.Context, productID string, qty int) error
	Clear(ctx context.Context) error
	Count() int
	Total(lookup PriceLookup) decimal.Decimal
	Lines() []types.CartLine
	Get(productID string) (int, bool)
	Subscribe(fn Listener) (unsubscribe func())
	// Load restores the persisted cart, dropping lines that break the
	// quantity rules.
	Load(ctx context.Context) error
}

type service struct {
	store storage.Store
	logg  *logger.Logger

	mu      sync.Mutex
	lines   []types.CartLine
	version uint64

	subMu     sync.Mutex
	listeners map[int]Listener
	nextSub   int
}

// NewService wires a cart over the ephemeral store.
func NewService(ephemeral storage.Store, logg *logger.Logger) (Service, error) {
	if ephemeral == nil {
		return nil, fmt.Errorf("ephemeral store required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		store:     ephemeral,
		logg:      logg,
		listeners: make(map[int]Listener),
	}, nil
}

func (s *service) Add(ctx context.Context, productID string, qty int) error {
	id, err := normalizeID(productID)
	if err != nil {
		return err
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return s.mutate(ctx, func(lines []types.CartLine) ([]types.CartLine, error) {
		idx := indexOf(lines, id)
		if idx < 0 {
			if qty > MaxQuantity {
				return nil, s.ceiling(ctx, id, qty)
			}
			return append(lines, types.CartLine{ProductID: id, Quantity: qty}), nil
		}
		next := lines[idx].Quantity + qty
		if next > MaxQuantity {
			return nil, s.ceiling(ctx, id, next)
		}
		lines[idx].Quantity = next
		return lines, nil
	})
}

func (s *service) Remove(ctx context.Context, productID string) error {
	id, err := normalizeID(productID)
	if err != nil {
		return err
	}
	return s.mutate(ctx, func(lines []types.CartLine) ([]types.CartLine, error) {
		idx := indexOf(lines, id)
		if idx < 0 {
			return nil, errUnchanged
		}
		return append(lines[:idx], lines[idx+1:]...), nil
	})
}

func (s *service) SetQuantity(ctx context.Context, productID string, qty int) error {
	id, err := normalizeID(productID)
	if err != nil {
		return err
	}
	if qty < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	if qty == 0 {
		return s.Remove(ctx, id)
	}
	if qty > MaxQuantity {
		return s.ceiling(ctx, id, qty)
	}
	return s.mutate(ctx, func(lines []types.CartLine) ([]types.CartLine, error) {
		idx := indexOf(lines, id)
		if idx < 0 {
			return append(lines, types.CartLine{ProductID: id, Quantity: qty}), nil
		}
		if lines[idx].Quantity == qty {
			return nil, errUnchanged
		}
		lines[idx].Quantity = qty
		return lines, nil
	})
}

func (s *service) Clear(ctx context.Context) error {
	s.mu.Lock()
	if err := s.store.Remove(ctx, storage.KeyCart); err != nil {
		s.mu.Unlock()
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	s.lines = nil
	s.version++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

func (s *service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return countOf(s.lines)
}

func (s *service) Total(lookup PriceLookup) decimal.Decimal {
	total := decimal.Zero
	if lookup == nil {
		return total
	}
	for _, line := range s.Lines() {
		if price, ok := lookup(line.ProductID); ok {
			total = total.Add(price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
	}
	return total
}

func (s *service) Lines() []types.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLines(s.lines)
}

func (s *service) Get(productID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := indexOf(s.lines, strings.TrimSpace(productID))
	if idx < 0 {
		return 0, false
	}
	return s.lines[idx].Quantity, true
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

func (s *service) Load(ctx context.Context) error {
	var stored []types.CartLine
	found, err := storage.GetJSON(ctx, s.store, storage.KeyCart, &stored)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if !found {
		return nil
	}

	clean := make([]types.CartLine, 0, len(stored))
	dropped := 0
	for _, line := range stored {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" || line.Quantity < 1 || line.Quantity > MaxQuantity || indexOf(clean, line.ProductID) >= 0 {
			dropped++
			continue
		}
		clean = append(clean, line)
	}
	if dropped > 0 {
		s.logg.Warn(s.logg.WithField(ctx, "dropped", dropped), "cart.load.dropped_lines")
	}

	s.mu.Lock()
	s.lines = clean
	s.version++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

var errUnchanged = pkgerrors.New(pkgerrors.CodeStateConflict, "cart unchanged")

// mutate applies fn to a copy of the lines, persists the result, and only
// then commits and notifies. Returning errUnchanged skips all three.
func (s *service) mutate(ctx context.Context, fn func([]types.CartLine) ([]types.CartLine, error)) error {
	s.mu.Lock()
	next, err := fn(cloneLines(s.lines))
	if err == errUnchanged {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := storage.SetJSON(ctx, s.store, storage.KeyCart, next); err != nil {
		s.mu.Unlock()
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist cart")
	}
	s.lines = next
	s.version++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

func (s *service) ceiling(ctx context.Context, productID string, requested int) error {
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"product_id": productID,
		"requested":  requested,
		"max":        MaxQuantity,
	}), "cart.quantity.ceiling")
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("maximum quantity per item is %d", MaxQuantity)).
		WithDetails(map[string]any{"productId": productID, "requested": requested, "max": MaxQuantity})
}

func (s *service) snapshotLocked() Snapshot {
	return Snapshot{Lines: cloneLines(s.lines), Count: countOf(s.lines), Version: s.version}
}

func (s *service) notify(snap Snapshot) {
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
		fn(snap)
	}
}

func normalizeID(productID string) (string, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	return id, nil
}

func indexOf(lines []types.CartLine, productID string) int {
	for i, line := range lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

func countOf(lines []types.CartLine) int {
	total := 0
	for _, line := range lines {
		total += line.Quantity
	}
	return total
}

func cloneLines(lines []types.CartLine) []types.CartLine {
	if len(lines) == 0 {
		return []types.CartLine{}
	}
	out := make([]types.CartLine, len(lines))
	copy(out, lines)
	return out
}
