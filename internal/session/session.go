package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/angelmondragon/storefront-engine/internal/cart"
	"github.com/angelmondragon/storefront-engine/internal/checkout"
	"github.com/angelmondragon/storefront-engine/internal/coupon"
	"github.com/angelmondragon/storefront-engine/internal/geo"
	"github.com/angelmondragon/storefront-engine/internal/identity"
	"github.com/angelmondragon/storefront-engine/internal/ledger"
	"github.com/angelmondragon/storefront-engine/internal/pricing"
	"github.com/angelmondragon/storefront-engine/internal/tracking"
	"github.com/angelmondragon/storefront-engine/pkg/config"
	"github.com/angelmondragon/storefront-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/metrics"
	"github.com/angelmondragon/storefront-engine/pkg/storage"
	"github.com/angelmondragon/storefront-engine/pkg/transport"
	"github.com/angelmondragon/storefront-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// Backend is the orchestrator surface the session relies on.
type Backend interface {
	pricing.Backend
	CancelAll() int
}

// Deps are the collaborators New wires together.
type Deps struct {
	Config   config.Config
	Backend  Backend
	Stores   storage.Tiers
	Logger   *logger.Logger
	Metrics  *metrics.CommerceMetrics
	Location geo.Provider
	// Closers are released by Close after the components stop.
	Closers []io.Closer
}

// Session is one storefront browsing session: a cart, its live price, the
// coupon entry, checkout, and the device's order history.
type Session struct {
	ID       string
	Identity identity.Service
	Cart     cart.Service
	Catalog  *pricing.Catalog
	Pricing  *pricing.Engine
	Coupon   coupon.Service
	Checkout checkout.Service
	Orders   ledger.Service
	Tracking tracking.Service

	backend  Backend
	location geo.Provider
	logg     *logger.Logger
	closers  []io.Closer
	unsubs   []func()

	mu       sync.Mutex
	delivery types.DeliveryContext
	phone    string

	closeOnce sync.Once
	closeErr  error
}

func New(ctx context.Context, deps Deps) (*Session, error) {
	if deps.Backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if err := deps.Stores.Validate(); err != nil {
		return nil, err
	}
	logg := deps.Logger
	if logg == nil {
		logg = logger.Nop()
	}

	ids, err := identity.NewService(deps.Stores.Durable, logg)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:       ids.SessionID(),
		Identity: ids,
		backend:  deps.Backend,
		location: deps.Location,
		logg:     logg,
		closers:  deps.Closers,
	}
	ctx = logg.WithSessionID(ctx, s.ID)

	if s.Cart, err = cart.NewService(deps.Stores.Ephemeral, logg); err != nil {
		return nil, err
	}
	if s.Orders, err = ledger.NewService(deps.Stores.Durable, logg, ledger.WithMetrics(deps.Metrics)); err != nil {
		return nil, err
	}
	s.Catalog = pricing.NewCatalog(deps.Config.Pricing.CatalogTTL, nil)
	if s.Pricing, err = pricing.NewEngine(deps.Backend, s.Catalog, ids, logg,
		pricing.WithDebounce(deps.Config.Pricing.Debounce),
		pricing.WithOfflineDeliveryFee(deps.Config.Pricing.OfflineDeliveryFee),
		pricing.WithMetrics(deps.Metrics),
	); err != nil {
		return nil, err
	}
	if s.Coupon, err = coupon.NewService(deps.Backend, ids, logg); err != nil {
		return nil, err
	}
	if s.Checkout, err = checkout.NewService(deps.Backend, ids, s.Orders, s.Cart, s.Coupon, logg,
		checkout.WithCatalog(s.Catalog),
		checkout.WithMetrics(deps.Metrics),
		checkout.WithDefaultETA(deps.Config.Checkout.DefaultETA),
		checkout.WithSubmitPolicy(deps.Config.Checkout.SubmitAttempts, deps.Config.Checkout.SubmitTimeout),
	); err != nil {
		return nil, err
	}
	if s.Tracking, err = tracking.NewService(deps.Backend, s.Orders, s.Orders, logg); err != nil {
		return nil, err
	}

	if err := s.Cart.Load(ctx); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "session.cart.load_failed")
	}
	if err := s.Orders.Load(ctx); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "session.orders.load_failed")
	}
	if _, err := ids.DeviceID(ctx); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "session.device_id.unavailable")
	}

	s.unsubs = append(s.unsubs,
		s.Cart.Subscribe(func(cart.Snapshot) { s.reprice() }),
		s.Coupon.Subscribe(func(types.CouponState) { s.reprice() }),
	)
	logg.Info(ctx, "session.started")
	return s, nil
}

// Input assembles the current pricing input.
func (s *Session) Input() pricing.Input {
	s.mu.Lock()
	delivery := s.delivery
	if delivery.Location != nil {
		loc := *delivery.Location
		delivery.Location = &loc
	}
	phone := s.phone
	s.mu.Unlock()
	return pricing.Input{
		Lines:    s.Cart.Lines(),
		Delivery: delivery,
		Coupon:   s.Coupon.State(),
		Phone:    phone,
	}
}

func (s *Session) Delivery() types.DeliveryContext {
	return s.Input().Delivery
}

// SetDelivery replaces the fulfilment choice and schedules a new quote.
func (s *Session) SetDelivery(delivery types.DeliveryContext) error {
	if delivery.Method != "" && !delivery.Method.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown delivery method %q", delivery.Method))
	}
	delivery.BranchID = strings.TrimSpace(delivery.BranchID)
	delivery.AddressText = strings.TrimSpace(delivery.AddressText)
	if delivery.Location != nil {
		loc := *delivery.Location
		delivery.Location = &loc
	}
	s.mu.Lock()
	s.delivery = delivery
	s.mu.Unlock()
	s.reprice()
	return nil
}

// SetPhone records the customer phone used for pricing and coupons. It does
// not trigger a new quote on its own.
func (s *Session) SetPhone(phone string) {
	s.mu.Lock()
	s.phone = strings.TrimSpace(phone)
	s.mu.Unlock()
}

// UseCurrentLocation reads a position, switches to delivery, and fills the
// address line when empty.
func (s *Session) UseCurrentLocation(ctx context.Context) (types.Location, error) {
	if s.location == nil {
		return types.Location{}, &geo.Error{Kind: geo.KindUnavailable}
	}
	loc, err := s.location.GetPosition(ctx)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "kind", string(geo.KindOf(err))), "session.location.failed")
		return types.Location{}, err
	}
	s.mu.Lock()
	s.delivery.Method = enums.DeliveryMethodDelivery
	s.delivery.Location = &loc
	if s.delivery.AddressText == "" {
		s.delivery.AddressText = geo.Describe(loc)
	}
	s.mu.Unlock()
	s.reprice()
	return loc, nil
}

// Quote recalculates immediately.
func (s *Session) Quote(ctx context.Context) (types.PriceQuote, error) {
	return s.Pricing.Recompute(ctx, s.Input())
}

// ApplyCoupon validates code against the current subtotal.
func (s *Session) ApplyCoupon(ctx context.Context, code string) coupon.Result {
	in := s.Input()
	subtotal := pricing.Estimate(s.Catalog, in, decimal.Zero).Subtotal
	if latest, ok := s.Pricing.Latest(); ok && !latest.IsOffline && latest.Subtotal.IsPositive() {
		subtotal = latest.Subtotal
	}
	return s.Coupon.Validate(ctx, code, in.Phone, subtotal)
}

func (s *Session) EditCoupon(code string) {
	s.Coupon.SetCode(code)
}

func (s *Session) RemoveCoupon() {
	s.Coupon.Clear()
}

// LeaveCheckout aborts pending pricing and coupon work. Order submissions
// are not cancellable and keep running.
func (s *Session) LeaveCheckout() int {
	s.Pricing.Cancel()
	s.Coupon.Cancel()
	n := s.backend.CancelAll()
	s.logg.Debug(s.logg.WithField(context.Background(), "cancelled", n), "session.checkout.left")
	return n
}

// CheckoutRequest assembles a submission for the current cart. Blank
// customer phone and address fall back to what the session already knows.
func (s *Session) CheckoutRequest(customer types.Customer) checkout.Request {
	in := s.Input()
	if strings.TrimSpace(customer.Phone) == "" {
		customer.Phone = in.Phone
	}
	if strings.TrimSpace(customer.Address) == "" {
		customer.Address = in.Delivery.AddressText
	}
	req := checkout.Request{
		Lines:    types.OrderLinesFromCart(in.Lines),
		Delivery: in.Delivery,
		Customer: customer,
		Coupon:   in.Coupon,
	}
	if latest, ok := s.Pricing.Latest(); ok {
		req.Quote = &latest
	}
	return req
}

// Submit places req and resets the checkout state on success.
func (s *Session) Submit(ctx context.Context, req checkout.Request) (*types.OrderRecord, error) {
	record, err := s.Checkout.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	s.Pricing.Reset()
	s.mu.Lock()
	s.delivery = types.DeliveryContext{}
	s.mu.Unlock()
	return record, nil
}

// PlaceOrder submits the current cart for customer.
func (s *Session) PlaceOrder(ctx context.Context, customer types.Customer) (*types.OrderRecord, error) {
	return s.Submit(ctx, s.CheckoutRequest(customer))
}

// RefreshCatalog reloads product prices when the cache expired.
func (s *Session) RefreshCatalog(ctx context.Context) error {
	return s.Catalog.Refresh(ctx, s.backend)
}

// Close stops background work and releases the stores. It is safe to call
// more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		for _, unsub := range s.unsubs {
			unsub()
		}
		s.Coupon.Cancel()
		err := s.Pricing.Close()
		for _, c := range s.closers {
			if c != nil {
				err = multierr.Append(err, c.Close())
			}
		}
		s.closeErr = err
	})
	return s.closeErr
}

func (s *Session) reprice() {
	in := s.Input()
	if len(in.Lines) == 0 {
		s.Pricing.Reset()
		return
	}
	if !in.Delivery.Method.IsValid() {
		s.Pricing.Cancel()
		return
	}
	s.Pricing.Trigger(in)
}

var _ Backend = (*transport.Client)(nil)
