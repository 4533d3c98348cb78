package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-engine/internal/ledger"
	"github.com/angelmondragon/storefront-engine/internal/pricing"
	"github.com/angelmondragon/storefront-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/metrics"
	"github.com/angelmondragon/storefront-engine/pkg/transport"
	"github.com/angelmondragon/storefront-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	submitPath        = "/orders/submit"
	defaultETA        = "30-45 minutes"
	defaultAttempts   = 3
	defaultSubmitWait = 30 * time.Second
)

// Backend is the slice of the request orchestrator used for submission.
type Backend interface {
	Do(ctx context.Context, req transport.Request) (*transport.Response, error)
}

type DeviceIDs interface {
	DeviceID(ctx context.Context) (string, error)
}

type CartClearer interface {
	Clear(ctx context.Context) error
}

type CouponClearer interface {
	Clear()
}

// Request is one checkout attempt. Subtotal, Total and Discount exist only
// to catch callers that try to send money; they must stay nil.
type Request struct {
	Lines []types.OrderLine
	// ClientLines are items echoed by an outer client. They are only checked
	// for smuggled prices; Lines is what gets ordered.
	ClientLines []types.OrderLine
	Subtotal    *decimal.Decimal
	Total       *decimal.Decimal
	Discount    *decimal.Decimal
	Delivery    types.DeliveryContext
	Customer    types.Customer
	Coupon      types.CouponState
	// Quote is the last price shown; used for the local record when the
	// backend omits calculatedPrices.
	Quote *types.PriceQuote
}

type Service interface {
	Submit(ctx context.Context, req Request) (*types.OrderRecord, error)
	InFlight() bool
}

type submitItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type submitCustomer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

type submitRequest struct {
	Items            []submitItem           `json:"items"`
	Customer         submitCustomer         `json:"customer"`
	CustomerPhone    string                 `json:"customerPhone"`
	DeliveryMethod   enums.DeliveryMethod   `json:"deliveryMethod"`
	Branch           string                 `json:"branch,omitempty"`
	Location         *types.Location        `json:"location,omitempty"`
	AddressInputType enums.AddressInputType `json:"addressInputType,omitempty"`
	DeliveryAddress  string                 `json:"deliveryAddress,omitempty"`
	DeviceID         string                 `json:"deviceId,omitempty"`
	CouponCode       string                 `json:"couponCode,omitempty"`
	IdempotencyKey   string                 `json:"idempotencyKey"`
}

type submitResponse struct {
	OrderID          string          `json:"orderId"`
	ID               string          `json:"id"`
	ETA              string          `json:"eta"`
	ETAAr            string          `json:"etaAr"`
	CalculatedPrices json.RawMessage `json:"calculatedPrices"`
}

type service struct {
	backend  Backend
	ids      DeviceIDs
	orders   ledger.Writer
	cart     CartClearer
	coupon   CouponClearer
	catalog  *pricing.Catalog
	logg     *logger.Logger
	metrics  *metrics.CommerceMetrics
	now      func() time.Time
	newKey   func() string
	eta      string
	attempts int
	timeout  time.Duration

	mu       sync.Mutex
	inFlight bool
}

type Option func(*service)

func WithCatalog(catalog *pricing.Catalog) Option {
	return func(s *service) {
		s.catalog = catalog
	}
}

func WithMetrics(m *metrics.CommerceMetrics) Option {
	return func(s *service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultETA sets the eta recorded when the backend sends none.
func WithDefaultETA(eta string) Option {
	return func(s *service) {
		if strings.TrimSpace(eta) != "" {
			s.eta = strings.TrimSpace(eta)
		}
	}
}

// WithSubmitPolicy overrides the attempt budget and per-attempt timeout.
func WithSubmitPolicy(attempts int, timeout time.Duration) Option {
	return func(s *service) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func WithIdempotencyKeyGenerator(fn func() string) Option {
	return func(s *service) {
		if fn != nil {
			s.newKey = fn
		}
	}
}

func NewService(backend Backend, ids DeviceIDs, orders ledger.Writer, cart CartClearer, coupon CouponClearer, logg *logger.Logger, opts ...Option) (Service, error) {
	if backend == nil {
		return nil, fmt.Errorf("checkout backend required")
	}
	if ids == nil {
		return nil, fmt.Errorf("device identity required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order ledger required")
	}
	if cart == nil {
		return nil, fmt.Errorf("cart required")
	}
	if coupon == nil {
		return nil, fmt.Errorf("coupon validator required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	s := &service{
		backend:  backend,
		ids:      ids,
		orders:   orders,
		cart:     cart,
		coupon:   coupon,
		logg:     logg,
		now:      time.Now,
		newKey:   uuid.NewString,
		eta:      defaultETA,
		attempts: defaultAttempts,
		timeout:  defaultSubmitWait,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *service) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Submit places the order. Local checks run first and never touch the
// network; on any failure nothing local is mutated.
func (s *service) Submit(ctx context.Context, req Request) (*types.OrderRecord, error) {
	record, err := s.submit(ctx, req)
	if err != nil {
		s.metrics.IncSubmission(string(pkgerrors.CodeOf(err)))
		return nil, err
	}
	s.metrics.IncSubmission("ok")
	return record, nil
}

func (s *service) submit(ctx context.Context, req Request) (*types.OrderRecord, error) {
	if err := ValidateForm(req); err != nil {
		return nil, err
	}
	if err := scanForPrices(req); err != nil {
		s.logg.Error(ctx, "checkout.security.violation", err)
		return nil, err
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "an order submission is already in progress")
	}
	s.inFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	key := s.newKey()
	ctx = s.logg.WithField(ctx, "idempotency_key", key)
	body := s.payload(ctx, req, key)

	resp, err := s.backend.Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           submitPath,
		Body:           body,
		Timeout:        s.timeout,
		MaxAttempts:    s.attempts,
		IdempotencyKey: key,
	})
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "checkout.submit.failed")
		return nil, err
	}

	var out submitResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	orderID := strings.TrimSpace(out.OrderID)
	if orderID == "" {
		orderID = strings.TrimSpace(out.ID)
	}
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "order id missing from submission response")
	}

	ctx = s.logg.WithOrderID(ctx, orderID)
	record := s.buildRecord(ctx, orderID, req, out)

	saved, err := s.orders.Upsert(ctx, record)
	if err != nil {
		s.logg.Error(ctx, "checkout.ledger.persist_failed", err)
	} else {
		record = saved
	}
	if err := s.cart.Clear(ctx); err != nil {
		s.logg.Error(ctx, "checkout.cart.clear_failed", err)
	}
	s.coupon.Clear()

	s.logg.Info(s.logg.WithField(ctx, "total", record.Totals.Total.String()), "checkout.submit.confirmed")
	return &record, nil
}

func (s *service) payload(ctx context.Context, req Request, key string) submitRequest {
	items := make([]submitItem, 0, len(req.Lines))
	for _, line := range req.Lines {
		items = append(items, submitItem{ProductID: strings.TrimSpace(line.ProductID), Quantity: line.Quantity})
	}
	deviceID, err := s.ids.DeviceID(ctx)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "checkout.device_id.unavailable")
	}
	phone := types.DigitsOnly(req.Customer.Phone)
	body := submitRequest{
		Items: items,
		Customer: submitCustomer{
			Name:  strings.TrimSpace(req.Customer.Name),
			Phone: phone,
			Notes: strings.TrimSpace(req.Customer.Notes),
		},
		CustomerPhone:    phone,
		DeliveryMethod:   req.Delivery.Method,
		Branch:           req.Delivery.Branch(),
		AddressInputType: req.Delivery.AddressInputType(),
		DeviceID:         deviceID,
		CouponCode:       req.Coupon.AppliedCode(),
		IdempotencyKey:   key,
	}
	if req.Delivery.Method == enums.DeliveryMethodDelivery {
		address := strings.TrimSpace(req.Customer.Address)
		body.Customer.Address = address
		body.DeliveryAddress = address
	}
	if req.Delivery.Location != nil {
		loc := *req.Delivery.Location
		body.Location = &loc
	}
	return body
}

func (s *service) buildRecord(ctx context.Context, orderID string, req Request, out submitResponse) types.OrderRecord {
	quote, confirmed := types.PriceQuote{}, false
	if len(out.CalculatedPrices) > 0 {
		q, err := pricing.NormalizeQuote(out.CalculatedPrices)
		if err == nil {
			quote, confirmed = q, true
		} else {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "checkout.response.prices_unreadable")
		}
	}
	if !confirmed {
		// Without backend prices the record only reflects the last shown
		// quote, and never an offline estimate.
		if req.Quote != nil && !req.Quote.IsOffline {
			quote = *req.Quote
		}
		quote.DeliveryInfo.IsEstimated = true
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"order_id":   orderID,
			"last_quote": req.Quote != nil && !req.Quote.IsOffline,
		}), "checkout.response.prices_missing")
	}

	eta := strings.TrimSpace(out.ETA)
	if eta == "" {
		eta = strings.TrimSpace(out.ETAAr)
	}
	if eta == "" {
		eta = s.eta
	}

	now := s.now().UTC()
	customer := types.Customer{
		Name:  strings.TrimSpace(req.Customer.Name),
		Phone: types.DigitsOnly(req.Customer.Phone),
		Notes: strings.TrimSpace(req.Customer.Notes),
	}
	if req.Delivery.Method == enums.DeliveryMethodDelivery {
		customer.Address = strings.TrimSpace(req.Customer.Address)
	}

	return types.OrderRecord{
		ID:          orderID,
		Status:      enums.OrderStatusConfirmed,
		CreatedAt:   now,
		LastUpdated: now,
		Items:       s.recordItems(req.Lines, quote),
		Totals: types.Totals{
			Subtotal:    quote.Subtotal,
			DeliveryFee: quote.DeliveryFee,
			Discount:    quote.Discount,
			Total:       quote.Total,
		},
		DeliveryMethod:   req.Delivery.Method,
		BranchID:         req.Delivery.Branch(),
		AddressInputType: req.Delivery.AddressInputType(),
		Customer:         customer,
		ETA:              eta,
		CouponCode:       req.Coupon.AppliedCode(),
		DeliveryInfo:     quote.DeliveryInfo,
	}
}

// recordItems prefers quoted lines and falls back to the submitted ones
// priced from the catalog.
func (s *service) recordItems(lines []types.OrderLine, quote types.PriceQuote) []types.OrderItem {
	if len(quote.Items) > 0 {
		items := make([]types.OrderItem, 0, len(quote.Items))
		for _, item := range quote.Items {
			items = append(items, types.OrderItem{
				ProductID: item.ProductID,
				Name:      s.itemName(item.ProductID, item.Name),
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
				LineTotal: item.LineTotal,
			})
		}
		return items
	}

	items := make([]types.OrderItem, 0, len(lines))
	for _, line := range lines {
		unit := decimal.Zero
		if s.catalog != nil {
			unit, _ = s.catalog.Price(line.ProductID)
		}
		items = append(items, types.OrderItem{
			ProductID: line.ProductID,
			Name:      s.itemName(line.ProductID, ""),
			Quantity:  line.Quantity,
			UnitPrice: unit,
			LineTotal: unit.Mul(decimal.NewFromInt(int64(line.Quantity))),
		})
	}
	return items
}

func (s *service) itemName(productID, quoted string) string {
	if quoted != "" {
		return quoted
	}
	if s.catalog != nil {
		if name := s.catalog.Name(productID); name != "" {
			return name
		}
	}
	return "Product " + productID
}
