package pricing

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/metrics"
	"github.com/angelmondragon/storefront-engine/pkg/transport"
	"github.com/angelmondragon/storefront-engine/pkg/types"
	"github.com/shopspring/decimal"
)

const (
	defaultDebounce = 300 * time.Millisecond
	pricesPath      = "/orders/prices"
)

// Backend is the slice of the request orchestrator the engine needs.
type Backend interface {
	Do(ctx context.Context, req transport.Request) (*transport.Response, error)
	NewHandle() transport.Handle
	Cancel(h transport.Handle) bool
}

// DeviceIDs resolves the persistent device identifier.
type DeviceIDs interface {
	DeviceID(ctx context.Context) (string, error)
}

// Input is everything that influences a quote.
type Input struct {
	Lines    []types.CartLine
	Delivery types.DeliveryContext
	Coupon   types.CouponState
	Phone    string
}

// Listener receives every applied quote in generation order.
type Listener func(types.PriceQuote)

type priceItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type priceRequest struct {
	Items            []priceItem            `json:"items"`
	DeliveryMethod   enums.DeliveryMethod   `json:"deliveryMethod"`
	Branch           string                 `json:"branch,omitempty"`
	Location         *types.Location        `json:"location,omitempty"`
	AddressInputType enums.AddressInputType `json:"addressInputType,omitempty"`
	DeviceID         string                 `json:"deviceId,omitempty"`
	CouponCode       string                 `json:"couponCode,omitempty"`
	CustomerPhone    string                 `json:"customerPhone,omitempty"`
}

// Engine keeps the displayed price in line with the backend. Every trigger
// bumps a generation; only the response of the newest generation is applied.
type Engine struct {
	backend    Backend
	catalog    *Catalog
	ids        DeviceIDs
	logg       *logger.Logger
	metrics    *metrics.CommerceMetrics
	debounce   time.Duration
	offlineFee decimal.Decimal

	baseCtx context.Context
	stop    context.CancelFunc

	mu        sync.Mutex
	gen       uint64
	handle    transport.Handle
	timer     *time.Timer
	closed    bool
	latest    types.PriceQuote
	hasLatest bool

	notifyMu sync.Mutex
	notified uint64

	subMu     sync.Mutex
	listeners map[int]Listener
	nextSub   int
}

type EngineOption func(*Engine)

func WithDebounce(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.debounce = d
		}
	}
}

// WithOfflineDeliveryFee sets the flat fee used by offline estimates.
func WithOfflineDeliveryFee(fee decimal.Decimal) EngineOption {
	return func(e *Engine) {
		if !fee.IsNegative() {
			e.offlineFee = fee
		}
	}
}

func WithMetrics(m *metrics.CommerceMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

func NewEngine(backend Backend, catalog *Catalog, ids DeviceIDs, logg *logger.Logger, opts ...EngineOption) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("pricing backend required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if ids == nil {
		return nil, fmt.Errorf("device identity required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	ctx, stop := context.WithCancel(context.Background())
	e := &Engine{
		backend:    backend,
		catalog:    catalog,
		ids:        ids,
		logg:       logg,
		debounce:   defaultDebounce,
		offlineFee: decimal.NewFromInt(20),
		baseCtx:    ctx,
		stop:       stop,
		listeners:  make(map[int]Listener),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Trigger schedules a recalculation after the debounce window. Triggers
// arriving inside the window replace the pending one, and any request still
// in flight is cancelled immediately.
func (e *Engine) Trigger(in Input) {
	in = cloneInput(in)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.gen++
	gen := e.gen
	e.cancelInFlightLocked()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.debounce, func() { e.fire(gen, in) })
}

// Recompute recalculates immediately, superseding anything pending.
func (e *Engine) Recompute(ctx context.Context, in Input) (types.PriceQuote, error) {
	if !in.Delivery.Method.IsValid() {
		return types.PriceQuote{}, pkgerrors.New(pkgerrors.CodeValidation, "delivery method is required")
	}
	in = cloneInput(in)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return types.PriceQuote{}, pkgerrors.New(pkgerrors.CodeCancelled, "pricing engine closed")
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	gen := e.gen
	e.cancelInFlightLocked()
	h := e.backend.NewHandle()
	e.handle = h
	e.mu.Unlock()

	return e.run(ctx, gen, h, in)
}

// Latest returns the most recently applied quote.
func (e *Engine) Latest() (types.PriceQuote, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneQuote(e.latest), e.hasLatest
}

// Subscribe registers fn for applied quotes. Listeners must not call
// Recompute synchronously.
func (e *Engine) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.listeners[id] = fn
	e.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.listeners, id)
			e.subMu.Unlock()
		})
	}
}

// Cancel drops the pending trigger and aborts the in-flight request. Any
// response that still arrives is discarded as stale.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.cancelInFlightLocked()
}

// Reset cancels like Cancel and also forgets the latest quote, so nothing
// priced for an earlier cart stays visible.
func (e *Engine) Reset() {
	e.Cancel()
	e.mu.Lock()
	e.latest = types.PriceQuote{}
	e.hasLatest = false
	e.mu.Unlock()
}

func (e *Engine) Close() error {
	e.Cancel()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.stop()
	return nil
}

func (e *Engine) fire(gen uint64, in Input) {
	e.mu.Lock()
	if e.closed || gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	if !in.Delivery.Method.IsValid() {
		e.mu.Unlock()
		return
	}
	h := e.backend.NewHandle()
	e.handle = h
	e.mu.Unlock()

	if _, err := e.run(e.baseCtx, gen, h, in); err != nil && !pkgerrors.IsCancelled(err) {
		e.logg.Warn(e.logg.WithField(e.baseCtx, "error", err.Error()), "pricing.trigger.failed")
	}
}

func (e *Engine) run(ctx context.Context, gen uint64, h transport.Handle, in Input) (types.PriceQuote, error) {
	defer e.releaseHandle(h)

	if len(in.Lines) == 0 {
		return e.apply(ctx, gen, types.PriceQuote{Items: []types.LineQuote{}}, metrics.QuoteAuthoritative)
	}

	payload := e.payload(ctx, in)
	resp, err := e.backend.Do(ctx, transport.Request{
		Method:      http.MethodPost,
		Path:        pricesPath,
		Body:        payload,
		Cancellable: true,
		Handle:      h,
	})
	if err != nil {
		if pkgerrors.IsCancelled(err) {
			return types.PriceQuote{}, err
		}
		return e.fallback(ctx, gen, in, err)
	}

	quote, err := NormalizeQuote(resp.Body)
	if err != nil {
		return e.fallback(ctx, gen, in, err)
	}
	for i := range quote.Items {
		if quote.Items[i].Name == "" {
			quote.Items[i].Name = e.catalog.Name(quote.Items[i].ProductID)
		}
	}
	return e.apply(ctx, gen, quote, metrics.QuoteAuthoritative)
}

func (e *Engine) payload(ctx context.Context, in Input) priceRequest {
	items := make([]priceItem, 0, len(in.Lines))
	for _, line := range in.Lines {
		items = append(items, priceItem{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	deviceID, err := e.ids.DeviceID(ctx)
	if err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "pricing.device_id.unavailable")
	}
	req := priceRequest{
		Items:            items,
		DeliveryMethod:   in.Delivery.Method,
		Branch:           in.Delivery.Branch(),
		AddressInputType: in.Delivery.AddressInputType(),
		DeviceID:         deviceID,
		CouponCode:       in.Coupon.AppliedCode(),
		CustomerPhone:    types.DigitsOnly(in.Phone),
	}
	if in.Delivery.Method == enums.DeliveryMethodDelivery && in.Delivery.Location != nil {
		loc := *in.Delivery.Location
		req.Location = &loc
	}
	return req
}

func (e *Engine) fallback(ctx context.Context, gen uint64, in Input, cause error) (types.PriceQuote, error) {
	e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
		"generation": gen,
		"code":       string(pkgerrors.CodeOf(cause)),
		"error":      cause.Error(),
	}), "pricing.quote.offline")
	return e.apply(ctx, gen, Estimate(e.catalog, in, e.offlineFee), metrics.QuoteOffline)
}

func (e *Engine) apply(ctx context.Context, gen uint64, quote types.PriceQuote, source string) (types.PriceQuote, error) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		e.metrics.IncQuote(metrics.QuoteStale)
		e.logg.Debug(e.logg.WithField(ctx, "generation", gen), "pricing.quote.stale")
		return types.PriceQuote{}, pkgerrors.New(pkgerrors.CodeCancelled, "quote superseded by a newer request")
	}
	quote.Generation = gen
	e.latest = quote
	e.hasLatest = true
	e.mu.Unlock()

	e.metrics.IncQuote(source)
	e.notify(quote)
	return cloneQuote(quote), nil
}

func (e *Engine) notify(quote types.PriceQuote) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	if quote.Generation < e.notified {
		return
	}
	e.notified = quote.Generation

	e.subMu.Lock()
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.listeners[id])
	}
	e.subMu.Unlock()

	for _, fn := range fns {
		fn(cloneQuote(quote))
	}
}

func (e *Engine) cancelInFlightLocked() {
	if e.handle.IsZero() {
		return
	}
	e.backend.Cancel(e.handle)
	e.handle = transport.Handle{}
}

func (e *Engine) releaseHandle(h transport.Handle) {
	e.mu.Lock()
	if e.handle.ID == h.ID {
		e.handle = transport.Handle{}
	}
	e.mu.Unlock()
}

func cloneInput(in Input) Input {
	lines := make([]types.CartLine, len(in.Lines))
	copy(lines, in.Lines)
	in.Lines = lines
	if in.Delivery.Location != nil {
		loc := *in.Delivery.Location
		in.Delivery.Location = &loc
	}
	return in
}

func cloneQuote(q types.PriceQuote) types.PriceQuote {
	if q.Items != nil {
		items := make([]types.LineQuote, len(q.Items))
		copy(items, q.Items)
		q.Items = items
	}
	if q.DeliveryInfo.DistanceKm != nil {
		d := *q.DeliveryInfo.DistanceKm
		q.DeliveryInfo.DistanceKm = &d
	}
	return q
}
