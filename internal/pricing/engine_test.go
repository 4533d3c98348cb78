package pricing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/transport"
	"github.com/angelmondragon/storefront-engine/pkg/types"
	"github.com/shopspring/decimal"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

type staticIDs string

func (s staticIDs) DeviceID(context.Context) (string, error) {
	return string(s), nil
}

func newTestEngine(t *testing.T, rt roundTripFunc, opts ...EngineOption) (*Engine, *Catalog) {
	t.Helper()
	client, err := transport.NewClient("http://backend.test/api",
		transport.WithHTTPClient(&http.Client{Transport: rt}),
		transport.WithRetry(1, time.Millisecond, time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	catalog := NewCatalog(time.Minute, nil)
	catalog.Put(
		Product{ID: "p1", Name: "Koshary", Price: decimal.NewFromInt(10)},
		Product{ID: "p2", Name: "Falafel", Price: decimal.NewFromInt(5)},
	)
	engine, err := NewEngine(client, catalog, staticIDs("dev_test"), nil, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine, catalog
}

func decodeBody(t *testing.T, req *http.Request) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func pickupInput() Input {
	return Input{
		Lines:    []types.CartLine{{ProductID: "p1", Quantity: 2}},
		Delivery: types.DeliveryContext{Method: enums.DeliveryMethodPickup, BranchID: "maadi"},
		Phone:    "010-1234-5678",
	}
}

func TestRecomputePickupUsesAuthoritativePrices(t *testing.T) {
	var body map[string]any
	engine, _ := newTestEngine(t, func(req *http.Request) (*http.Response, error) {
		if got := req.URL.Query().Get("path"); got != "/orders/prices" {
			t.Fatalf("expected prices path, got %q", got)
		}
		body = decodeBody(t, req)
		return jsonResponse(http.StatusOK, `{"success":true,"data":{"calculatedPrices":{"subtotal":20,"deliveryFee":0,"discount":0,"total":20}}}`), nil
	})

	quote, err := engine.Recompute(context.Background(), pickupInput())
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !quote.Total.Equal(decimal.NewFromInt(20)) || !quote.DeliveryFee.IsZero() || quote.IsOffline {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	if body["branch"] != "maadi" || body["deliveryMethod"] != "pickup" {
		t.Fatalf("unexpected payload: %v", body)
	}
	if _, ok := body["location"]; ok {
		t.Fatalf("pickup payload must not carry a location: %v", body)
	}
	if _, ok := body["addressInputType"]; ok {
		t.Fatalf("pickup payload must not carry addressInputType: %v", body)
	}
	if _, ok := body["couponCode"]; ok {
		t.Fatalf("payload must not carry an unvalidated coupon: %v", body)
	}
	if body["customerPhone"] != "01012345678" || body["deviceId"] != "dev_test" {
		t.Fatalf("unexpected identity fields: %v", body)
	}
	latest, ok := engine.Latest()
	if !ok || latest.Generation != quote.Generation {
		t.Fatalf("expected latest to match returned quote")
	}
}

func TestRecomputeFallsBackToOfflineEstimate(t *testing.T) {
	engine, _ := newTestEngine(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, `{"success":false,"error":"down"}`), nil
	})

	discount := decimal.NewFromInt(5)
	in := Input{
		Lines: []types.CartLine{{ProductID: "p1", Quantity: 2}},
		Delivery: types.DeliveryContext{
			Method:   enums.DeliveryMethodDelivery,
			Location: &types.Location{Lat: 30.04, Lng: 31.23},
		},
		Coupon: types.CouponState{Code: "SAVE5", Status: enums.CouponStatusValid, DiscountAmount: &discount},
	}
	quote, err := engine.Recompute(context.Background(), in)
	if err != nil {
		t.Fatalf("fallback must not surface an error: %v", err)
	}
	if !quote.IsOffline || !quote.DeliveryInfo.IsEstimated {
		t.Fatalf("expected offline estimate, got %+v", quote)
	}
	if !quote.Subtotal.Equal(decimal.NewFromInt(20)) || !quote.DeliveryFee.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected subtotal/fee: %s/%s", quote.Subtotal, quote.DeliveryFee)
	}
	if !quote.Total.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("expected total 35, got %s", quote.Total)
	}
}

func TestEditedCouponDropsDiscountFromEstimate(t *testing.T) {
	var body map[string]any
	engine, _ := newTestEngine(t, func(req *http.Request) (*http.Response, error) {
		body = decodeBody(t, req)
		return nil, io.ErrUnexpectedEOF
	})

	discount := decimal.NewFromInt(5)
	in := pickupInput()
	in.Coupon = types.CouponState{Code: "SAVE", Status: enums.CouponStatusUnvalidated, DiscountAmount: &discount}

	quote, err := engine.Recompute(context.Background(), in)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !quote.Discount.IsZero() || !quote.Total.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected no discount, got %+v", quote)
	}
	if _, ok := body["couponCode"]; ok {
		t.Fatalf("unvalidated coupon must not be sent: %v", body)
	}
}

func TestEstimateNeverNegative(t *testing.T) {
	catalog := NewCatalog(0, nil)
	catalog.Put(Product{ID: "p1", Price: decimal.NewFromInt(3)})
	discount := decimal.NewFromInt(50)
	quote := Estimate(catalog, Input{
		Lines:    []types.CartLine{{ProductID: "p1", Quantity: 1}, {ProductID: "unknown", Quantity: 4}},
		Delivery: types.DeliveryContext{Method: enums.DeliveryMethodPickup},
		Coupon:   types.CouponState{Code: "BIG", Status: enums.CouponStatusValid, DiscountAmount: &discount},
	}, decimal.NewFromInt(20))
	if !quote.Total.IsZero() {
		t.Fatalf("expected total floored at zero, got %s", quote.Total)
	}
	if !quote.DeliveryFee.IsZero() {
		t.Fatalf("pickup must not carry a delivery fee")
	}
	if len(quote.Items) != 2 || !quote.Items[1].LineTotal.IsZero() {
		t.Fatalf("unexpected items: %+v", quote.Items)
	}
}

func TestRecomputeSupersedesInFlightRequest(t *testing.T) {
	started := make(chan struct{})
	var calls atomic.Int32
	engine, _ := newTestEngine(t, func(req *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-req.Context().Done()
			return nil, req.Context().Err()
		}
		return jsonResponse(http.StatusOK, `{"subtotal":30,"total":30}`), nil
	})

	var (
		mu       sync.Mutex
		received []types.PriceQuote
	)
	engine.Subscribe(func(q types.PriceQuote) {
		mu.Lock()
		received = append(received, q)
		mu.Unlock()
	})

	firstErr := make(chan error, 1)
	go func() {
		_, err := engine.Recompute(context.Background(), pickupInput())
		firstErr <- err
	}()
	<-started

	second, err := engine.Recompute(context.Background(), pickupInput())
	if err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	if err := <-firstErr; !pkgerrors.IsCancelled(err) {
		t.Fatalf("expected superseded request to be cancelled, got %v", err)
	}

	latest, _ := engine.Latest()
	if !latest.Total.Equal(decimal.NewFromInt(30)) || latest.Generation != second.Generation {
		t.Fatalf("expected latest generation to win, got %+v", latest)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].IsOffline {
		t.Fatalf("expected exactly one authoritative notification, got %+v", received)
	}
}

func TestLateResponseFromSupersededRequestIsDropped(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	engine, _ := newTestEngine(t, func(req *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return jsonResponse(http.StatusOK, `{"subtotal":99,"total":99}`), nil
		}
		return jsonResponse(http.StatusOK, `{"subtotal":30,"total":30}`), nil
	})

	var (
		mu       sync.Mutex
		received []types.PriceQuote
	)
	engine.Subscribe(func(q types.PriceQuote) {
		mu.Lock()
		received = append(received, q)
		mu.Unlock()
	})

	firstErr := make(chan error, 1)
	go func() {
		_, err := engine.Recompute(context.Background(), pickupInput())
		firstErr <- err
	}()
	<-started

	second, err := engine.Recompute(context.Background(), pickupInput())
	if err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	close(release)
	if err := <-firstErr; !pkgerrors.IsCancelled(err) {
		t.Fatalf("expected late response to be discarded, got %v", err)
	}

	latest, _ := engine.Latest()
	if !latest.Total.Equal(decimal.NewFromInt(30)) || latest.Generation != second.Generation {
		t.Fatalf("late response overwrote the newer quote: %+v", latest)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || !received[0].Total.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected only the newer quote to be published, got %+v", received)
	}
}

func TestTriggerCoalescesWithinDebounceWindow(t *testing.T) {
	var calls atomic.Int32
	engine, _ := newTestEngine(t, func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusOK, `{"data":{"subtotal":50,"total":50}}`), nil
	}, WithDebounce(20*time.Millisecond))

	done := make(chan types.PriceQuote, 4)
	engine.Subscribe(func(q types.PriceQuote) { done <- q })

	for i := 1; i <= 3; i++ {
		in := pickupInput()
		in.Lines[0].Quantity = i
		engine.Trigger(in)
	}

	select {
	case q := <-done:
		if !q.Total.Equal(decimal.NewFromInt(50)) {
			t.Fatalf("unexpected quote: %+v", q)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debounced trigger never fired")
	}
	time.Sleep(60 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one backend call, got %d", got)
	}
}

func TestTriggerWithoutDeliveryMethodIsSkipped(t *testing.T) {
	var calls atomic.Int32
	engine, _ := newTestEngine(t, func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusOK, `{"total":1}`), nil
	}, WithDebounce(5*time.Millisecond))

	engine.Trigger(Input{Lines: []types.CartLine{{ProductID: "p1", Quantity: 1}}})
	time.Sleep(40 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("expected no backend call without a delivery method")
	}
	if _, err := engine.Recompute(context.Background(), Input{}); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRecomputeEmptyCartSkipsNetwork(t *testing.T) {
	engine, _ := newTestEngine(t, func(*http.Request) (*http.Response, error) {
		t.Fatal("empty cart must not reach the backend")
		return nil, nil
	})
	quote, err := engine.Recompute(context.Background(), Input{Delivery: types.DeliveryContext{Method: enums.DeliveryMethodPickup}})
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !quote.Total.IsZero() || quote.IsOffline {
		t.Fatalf("expected zero authoritative quote, got %+v", quote)
	}
}

func TestCancelDropsPendingTrigger(t *testing.T) {
	var calls atomic.Int32
	engine, _ := newTestEngine(t, func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusOK, `{"total":1}`), nil
	}, WithDebounce(20*time.Millisecond))

	engine.Trigger(pickupInput())
	engine.Cancel()
	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("cancelled trigger still reached the backend")
	}
	if _, ok := engine.Latest(); ok {
		t.Fatalf("no quote should have been applied")
	}
}

func TestResetForgetsLatestQuote(t *testing.T) {
	engine, _ := newTestEngine(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"total":12}`), nil
	}, WithDebounce(20*time.Millisecond))

	if _, err := engine.Recompute(context.Background(), pickupInput()); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	engine.Trigger(pickupInput())
	engine.Reset()
	if _, ok := engine.Latest(); ok {
		t.Fatalf("reset must clear the latest quote")
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok := engine.Latest(); ok {
		t.Fatalf("pending trigger survived reset")
	}
}

func TestCatalogRefresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	client, err := transport.NewClient("http://backend.test/api",
		transport.WithHTTPClient(&http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			calls.Add(1)
			return jsonResponse(http.StatusOK, `{"success":true,"data":{"products":[{"id":"p9","nameEn":"Molokhia","price":"42.50"},{"id":"bad"}]}}`), nil
		})}),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	catalog := NewCatalog(5*time.Minute, func() time.Time { return now })
	if !catalog.Stale() {
		t.Fatalf("empty catalog must be stale")
	}
	if err := catalog.Refresh(context.Background(), client); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	price, ok := catalog.Price("p9")
	if !ok || !price.Equal(decimal.RequireFromString("42.5")) || catalog.Name("p9") != "Molokhia" {
		t.Fatalf("unexpected catalog entry: %s %v", price, ok)
	}
	if catalog.Len() != 1 {
		t.Fatalf("entries without a price must be skipped")
	}
	if err := catalog.Refresh(context.Background(), client); err != nil || calls.Load() != 1 {
		t.Fatalf("fresh catalog must not refetch (calls=%d, err=%v)", calls.Load(), err)
	}
	now = now.Add(6 * time.Minute)
	if !catalog.Stale() {
		t.Fatalf("catalog should expire after ttl")
	}
	if _, ok := catalog.Price("p9"); !ok {
		t.Fatalf("stale prices stay usable for estimates")
	}
}
