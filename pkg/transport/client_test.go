package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
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

func newTestClient(t *testing.T, rt roundTripFunc, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithHTTPClient(&http.Client{Transport: rt}),
		WithRetry(3, time.Millisecond, 5*time.Millisecond),
	}
	client, err := NewClient("http://backend.test/api", append(base, opts...)...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestDoRetriesTransientFailuresWithSameIdempotencyKey(t *testing.T) {
	var calls atomic.Int32
	var keys []string
	var mu sync.Mutex

	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		keys = append(keys, req.Header.Get("Idempotency-Key"))
		mu.Unlock()
		if calls.Add(1) == 1 {
			return jsonResponse(http.StatusServiceUnavailable, `{"success":false,"error":"busy"}`), nil
		}
		body, _ := io.ReadAll(req.Body)
		if !strings.Contains(string(body), `"idempotencyKey":"key-1"`) {
			t.Fatalf("expected body to carry idempotency key, got %s", body)
		}
		return jsonResponse(http.StatusOK, `{"success":true,"data":{"orderId":"o-1"}}`), nil
	})

	resp, err := client.Do(context.Background(), Request{
		Method:         http.MethodPost,
		Path:           "/orders/submit",
		Body:           map[string]any{"idempotencyKey": "key-1"},
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
	if len(keys) != 2 || keys[0] != "key-1" || keys[1] != "key-1" {
		t.Fatalf("expected idempotency key reused, got %v", keys)
	}
	var payload struct {
		OrderID string `json:"orderId"`
	}
	if err := resp.Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.OrderID != "o-1" {
		t.Fatalf("expected unwrapped data, got %+v", payload)
	}
}

func TestDoNeverRetriesClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusBadRequest, `{"success":false,"error":{"message":"coupon expired"}}`), nil
	})

	_, err := client.Do(context.Background(), Request{Method: http.MethodPost, Path: "/coupons/validate", Body: map[string]string{"code": "X"}})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeRejected {
		t.Fatalf("expected rejected error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
	typed := pkgerrors.As(err)
	if typed.Message() != "coupon expired" {
		t.Fatalf("expected backend message, got %q", typed.Message())
	}
	details, ok := typed.Details().(pkgerrors.UpstreamDetails)
	if !ok || details.Status != http.StatusBadRequest {
		t.Fatalf("expected upstream details, got %#v", typed.Details())
	}
}

func TestDoSurfacesTransientErrorAfterExhaustingAttempts(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, io.ErrUnexpectedEOF
	})

	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/orders/track"})
	if !pkgerrors.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDoTimeoutIsTransient(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/slow", Timeout: 10 * time.Millisecond, MaxAttempts: 2})
	if !pkgerrors.IsTransient(err) {
		t.Fatalf("expected transient timeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("expected timeout message, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected timeout to be retried once, got %d attempts", calls.Load())
	}
}

func TestDoRateLimitFailsFastWithoutNetwork(t *testing.T) {
	var calls atomic.Int32
	now := time.Unix(1_700_000_000, 0)
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusOK, `{}`), nil
	}, WithLimiter(NewWindowLimiter(2, time.Minute)), WithClock(func() time.Time { return now }))

	for i := 0; i < 2; i++ {
		if _, err := client.Do(context.Background(), Request{Path: "/ping"}); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	_, err := client.Do(context.Background(), Request{Path: "/ping"})
	if !pkgerrors.IsRateLimited(err) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if wait, ok := pkgerrors.RetryAfter(err); !ok || wait != time.Minute {
		t.Fatalf("expected retry after of 1m, got %v (%v)", wait, ok)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected no network call when limited, got %d", calls.Load())
	}
}

func TestCancelAbortsCancellableRequest(t *testing.T) {
	started := make(chan struct{})
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		close(started)
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	handle := client.NewHandle()
	errCh := make(chan error, 1)
	go func() {
		_, err := client.Do(context.Background(), Request{Method: http.MethodPost, Path: "/orders/prices", Cancellable: true, Handle: handle})
		errCh <- err
	}()

	<-started
	if !client.Cancel(handle) {
		t.Fatal("expected handle to be registered")
	}
	select {
	case err := <-errCh:
		if !pkgerrors.IsCancelled(err) {
			t.Fatalf("expected cancelled outcome, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request did not observe cancellation")
	}
	if client.InFlight() != 0 {
		t.Fatalf("expected no in-flight handles, got %d", client.InFlight())
	}
}

func TestCancelAllSkipsNonCancellableRequests(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		close(started)
		select {
		case <-release:
			return jsonResponse(http.StatusOK, `{"orderId":"o-9"}`), nil
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Do(context.Background(), Request{Method: http.MethodPost, Path: "/orders/submit"})
		errCh <- err
	}()

	<-started
	if n := client.CancelAll(); n != 0 {
		t.Fatalf("expected nothing cancelled, got %d", n)
	}
	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("expected submission to complete, got %v", err)
	}
}

func TestDoCallerCancellationIsDistinctOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return nil, req.Context().Err()
	})
	_, err := client.Do(ctx, Request{Path: "/orders/prices"})
	if !pkgerrors.IsCancelled(err) {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestBuildURLRouting(t *testing.T) {
	queryClient := newTestClient(t, nil)
	got := queryClient.buildURL(Request{Path: "/orders/track", Query: url.Values{"orderId": []string{"o 1"}}})
	parsed, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Query().Get("path") != "/orders/track" || parsed.Query().Get("orderId") != "o 1" {
		t.Fatalf("unexpected query routing url %s", got)
	}

	pathClient := newTestClient(t, nil, WithRouting("path"))
	if got := pathClient.buildURL(Request{Path: "/orders/prices"}); got != "http://backend.test/api/orders/prices" {
		t.Fatalf("unexpected path routing url %s", got)
	}
}

func TestNewClientValidatesInput(t *testing.T) {
	if _, err := NewClient(""); err == nil {
		t.Fatal("expected error for empty base url")
	}
	if _, err := NewClient("http://backend.test", WithRouting("graphql")); err == nil {
		t.Fatal("expected error for unknown routing")
	}
}

func TestParseResponseShapes(t *testing.T) {
	resp, err := parseResponse(http.StatusOK, "application/json", []byte(`{"subtotal":20}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var direct map[string]json.Number
	if err := json.Unmarshal(resp.Data, &direct); err != nil || direct["subtotal"] != "20" {
		t.Fatalf("expected bare body as data, got %s", resp.Data)
	}

	if _, err := parseResponse(http.StatusOK, "application/json", []byte(`{"success":false,"error":"invalid coupon"}`)); pkgerrors.CodeOf(err) != pkgerrors.CodeRejected {
		t.Fatalf("expected success=false to be rejected, got %v", err)
	}
	if _, err := parseResponse(http.StatusOK, "text/html", []byte(`<html>`)); pkgerrors.CodeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("expected malformed body to be a dependency error, got %v", err)
	}
	resp, err = parseResponse(http.StatusNoContent, "", nil)
	if err != nil || resp.Status != http.StatusNoContent {
		t.Fatalf("expected empty 204 response, got %+v %v", resp, err)
	}
}

func TestWindowLimiterSlides(t *testing.T) {
	limiter := NewWindowLimiter(2, 10*time.Second)
	start := time.Unix(0, 0)
	ctx := context.Background()

	allowed, _, _ := limiter.Allow(ctx, start)
	if !allowed {
		t.Fatal("expected first request allowed")
	}
	allowed, _, _ = limiter.Allow(ctx, start.Add(4*time.Second))
	if !allowed {
		t.Fatal("expected second request allowed")
	}
	allowed, wait, _ := limiter.Allow(ctx, start.Add(6*time.Second))
	if allowed || wait != 4*time.Second {
		t.Fatalf("expected refusal with 4s wait, got allowed=%v wait=%v", allowed, wait)
	}
	allowed, _, _ = limiter.Allow(ctx, start.Add(10*time.Second))
	if !allowed {
		t.Fatal("expected request allowed once the first left the window")
	}
}

func TestNewHandleGenerationsIncrease(t *testing.T) {
	client := newTestClient(t, nil)
	first := client.NewHandle()
	second := client.NewHandle()
	if second.Generation <= first.Generation || first.ID == second.ID {
		t.Fatalf("expected increasing generations, got %+v %+v", first, second)
	}
}
