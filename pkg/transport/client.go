package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/storefront-engine/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/metrics"
	"github.com/sethvargo/go-retry"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxAttempts  = 3
	defaultBackoffBase  = 2 * time.Second
	defaultBackoffCap   = 10 * time.Second
	responseBodyLimit   = 4 << 20
	idempotencyHeader   = "Idempotency-Key"
	upstreamBodyExcerpt = 512
)

var errHandleCancelled = errors.New("request handle cancelled")

// Request describes one logical backend call. Retries of the same Request
// reuse its body and IdempotencyKey.
type Request struct {
	Method         string
	Path           string
	Body           any
	Query          url.Values
	Timeout        time.Duration
	MaxAttempts    int
	IdempotencyKey string
	// Cancellable requests can be aborted through Cancel and CancelAll.
	Cancellable bool
	// Handle ties the call to a caller-owned generation; a zero Handle gets
	// a fresh one when Cancellable is set.
	Handle Handle
}

// Client is the single gateway to the remote backend. It applies the
// sliding window limiter once per Do, retries transient failures with capped
// exponential backoff, and tracks cancellable calls by handle.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	routing     string
	authToken   string
	timeout     time.Duration
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	limiter     Limiter
	logg        *logger.Logger
	metrics     *metrics.TransportMetrics
	now         func() time.Time

	generation atomic.Uint64
	mu         sync.Mutex
	active     map[string]context.CancelCauseFunc
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRouting selects query (`?path=/x`) or plain path routing.
func WithRouting(routing string) Option {
	return func(c *Client) {
		c.routing = strings.ToLower(strings.TrimSpace(routing))
	}
}

func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry sets the attempt count and the backoff curve.
func WithRetry(maxAttempts int, base, ceiling time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if base > 0 {
			c.backoffBase = base
		}
		if ceiling > 0 {
			c.backoffCap = ceiling
		}
	}
}

// WithLimiter installs a rate limiter; nil disables limiting.
func WithLimiter(limiter Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) {
		if logg != nil {
			c.logg = logg
		}
	}
}

func WithMetrics(m *metrics.TransportMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithClock replaces time.Now for limiter decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient builds a backend client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("backend base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}

	client := &Client{
		httpClient:  &http.Client{},
		baseURL:     strings.TrimRight(trimmed, "/"),
		routing:     config.RoutingQuery,
		timeout:     defaultTimeout,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
		logg:        logger.Nop(),
		now:         time.Now,
		active:      make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.routing != config.RoutingQuery && client.routing != config.RoutingPath {
		return nil, fmt.Errorf("unknown routing %q", client.routing)
	}
	return client, nil
}

// NewClientFromConfig wires the API and rate limit sections.
func NewClientFromConfig(cfg config.APIConfig, limiter Limiter, logg *logger.Logger, m *metrics.TransportMetrics) (*Client, error) {
	return NewClient(cfg.BaseURL,
		WithRouting(cfg.Routing),
		WithAuthToken(cfg.AuthToken),
		WithTimeout(cfg.Timeout),
		WithRetry(cfg.MaxAttempts, cfg.BackoffBase, cfg.BackoffCap),
		WithLimiter(limiter),
		WithLogger(logg),
		WithMetrics(m),
	)
}

// Do executes req. Failures are typed: RATE_LIMIT_EXCEEDED before any network
// traffic, REJECTED_REQUEST for 4xx, TRANSIENT_NETWORK_ERROR once transient
// retries are exhausted, and REQUEST_CANCELLED when the call was aborted.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	req.Method = method
	ctx = c.logg.WithFields(ctx, map[string]any{"method": method, "path": req.Path})

	if err := c.checkRateLimit(ctx); err != nil {
		c.metrics.IncOutcome(req.Path, string(pkgerrors.CodeRateLimit))
		return nil, err
	}

	body, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if req.Cancellable {
		handle := req.Handle
		if handle.ID == "" {
			handle = c.NewHandle()
		}
		c.register(handle, cancel)
		defer c.unregister(handle)
	}

	attempts := req.MaxAttempts
	if attempts <= 0 {
		attempts = c.maxAttempts
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	var (
		resp    *Response
		attempt int
	)
	err = retry.Do(callCtx, c.backoff(attempts), func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			c.metrics.IncRetry(req.Path)
		}
		r, err := c.attempt(ctx, req, body, timeout)
		if err == nil {
			resp = r
			return nil
		}
		if pkgerrors.IsTransient(err) {
			if attempt < attempts {
				c.logg.Warn(c.logg.WithFields(ctx, map[string]any{"attempt": attempt, "max_attempts": attempts, "error": err.Error()}), "transport.retry")
			}
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		err = c.classifyTerminal(callCtx, err)
		c.metrics.IncOutcome(req.Path, string(pkgerrors.CodeOf(err)))
		if !pkgerrors.IsCancelled(err) {
			c.logg.Warn(c.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "transport.request.failed")
		}
		return nil, err
	}
	c.metrics.IncOutcome(req.Path, "ok")
	return resp, nil
}

func (c *Client) backoff(attempts int) retry.Backoff {
	b := retry.NewExponential(c.backoffBase)
	b = retry.WithCappedDuration(c.backoffCap, b)
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

func (c *Client) checkRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	allowed, retryAfter, err := c.limiter.Allow(ctx, c.now())
	if err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "transport.rate_limit.unavailable")
		return nil
	}
	if allowed {
		return nil
	}
	c.metrics.IncRateLimited()
	rlErr := pkgerrors.RateLimited(retryAfter)
	c.logg.Warn(c.logg.WithField(ctx, "retry_after_ms", retryAfter.Milliseconds()), "transport.rate_limited")
	return rlErr
}

// classifyTerminal turns context errors surfaced by the retry loop into the
// typed taxonomy.
func (c *Client) classifyTerminal(ctx context.Context, err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	if ctx.Err() != nil {
		return cancellationError(ctx)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "backend request failed")
}

func cancellationError(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeTransient, cause, "request deadline exceeded")
	}
	return pkgerrors.Wrap(pkgerrors.CodeCancelled, cause, "request cancelled")
}

func (c *Client) attempt(ctx context.Context, req Request, body []byte, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, c.buildURL(req), reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build backend request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(idempotencyHeader, req.IdempotencyKey)
	}
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	c.metrics.ObserveAttempt(req.Path, time.Since(start))
	if err != nil {
		return nil, attemptError(ctx, attemptCtx, err, timeout)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, attemptError(ctx, attemptCtx, err, timeout)
	}
	return parseResponse(resp.StatusCode, resp.Header.Get("Content-Type"), raw)
}

func attemptError(parent, attemptCtx context.Context, err error, timeout time.Duration) error {
	if parent.Err() != nil {
		return cancellationError(parent)
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, fmt.Sprintf("request timeout after %s", timeout))
	}
	return pkgerrors.Wrap(pkgerrors.CodeTransient, err, "network request failed")
}

func (c *Client) buildURL(req Request) string {
	params := url.Values{}
	for key, values := range req.Query {
		for _, v := range values {
			params.Add(key, v)
		}
	}
	if c.routing == config.RoutingPath {
		target := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
		if len(params) == 0 {
			return target
		}
		return target + "?" + params.Encode()
	}
	params.Set("path", req.Path)
	return c.baseURL + "?" + params.Encode()
}

func encodeBody(req Request) ([]byte, error) {
	if req.Body == nil || req.Method == http.MethodGet {
		return nil, nil
	}
	if raw, ok := req.Body.(json.RawMessage); ok {
		return raw, nil
	}
	payload, err := json.Marshal(req.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode request body")
	}
	return payload, nil
}
