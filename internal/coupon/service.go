package coupon

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/angelmondragon/storefront-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/transport"
	"github.com/angelmondragon/storefront-engine/pkg/types"
	"github.com/shopspring/decimal"
)

const (
	validatePath = "/coupons/validate"
	// placeholderPhone is sent when the customer has not typed a phone yet.
	placeholderPhone = "0000000000"
)

// Backend is the slice of the request orchestrator used for validation.
type Backend interface {
	Do(ctx context.Context, req transport.Request) (*transport.Response, error)
	NewHandle() transport.Handle
	Cancel(h transport.Handle) bool
}

type DeviceIDs interface {
	DeviceID(ctx context.Context) (string, error)
}

// Result is the outcome of one Validate call. Reason is empty when the
// coupon was accepted.
type Result struct {
	State  types.CouponState
	Reason pkgerrors.Code
	// Discarded is set when the entry changed while the request was in
	// flight; State then reflects the newer entry.
	Discarded bool
}

func (r Result) Valid() bool {
	return r.Reason == "" && !r.Discarded && r.State.IsValid()
}

type Listener func(types.CouponState)

// Service validates coupon codes against the backend and holds the current
// coupon entry.
type Service interface {
	Validate(ctx context.Context, code, phone string, subtotal decimal.Decimal) Result
	// SetCode records an edit; any earlier validation no longer applies.
	SetCode(code string)
	Clear()
	State() types.CouponState
	Subscribe(fn Listener) (unsubscribe func())
	Cancel()
}

type validateRequest struct {
	Code          string  `json:"code"`
	Phone         string  `json:"phone"`
	CustomerPhone string  `json:"customerPhone"`
	DeviceID      string  `json:"deviceId,omitempty"`
	Subtotal      float64 `json:"subtotal"`
}

type validateResponse struct {
	Valid             bool             `json:"valid"`
	Message           string           `json:"message"`
	DiscountAmount    *decimal.Decimal `json:"discountAmount"`
	DiscountAmountAlt *decimal.Decimal `json:"discount_amount"`
	Coupon            *struct {
		Code              string           `json:"code"`
		DiscountAmount    *decimal.Decimal `json:"discountAmount"`
		DiscountAmountAlt *decimal.Decimal `json:"discount_amount"`
	} `json:"coupon"`
}

// discount prefers the top-level amount and falls back to the coupon object.
func (r validateResponse) discount() *decimal.Decimal {
	if r.DiscountAmount != nil {
		return r.DiscountAmount
	}
	if r.DiscountAmountAlt != nil {
		return r.DiscountAmountAlt
	}
	if r.Coupon == nil {
		return nil
	}
	if r.Coupon.DiscountAmount != nil {
		return r.Coupon.DiscountAmount
	}
	return r.Coupon.DiscountAmountAlt
}

type service struct {
	backend Backend
	ids     DeviceIDs
	logg    *logger.Logger

	mu     sync.Mutex
	state  types.CouponState
	seq    uint64
	handle transport.Handle

	subMu     sync.Mutex
	listeners map[int]Listener
	nextSub   int
}

func NewService(backend Backend, ids DeviceIDs, logg *logger.Logger) (Service, error) {
	if backend == nil {
		return nil, fmt.Errorf("coupon backend required")
	}
	if ids == nil {
		return nil, fmt.Errorf("device identity required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		backend:   backend,
		ids:       ids,
		logg:      logg,
		state:     types.CouponState{Status: enums.CouponStatusUnvalidated},
		listeners: make(map[int]Listener),
	}, nil
}

// Normalize trims and upper-cases a coupon code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *service) Validate(ctx context.Context, code, phone string, subtotal decimal.Decimal) Result {
	normalized := Normalize(code)
	if normalized == "" {
		return Result{State: s.State(), Reason: pkgerrors.CodeValidation}
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.cancelLocked()
	h := s.backend.NewHandle()
	s.handle = h
	s.mu.Unlock()

	ctx = s.logg.WithField(ctx, "coupon_code", normalized)
	next, reason := s.request(ctx, h, normalized, phone, subtotal)

	s.mu.Lock()
	if s.handle.ID == h.ID {
		s.handle = transport.Handle{}
	}
	if seq != s.seq || reason == pkgerrors.CodeCancelled {
		current := s.state
		s.mu.Unlock()
		s.logg.Debug(ctx, "coupon.validate.discarded")
		return Result{State: current, Reason: pkgerrors.CodeCancelled, Discarded: true}
	}
	s.state = next
	s.mu.Unlock()

	if reason == "" {
		s.logg.Info(ctx, "coupon.validate.accepted")
	} else {
		s.logg.Warn(s.logg.WithField(ctx, "reason", string(reason)), "coupon.validate.rejected")
	}
	s.notify(next)
	return Result{State: next, Reason: reason}
}

// request performs the backend call and maps every outcome to a state.
func (s *service) request(ctx context.Context, h transport.Handle, code, phone string, subtotal decimal.Decimal) (types.CouponState, pkgerrors.Code) {
	invalid := func(msg string) types.CouponState {
		return types.CouponState{Code: code, Status: enums.CouponStatusInvalid, Message: msg}
	}

	deviceID, err := s.ids.DeviceID(ctx)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "coupon.device_id.unavailable")
	}
	digits := types.DigitsOnly(phone)
	if digits == "" {
		digits = placeholderPhone
	}

	resp, err := s.backend.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   validatePath,
		Body: validateRequest{
			Code:          code,
			Phone:         digits,
			CustomerPhone: digits,
			DeviceID:      deviceID,
			Subtotal:      subtotal.InexactFloat64(),
		},
		Cancellable: true,
		Handle:      h,
	})
	if err != nil {
		errCode := pkgerrors.CodeOf(err)
		if errCode == pkgerrors.CodeCancelled {
			return types.CouponState{}, errCode
		}
		return invalid(failureMessage(err)), errCode
	}

	var body validateResponse
	if err := resp.Decode(&body); err != nil {
		return invalid("invalid coupon response"), pkgerrors.CodeOf(err)
	}
	if !body.Valid {
		msg := strings.TrimSpace(body.Message)
		if msg == "" {
			msg = "Invalid coupon"
		}
		return invalid(msg), pkgerrors.CodeRejected
	}

	state := types.CouponState{Code: code, Status: enums.CouponStatusValid, Message: strings.TrimSpace(body.Message)}
	if discount := body.discount(); discount != nil && !discount.IsNegative() {
		d := *discount
		state.DiscountAmount = &d
	}
	return state, ""
}

func (s *service) SetCode(code string) {
	normalized := Normalize(code)
	s.mu.Lock()
	s.seq++
	s.cancelLocked()
	if s.state.Code == normalized && s.state.Status == enums.CouponStatusUnvalidated {
		s.mu.Unlock()
		return
	}
	s.state = types.CouponState{Code: normalized, Status: enums.CouponStatusUnvalidated}
	next := s.state
	s.mu.Unlock()
	s.notify(next)
}

func (s *service) Clear() {
	s.SetCode("")
}

func (s *service) State() types.CouponState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.state)
}

func (s *service) Cancel() {
	s.mu.Lock()
	s.seq++
	s.cancelLocked()
	s.mu.Unlock()
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

func (s *service) notify(state types.CouponState) {
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
		fn(cloneState(state))
	}
}

func (s *service) cancelLocked() {
	if s.handle.IsZero() {
		return
	}
	s.backend.Cancel(s.handle)
	s.handle = transport.Handle{}
}

func failureMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		if typed.Code() == pkgerrors.CodeRejected || typed.Code() == pkgerrors.CodeRateLimit {
			return typed.Message()
		}
		return pkgerrors.MetadataFor(typed.Code()).PublicMessage
	}
	return pkgerrors.MetadataFor(pkgerrors.CodeInternal).PublicMessage
}

func cloneState(state types.CouponState) types.CouponState {
	if state.DiscountAmount != nil {
		d := *state.DiscountAmount
		state.DiscountAmount = &d
	}
	return state
}
