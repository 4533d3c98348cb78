package tracking

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/angelmondragon/storefront-engine/internal/ledger"
	"github.com/angelmondragon/storefront-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/transport"
	"github.com/angelmondragon/storefront-engine/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	trackPath  = "/orders/track"
	cancelPath = "/orders/cancel"
)

type Backend interface {
	Do(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// Status is the backend's view of an order. Applied reports whether the
// local ledger moved to it.
type Status struct {
	OrderID string            `json:"orderId"`
	Status  enums.OrderStatus `json:"status"`
	ETA     string            `json:"eta,omitempty"`
	Applied bool              `json:"applied"`
}

type Service interface {
	Track(ctx context.Context, orderID string) (Status, error)
	Cancel(ctx context.Context, orderID string) (types.OrderRecord, error)
	// RefreshActive tracks every active order in the ledger and returns how
	// many changed status.
	RefreshActive(ctx context.Context) (int, error)
}

type trackResponse struct {
	Status      string `json:"status"`
	OrderStatus string `json:"orderStatus"`
	ETA         string `json:"eta"`
	ETADisplay  string `json:"etaDisplay"`
}

type service struct {
	backend Backend
	updater ledger.StatusUpdater
	reader  ledger.Reader
	logg    *logger.Logger
}

func NewService(backend Backend, updater ledger.StatusUpdater, reader ledger.Reader, logg *logger.Logger) (Service, error) {
	if backend == nil {
		return nil, fmt.Errorf("tracking backend required")
	}
	if updater == nil {
		return nil, fmt.Errorf("ledger status updater required")
	}
	if reader == nil {
		return nil, fmt.Errorf("ledger reader required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{backend: backend, updater: updater, reader: reader, logg: logg}, nil
}

func (s *service) Track(ctx context.Context, orderID string) (Status, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Status{}, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	ctx = s.logg.WithOrderID(ctx, id)

	resp, err := s.backend.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   trackPath,
		Query:  url.Values{"orderId": []string{id}},
	})
	if err != nil {
		return Status{}, err
	}
	var body trackResponse
	if err := resp.Decode(&body); err != nil {
		return Status{}, err
	}
	raw := body.Status
	if raw == "" {
		raw = body.OrderStatus
	}
	status, err := enums.ParseOrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return Status{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unknown order status from backend")
	}
	eta := strings.TrimSpace(body.ETA)
	if eta == "" {
		eta = strings.TrimSpace(body.ETADisplay)
	}

	out := Status{OrderID: id, Status: status, ETA: eta}
	before, known := s.reader.Get(id)
	if !known {
		s.logg.Debug(ctx, "tracking.order.not_local")
		return out, nil
	}

	if before.Status != status {
		if _, err := s.updater.UpdateStatus(ctx, id, status); err != nil {
			if pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
				return out, err
			}
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"from": string(before.Status),
				"to":   string(status),
			}), "tracking.status.regression_skipped")
		} else {
			out.Applied = true
		}
	}
	if eta != "" {
		if err := s.updater.UpdateETA(ctx, id, eta); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *service) Cancel(ctx context.Context, orderID string) (types.OrderRecord, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return types.OrderRecord{}, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	ctx = s.logg.WithOrderID(ctx, id)

	current, ok := s.reader.Get(id)
	if ok && !current.Status.CanTransitionTo(enums.OrderStatusCancelled) {
		return types.OrderRecord{}, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order in status %s cannot be cancelled", current.Status))
	}

	if _, err := s.backend.Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           cancelPath,
		Body:           map[string]string{"orderId": id},
		IdempotencyKey: uuid.NewString(),
	}); err != nil {
		return types.OrderRecord{}, err
	}
	if !ok {
		return types.OrderRecord{ID: id, Status: enums.OrderStatusCancelled}, nil
	}
	record, err := s.updater.UpdateStatus(ctx, id, enums.OrderStatusCancelled)
	if err != nil {
		return types.OrderRecord{}, err
	}
	s.logg.Info(ctx, "tracking.order.cancelled")
	return record, nil
}

func (s *service) RefreshActive(ctx context.Context) (int, error) {
	var (
		changed int
		errs    error
	)
	for _, order := range s.reader.ListByStatus(enums.ActiveOrderStatuses...) {
		status, err := s.Track(ctx, order.ID)
		if err != nil {
			if pkgerrors.IsCancelled(err) || ctx.Err() != nil {
				return changed, multierr.Append(errs, err)
			}
			errs = multierr.Append(errs, fmt.Errorf("track %s: %w", order.ID, err))
			continue
		}
		if status.Applied {
			changed++
		}
	}
	return changed, errs
}
