package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-engine/api/responses"
	"github.com/angelmondragon/storefront-engine/api/validators"
	"github.com/angelmondragon/storefront-engine/internal/ledger"
	"github.com/angelmondragon/storefront-engine/internal/session"
	"github.com/angelmondragon/storefront-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/pagination"
	"github.com/angelmondragon/storefront-engine/pkg/types"
)

type ordersListResponse struct {
	ledger.Page
	ActiveCount int `json:"activeCount"`
}

// OrdersList returns remembered orders, newest first, a page at a time.
// status filters by one or more comma separated statuses; "active" expands
// to every active status.
func OrdersList(sess *session.Session, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		statuses, err := parseStatuses(r.URL.Query().Get("status"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var orders []types.OrderRecord
		if len(statuses) == 0 {
			orders = sess.Orders.List()
		} else {
			orders = sess.Orders.ListByStatus(statuses...)
		}
		page, err := ledger.Paginate(orders, pagination.Params{Limit: limit, Cursor: r.URL.Query().Get("cursor")})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ordersListResponse{Page: page, ActiveCount: sess.Orders.ActiveCount()})
	}
}

func OrdersGet(sess *session.Session, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, ok := sess.Orders.Get(chi.URLParam(r, "orderId"))
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// OrdersTrack asks the backend for the order's status and applies it.
func OrdersTrack(sess *session.Session, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := sess.Tracking.Track(r.Context(), chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

func OrdersCancel(sess *session.Session, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, err := sess.Tracking.Cancel(r.Context(), chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// OrdersRefresh tracks every active order.
func OrdersRefresh(sess *session.Session, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changed, err := sess.Tracking.RefreshActive(r.Context())
		if err != nil {
			ctx := logg.WithField(r.Context(), "error", err.Error())
			logg.Warn(ctx, "orders.refresh.partial")
		}
		responses.WriteSuccess(w, map[string]int{"changed": changed, "activeCount": sess.Orders.ActiveCount()})
	}
}

func OrdersActiveCount(sess *session.Session, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]int{"activeCount": sess.Orders.ActiveCount()})
	}
}

func parseStatuses(raw string) ([]enums.OrderStatus, error) {
	var out []enums.OrderStatus
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if part == "active" {
			out = append(out, enums.ActiveOrderStatuses...)
			continue
		}
		status, err := enums.ParseOrderStatus(part)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter").WithDetails(map[string]string{"status": part})
		}
		out = append(out, status)
	}
	return out, nil
}
