package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-engine/api/responses"
	"github.com/angelmondragon/storefront-engine/api/validators"
	"github.com/angelmondragon/storefront-engine/internal/geo"
	"github.com/angelmondragon/storefront-engine/internal/session"
	"github.com/angelmondragon/storefront-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/types"
)

type deliveryRequest struct {
	Method      string          `json:"method" validate:"required,oneof=pickup delivery"`
	BranchID    string          `json:"branchId" validate:"max=64"`
	AddressText string          `json:"addressText" validate:"max=200"`
	Location    *types.Location `json:"location"`
	Phone       string          `json:"phone" validate:"max=20"`
}

type couponRequest struct {
	Code  string `json:"code" validate:"required,max=64"`
	Phone string `json:"phone" validate:"max=20"`
}

type couponResponse struct {
	Coupon    types.CouponState `json:"coupon"`
	Valid     bool              `json:"valid"`
	Discarded bool              `json:"discarded,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

type submitLine struct {
	ProductID string           `json:"productId"`
	Quantity  int              `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Subtotal  *decimal.Decimal `json:"subtotal,omitempty"`
}

// submitRequest carries the customer details. Items and money fields are
// optional and only accepted so that a tampered client can be refused.
type submitRequest struct {
	Name     string           `json:"name"`
	Phone    string           `json:"phone"`
	Address  string           `json:"address"`
	Notes    string           `json:"notes"`
	Items    []submitLine     `json:"items,omitempty"`
	Subtotal *decimal.Decimal `json:"subtotal,omitempty"`
	Total    *decimal.Decimal `json:"total,omitempty"`
	Discount *decimal.Decimal `json:"discount,omitempty"`
}

// CheckoutSetDelivery records the fulfilment choice and schedules a quote.
func CheckoutSetDelivery(sess *session.Session, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload deliveryRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.Location != nil {
			if err := geo.ValidateLocation(*payload.Location); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid location"))
				return
			}
		}
		if payload.Phone != "" {
			sess.SetPhone(payload.Phone)
		}
		delivery := types.DeliveryContext{
			Method:      enums.DeliveryMethod(payload.Method),
			BranchID:    validators.SanitizeString(payload.BranchID, 64),
			AddressText: validators.SanitizeString(payload.AddressText, 200),
			Location:    payload.Location,
		}
		if err := sess.SetDelivery(delivery); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sess.Delivery())
	}
}

// CheckoutUseLocation switches to delivery at the device's position.
func CheckoutUseLocation(sess *session.Session, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := sess.UseCurrentLocation(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, locationError(err))
			return
		}
		responses.WriteSuccess(w, sess.Delivery())
	}
}

func CheckoutApplyCoupon(sess *session.Session, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload couponRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.Phone != "" {
			sess.SetPhone(payload.Phone)
		}
		result := sess.ApplyCoupon(r.Context(), validators.SanitizeString(payload.Code, 64))
		responses.WriteSuccess(w, couponResponse{
			Coupon:    result.State,
			Valid:     result.Valid(),
			Discarded: result.Discarded,
			Reason:    string(result.Reason),
		})
	}
}

func CheckoutRemoveCoupon(sess *session.Session, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess.RemoveCoupon()
		responses.WriteSuccess(w, couponResponse{Coupon: sess.Coupon.State()})
	}
}

// CheckoutQuote prices the cart immediately.
func CheckoutQuote(sess *session.Session, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quote, err := sess.Quote(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}

// CheckoutLeave aborts pending pricing and coupon requests.
func CheckoutLeave(sess *session.Session, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]int{"cancelled": sess.LeaveCheckout()})
	}
}

// CheckoutSubmit places the order for the current cart.
func CheckoutSubmit(sess *session.Session, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload submitRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		req := sess.CheckoutRequest(types.Customer{
			Name:    validators.SanitizeString(payload.Name, 0),
			Phone:   validators.SanitizeString(payload.Phone, 0),
			Address: validators.SanitizeString(payload.Address, 0),
			Notes:   validators.SanitizeString(payload.Notes, 0),
		})
		// The cart is the source of truth; echoed items are only screened.
		for _, item := range payload.Items {
			req.ClientLines = append(req.ClientLines, types.OrderLine(item))
		}
		req.Subtotal = payload.Subtotal
		req.Total = payload.Total
		req.Discount = payload.Discount

		// A submission is not cancellable, so it outlives a dropped connection.
		record, err := sess.Submit(context.WithoutCancel(r.Context()), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, record)
	}
}

func locationError(err error) error {
	var geoErr *geo.Error
	if !errors.As(err, &geoErr) {
		return err
	}
	switch geoErr.Kind {
	case geo.KindPermissionDenied:
		return pkgerrors.Wrap(pkgerrors.CodeRejected, err, "location permission denied")
	case geo.KindTimeout:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "location request timed out")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "location unavailable")
}
