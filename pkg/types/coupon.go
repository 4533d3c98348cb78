package types

import (
	"github.com/angelmondragon/storefront-engine/pkg/enums"
	"github.com/shopspring/decimal"
)

// CouponState is the current coupon entry and its validation outcome.
type CouponState struct {
	Code           string             `json:"code"`
	Status         enums.CouponStatus `json:"status"`
	DiscountAmount *decimal.Decimal   `json:"discountAmount,omitempty"`
	Message        string             `json:"message,omitempty"`
}

// IsValid reports whether the code passed backend validation.
func (c CouponState) IsValid() bool {
	return c.Status == enums.CouponStatusValid && c.Code != ""
}

// AppliedCode returns the code only when it may be sent with a request.
func (c CouponState) AppliedCode() string {
	if !c.IsValid() {
		return ""
	}
	return c.Code
}

// AppliedDiscount returns the discount of a valid coupon, or zero.
func (c CouponState) AppliedDiscount() decimal.Decimal {
	if !c.IsValid() || c.DiscountAmount == nil {
		return decimal.Zero
	}
	return *c.DiscountAmount
}
