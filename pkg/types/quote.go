package types

import "github.com/shopspring/decimal"

// LineQuote is the authoritative price of one cart line.
type LineQuote struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// DeliveryInfo is the canonical delivery metadata attached to a quote.
type DeliveryInfo struct {
	IsEstimated      bool     `json:"isEstimated"`
	DistanceKm       *float64 `json:"distanceKm,omitempty"`
	TierName         string   `json:"tierName,omitempty"`
	TierNameAr       string   `json:"tierNameAr,omitempty"`
	EstimatedMessage string   `json:"estimatedMessage,omitempty"`
	BranchID         string   `json:"branchId,omitempty"`
	BranchName       string   `json:"branchName,omitempty"`
	ETA              string   `json:"eta,omitempty"`
}

// PriceQuote is the price shown to the user. Quotes with IsOffline set are
// local estimates and must never be treated as authoritative.
type PriceQuote struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	DeliveryFee  decimal.Decimal `json:"deliveryFee"`
	Discount     decimal.Decimal `json:"discount"`
	Total        decimal.Decimal `json:"total"`
	Items        []LineQuote     `json:"items"`
	DeliveryInfo DeliveryInfo    `json:"deliveryInfo"`
	IsOffline    bool            `json:"isOffline"`
	Generation   uint64          `json:"generation"`
}

// UnitPrice returns the quoted unit price for a product.
func (q PriceQuote) UnitPrice(productID string) (decimal.Decimal, bool) {
	for _, item := range q.Items {
		if item.ProductID == productID {
			return item.UnitPrice, true
		}
	}
	return decimal.Zero, false
}
