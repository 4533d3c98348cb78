package types

import (
	"time"

	"github.com/angelmondragon/storefront-engine/pkg/enums"
	"github.com/shopspring/decimal"
)

type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

type Totals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
}

type Customer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// OrderRecord is a locally remembered order. ID is assigned by the backend.
type OrderRecord struct {
	ID               string                 `json:"id"`
	Status           enums.OrderStatus      `json:"status"`
	CreatedAt        time.Time              `json:"createdAt"`
	LastUpdated      time.Time              `json:"lastUpdated"`
	Items            []OrderItem            `json:"items"`
	Totals           Totals                 `json:"totals"`
	DeliveryMethod   enums.DeliveryMethod   `json:"deliveryMethod"`
	BranchID         string                 `json:"branchId,omitempty"`
	AddressInputType enums.AddressInputType `json:"addressInputType,omitempty"`
	Customer         Customer               `json:"customer"`
	ETA              string                 `json:"eta,omitempty"`
	CouponCode       string                 `json:"couponCode,omitempty"`
	DeliveryInfo     DeliveryInfo           `json:"deliveryInfo"`
}

// ItemCount sums the quantities of all items.
func (o OrderRecord) ItemCount() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}
