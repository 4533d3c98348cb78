package pricing

import (
	"github.com/angelmondragon/storefront-engine/pkg/enums"
	"github.com/angelmondragon/storefront-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// Estimate builds an offline quote from cached catalog prices. Products the
// catalog does not know contribute nothing; the result is flagged so it is
// never mistaken for an authoritative price.
func Estimate(catalog *Catalog, in Input, deliveryFee decimal.Decimal) types.PriceQuote {
	items := make([]types.LineQuote, 0, len(in.Lines))
	subtotal := decimal.Zero
	for _, line := range in.Lines {
		unit := decimal.Zero
		name := ""
		if catalog != nil {
			unit, _ = catalog.Price(line.ProductID)
			name = catalog.Name(line.ProductID)
		}
		lineTotal := unit.Mul(decimal.NewFromInt(int64(line.Quantity)))
		subtotal = subtotal.Add(lineTotal)
		items = append(items, types.LineQuote{
			ProductID: line.ProductID,
			Name:      name,
			Quantity:  line.Quantity,
			UnitPrice: unit,
			LineTotal: lineTotal,
		})
	}

	fee := decimal.Zero
	if in.Delivery.Method == enums.DeliveryMethodDelivery {
		fee = deliveryFee
	}
	discount := in.Coupon.AppliedDiscount()
	total := subtotal.Add(fee).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return types.PriceQuote{
		Subtotal:    subtotal,
		DeliveryFee: fee,
		Discount:    discount,
		Total:       total,
		Items:       items,
		DeliveryInfo: types.DeliveryInfo{
			IsEstimated: true,
			BranchID:    in.Delivery.Branch(),
		},
		IsOffline: true,
	}
}
