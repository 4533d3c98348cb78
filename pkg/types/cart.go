package types

import "github.com/shopspring/decimal"

// CartLine is a single product entry in the active cart.
type CartLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// OrderLine is a cart line as handed to order submission. Price fields exist
// only so that submissions carrying client-side money can be detected and
// refused; they are never sent over the wire.
type OrderLine struct {
	ProductID string           `json:"productId"`
	Quantity  int              `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Subtotal  *decimal.Decimal `json:"subtotal,omitempty"`
}

// CarriesPrice reports whether any monetary field is set on the line.
func (l OrderLine) CarriesPrice() bool {
	return (l.Price != nil && !l.Price.IsZero()) || (l.Subtotal != nil && !l.Subtotal.IsZero())
}

// OrderLinesFromCart converts cart lines into price-free order lines.
func OrderLinesFromCart(lines []CartLine) []OrderLine {
	out := make([]OrderLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, OrderLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return out
}
