package pricing

import (
	"bytes"
	"encoding/json"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/types"
	"github.com/shopspring/decimal"
)

type object = map[string]json.RawMessage

// NormalizeQuote maps every known backend price payload onto PriceQuote.
// Accepted placements: data.calculatedPrices, data, calculatedPrices, or
// the body itself. Field names may be camelCase or snake_case.
func NormalizeQuote(body []byte) (types.PriceQuote, error) {
	prices, ok := locatePrices(body)
	if !ok {
		return types.PriceQuote{}, malformed("invalid response structure from price calculation")
	}
	return quoteFromObject(prices)
}

func locatePrices(body []byte) (object, bool) {
	root, ok := asObject(body)
	if !ok {
		return nil, false
	}
	if data, ok := asObject(root["data"]); ok {
		if calc, ok := asObject(data["calculatedPrices"]); ok {
			return calc, true
		}
		if hasPrices(data) {
			return data, true
		}
	}
	if calc, ok := asObject(root["calculatedPrices"]); ok {
		return calc, true
	}
	if hasPrices(root) {
		return root, true
	}
	return nil, false
}

func hasPrices(obj object) bool {
	_, sub := obj["subtotal"]
	_, total := obj["total"]
	return sub || total
}

func quoteFromObject(obj object) (types.PriceQuote, error) {
	subtotal, hasSubtotal := decimalField(obj, "subtotal", "sub_total")
	total, hasTotal := decimalField(obj, "total", "grandTotal", "grand_total")
	if !hasSubtotal && !hasTotal {
		return types.PriceQuote{}, malformed("price response carried neither subtotal nor total")
	}

	infoObj, _ := asObject(firstRaw(obj, "deliveryInfo", "delivery_info"))
	info := NormalizeDeliveryInfo(infoObj)

	fee, ok := decimalField(obj, "deliveryFee", "delivery_fee")
	if !ok {
		fee, _ = decimalField(infoObj, "deliveryFee", "delivery_fee")
	}
	discount, _ := decimalField(obj, "discount", "discountAmount", "discount_amount", "couponDiscount")

	items, err := normalizeItems(firstRaw(obj, "items", "perItem", "per_item"))
	if err != nil {
		return types.PriceQuote{}, err
	}
	if !hasSubtotal {
		subtotal = sumLines(items)
	}
	if !hasTotal {
		total = subtotal.Add(fee).Sub(discount)
	}
	if total.IsNegative() {
		total = decimal.Zero
	}

	return types.PriceQuote{
		Subtotal:     subtotal,
		DeliveryFee:  fee,
		Discount:     discount,
		Total:        total,
		Items:        items,
		DeliveryInfo: info,
	}, nil
}

func normalizeItems(raw json.RawMessage) ([]types.LineQuote, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return []types.LineQuote{}, nil
	}
	var entries []object
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode quoted items")
	}
	items := make([]types.LineQuote, 0, len(entries))
	for _, entry := range entries {
		id := stringField(entry, "productId", "product_id", "id")
		if id == "" {
			continue
		}
		qty := intField(entry, "quantity", "qty")
		unit, _ := decimalField(entry, "unitPrice", "unit_price", "price")
		line, ok := decimalField(entry, "lineTotal", "line_total", "subtotal", "total")
		if !ok {
			line = unit.Mul(decimal.NewFromInt(int64(qty)))
		}
		items = append(items, types.LineQuote{
			ProductID: id,
			Name:      stringField(entry, "name", "nameEn", "name_en", "nameAr", "name_ar"),
			Quantity:  qty,
			UnitPrice: unit,
			LineTotal: line,
		})
	}
	return items, nil
}

// NormalizeDeliveryInfo folds the delivery metadata variants into one shape.
func NormalizeDeliveryInfo(obj object) types.DeliveryInfo {
	if obj == nil {
		return types.DeliveryInfo{}
	}
	info := types.DeliveryInfo{
		IsEstimated:      boolField(obj, "isEstimated", "isEstimatedFee", "is_estimated_fee", "is_estimated"),
		TierName:         stringField(obj, "tierNameEn", "tier_name_en", "tierName"),
		TierNameAr:       stringField(obj, "tierNameAr", "tier_name_ar"),
		EstimatedMessage: messageField(obj, "estimatedMessage", "estimated_message"),
		BranchID:         stringField(obj, "branchId", "branch_id", "branch"),
		BranchName:       stringField(obj, "branchName", "branch_name", "branchNameEn", "branchNameAr"),
		ETA:              stringField(obj, "etaDisplay", "eta_display", "eta"),
	}
	if distance, ok := floatField(obj, "distanceKm", "distance_km"); ok {
		info.DistanceKm = &distance
	}

	tierRaw := firstRaw(obj, "deliveryTier", "delivery_tier", "tier")
	if tier, ok := asObject(tierRaw); ok {
		if info.TierName == "" {
			info.TierName = stringField(tier, "nameEn", "name_en", "name")
		}
		if info.TierNameAr == "" {
			info.TierNameAr = stringField(tier, "nameAr", "name_ar")
		}
	} else if info.TierName == "" {
		var name string
		if json.Unmarshal(tierRaw, &name) == nil {
			info.TierName = strings.TrimSpace(name)
		}
	}
	return info
}

func malformed(msg string) error {
	return pkgerrors.New(pkgerrors.CodeDependency, msg)
}

func asObject(raw json.RawMessage) (object, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var obj object
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func firstRaw(obj object, keys ...string) json.RawMessage {
	for _, key := range keys {
		if raw, ok := obj[key]; ok && !isNull(raw) {
			return raw
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decimalField(obj object, keys ...string) (decimal.Decimal, bool) {
	raw := firstRaw(obj, keys...)
	if raw == nil {
		return decimal.Zero, false
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func floatField(obj object, keys ...string) (float64, bool) {
	d, ok := decimalField(obj, keys...)
	if !ok {
		return 0, false
	}
	return d.InexactFloat64(), true
}

func intField(obj object, keys ...string) int {
	d, ok := decimalField(obj, keys...)
	if !ok {
		return 0
	}
	return int(d.IntPart())
}

func stringField(obj object, keys ...string) string {
	for _, key := range keys {
		raw, ok := obj[key]
		if !ok || isNull(raw) {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

// boolField treats true, 1, and "true" as set.
func boolField(obj object, keys ...string) bool {
	for _, key := range keys {
		raw := bytes.TrimSpace(obj[key])
		switch string(raw) {
		case "true", "1", `"true"`, `"1"`:
			return true
		}
	}
	return false
}

// messageField accepts a plain string or a {en, ar} object.
func messageField(obj object, keys ...string) string {
	raw := firstRaw(obj, keys...)
	if raw == nil {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	if localized, ok := asObject(raw); ok {
		return stringField(localized, "en", "ar")
	}
	return ""
}

func sumLines(items []types.LineQuote) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal)
	}
	return total
}
