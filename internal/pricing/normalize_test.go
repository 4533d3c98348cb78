package pricing

import (
	"testing"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/shopspring/decimal"
)

func TestNormalizeQuotePlacements(t *testing.T) {
	bodies := map[string]string{
		"nested":   `{"success":true,"data":{"calculatedPrices":{"subtotal":20,"deliveryFee":15,"discount":5,"total":30}}}`,
		"data":     `{"success":true,"data":{"subtotal":"20","delivery_fee":"15","discountAmount":5,"total":30}}`,
		"toplevel": `{"calculatedPrices":{"subtotal":20,"deliveryFee":15,"discount":5,"total":30}}`,
		"bare":     `{"subtotal":20,"deliveryFee":15,"discount":5,"total":30}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			quote, err := NormalizeQuote([]byte(body))
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if !quote.Subtotal.Equal(decimal.NewFromInt(20)) || !quote.DeliveryFee.Equal(decimal.NewFromInt(15)) ||
				!quote.Discount.Equal(decimal.NewFromInt(5)) || !quote.Total.Equal(decimal.NewFromInt(30)) {
				t.Fatalf("unexpected quote: %+v", quote)
			}
		})
	}
}

func TestNormalizeDeliveryInfoVariants(t *testing.T) {
	body := `{"subtotal":100,"deliveryInfo":{"delivery_fee":25,"distance_km":"4.2","delivery_tier":{"name_en":"Zone B","name_ar":"منطقة ب"},"is_estimated_fee":1,"estimated_message":{"en":"Fee may change","ar":"قد تتغير"},"branch_id":"b7","branch_name":"Zamalek","eta_display":"40 min"}}`
	quote, err := NormalizeQuote([]byte(body))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	info := quote.DeliveryInfo
	if !info.IsEstimated || info.TierName != "Zone B" || info.TierNameAr != "منطقة ب" {
		t.Fatalf("unexpected tier info: %+v", info)
	}
	if info.DistanceKm == nil || *info.DistanceKm != 4.2 {
		t.Fatalf("unexpected distance: %v", info.DistanceKm)
	}
	if info.EstimatedMessage != "Fee may change" || info.BranchID != "b7" || info.BranchName != "Zamalek" || info.ETA != "40 min" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if !quote.DeliveryFee.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("fee should fall back to deliveryInfo, got %s", quote.DeliveryFee)
	}
	if !quote.Total.Equal(decimal.NewFromInt(125)) {
		t.Fatalf("missing total should be derived, got %s", quote.Total)
	}
}

func TestNormalizeQuoteItems(t *testing.T) {
	body := `{"subtotal":35,"total":35,"items":[{"product_id":"p1","qty":2,"unit_price":10},{"productId":"p2","quantity":3,"price":"5","lineTotal":15},{"name":"orphan"}]}`
	quote, err := NormalizeQuote([]byte(body))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(quote.Items) != 2 {
		t.Fatalf("expected 2 items, got %+v", quote.Items)
	}
	if !quote.Items[0].LineTotal.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("line total should be derived, got %s", quote.Items[0].LineTotal)
	}
	if price, ok := quote.UnitPrice("p2"); !ok || !price.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected unit price: %s", price)
	}
}

func TestNormalizeQuoteRejectsUnknownShape(t *testing.T) {
	for _, body := range []string{`{"success":true,"data":{"orderId":"x"}}`, `[1,2]`, `not json`} {
		if _, err := NormalizeQuote([]byte(body)); pkgerrors.CodeOf(err) != pkgerrors.CodeDependency {
			t.Fatalf("expected dependency error for %s, got %v", body, err)
		}
	}
}
