package ledger

import (
	"testing"
	"time"

	"github.com/angelmondragon/storefront-engine/pkg/pagination"
	"github.com/angelmondragon/storefront-engine/pkg/types"
)

func TestPaginateWalksNewestFirst(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	orders := []types.OrderRecord{
		{ID: "A", CreatedAt: base},
		{ID: "C", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "B", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "D", CreatedAt: base.Add(-time.Minute)},
		{ID: "E", CreatedAt: base.Add(time.Hour)},
	}

	var seen []string
	params := pagination.Params{Limit: 2}
	for i := 0; i < 5; i++ {
		page, err := Paginate(orders, params)
		if err != nil {
			t.Fatalf("paginate: %v", err)
		}
		for _, o := range page.Orders {
			seen = append(seen, o.ID)
		}
		if page.NextCursor == "" {
			break
		}
		params.Cursor = page.NextCursor
	}

	want := []string{"E", "C", "B", "A", "D"}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
}

func TestPaginateRejectsBadCursor(t *testing.T) {
	if _, err := Paginate(nil, pagination.Params{Cursor: "%%"}); err == nil {
		t.Fatalf("expected invalid cursor error")
	}
	page, err := Paginate(nil, pagination.Params{})
	if err != nil || len(page.Orders) != 0 || page.NextCursor != "" {
		t.Fatalf("unexpected empty page %+v %v", page, err)
	}
}
