package ledger

import (
	"sort"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/pagination"
	"github.com/angelmondragon/storefront-engine/pkg/types"
)

// Page is one slice of the order history.
type Page struct {
	Orders     []types.OrderRecord `json:"orders"`
	NextCursor string              `json:"nextCursor,omitempty"`
}

// Paginate orders records newest first and returns the page following
// params.Cursor.
func Paginate(orders []types.OrderRecord, params pagination.Params) (Page, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return Page{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)

	sorted := make([]types.OrderRecord, len(orders))
	copy(sorted, orders)
	sort.SliceStable(sorted, func(i, j int) bool {
		return pagination.Precedes(sorted[i].CreatedAt, sorted[i].ID, pagination.Cursor{CreatedAt: sorted[j].CreatedAt, ID: sorted[j].ID})
	})

	start := 0
	if cursor != nil {
		start = sort.Search(len(sorted), func(i int) bool {
			return cursor.After(sorted[i].CreatedAt, sorted[i].ID)
		})
	}

	page := Page{Orders: []types.OrderRecord{}}
	end := start + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	if start < end {
		page.Orders = sorted[start:end]
	}
	if end < len(sorted) && len(page.Orders) > 0 {
		last := page.Orders[len(page.Orders)-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}
