package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/transport"
	"github.com/shopspring/decimal"
)

const defaultCatalogTTL = 5 * time.Minute

// Product is the locally cached view of a sellable item. Prices here are
// display hints for offline estimates only.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Catalog caches product prices for fallback estimates and item names for
// order records. Entries stay usable after the ttl; Stale only tells the
// caller a refresh is due.
type Catalog struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	products map[string]Product
	loadedAt time.Time
}

func NewCatalog(ttl time.Duration, now func() time.Time) *Catalog {
	if ttl <= 0 {
		ttl = defaultCatalogTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Catalog{ttl: ttl, now: now, products: make(map[string]Product)}
}

// Put replaces or adds products and marks the cache fresh.
func (c *Catalog) Put(products ...Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			continue
		}
		p.ID = id
		c.products[id] = p
	}
	c.loadedAt = c.now()
}

func (c *Catalog) Price(productID string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[productID]
	if !ok {
		return decimal.Zero, false
	}
	return p.Price, true
}

func (c *Catalog) Name(productID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.products[productID].Name
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.products)
}

func (c *Catalog) Stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt.IsZero() || c.now().Sub(c.loadedAt) >= c.ttl
}

// Refresh reloads products from GET /products when the cache is stale.
func (c *Catalog) Refresh(ctx context.Context, backend Backend) error {
	if !c.Stale() {
		return nil
	}
	resp, err := backend.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/products"})
	if err != nil {
		return err
	}
	raw, err := productEntries(resp)
	if err != nil {
		return err
	}
	products := make([]Product, 0, len(raw))
	for _, obj := range raw {
		id := stringField(obj, "id", "productId", "product_id")
		price, ok := decimalField(obj, "price", "finalPrice", "final_price")
		if id == "" || !ok {
			continue
		}
		products = append(products, Product{
			ID:    id,
			Name:  stringField(obj, "name", "nameEn", "name_en", "nameAr", "name_ar"),
			Price: price,
		})
	}
	if len(raw) > 0 && len(products) == 0 {
		return pkgerrors.New(pkgerrors.CodeDependency, "product list carried no usable prices")
	}
	c.Put(products...)
	return nil
}

// productEntries accepts a bare array or an object wrapping it under
// "products" or "items".
func productEntries(resp *transport.Response) ([]object, error) {
	var payload json.RawMessage
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}
	if wrapper, ok := asObject(payload); ok {
		payload = firstRaw(wrapper, "products", "items")
	}
	var entries []object
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode product list")
	}
	return entries, nil
}
