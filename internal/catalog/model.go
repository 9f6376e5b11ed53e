package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a proxy product from the catalog. The order core consumes
// it read-only: pricing and stock are mutated by external inventory
// management, never here.
type Product struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Active            bool            `json:"active"`
	Price             decimal.Decimal `json:"price"`
	MinQuantity       int             `json:"min_quantity"`
	MaxQuantity       int             `json:"max_quantity"`
	Stock             int             `json:"stock"`
	DurationDays      int             `json:"duration_days"`
	CountryCode       string          `json:"country_code"`
	ProviderProductID string          `json:"provider_product_id"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Available reports whether the requested quantity can be ordered right
// now: the product must be active, within its min/max bounds, and in
// stock.
func (p *Product) Available(quantity int) bool {
	if !p.Active {
		return false
	}
	if quantity < p.MinQuantity || quantity > p.MaxQuantity {
		return false
	}
	return quantity <= p.Stock
}
