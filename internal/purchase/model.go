package purchase

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchase is one fulfilled proxy allocation tied to an order item. Its
// presence is the per-item fulfilment marker: activation retries skip
// items that already have a purchase row, so a supplier purchase is
// never repeated.
type Purchase struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	OrderID         int64           `json:"order_id"`
	OrderItemID     int64           `json:"order_item_id"`
	ProductID       int64           `json:"product_id"`
	ProxyList       string          `json:"proxy_list"`
	Username        string          `json:"username,omitempty"`
	Password        string          `json:"password,omitempty"`
	ProviderOrderID string          `json:"provider_order_id,omitempty"`
	ExpiresAt       time.Time       `json:"expires_at"`
	TrafficUsedGB   decimal.Decimal `json:"traffic_used_gb"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
