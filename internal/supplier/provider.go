// Package supplier is the adapter for upstream proxy providers: after
// an order is paid, proxy allocations are purchased here and handed to
// the purchase store. Provider payloads are normalized into typed
// values at this boundary.
package supplier

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseRequest asks the provider for a proxy allocation.
type PurchaseRequest struct {
	ProductExternalID string
	Quantity          int
	DurationDays      int
	Country           string
	// Format describes how proxies should be rendered, e.g.
	// "ip:port:user:pass". Passed through from the order item's
	// generation parameters.
	Format string
}

// PurchaseResult is a normalized provider allocation.
type PurchaseResult struct {
	ProxyList       string
	Username        string
	Password        string
	ProviderOrderID string
	ExpiresAt       *time.Time
}

// OrderStatus is the provider-side state of an allocation.
type OrderStatus struct {
	ProviderOrderID string
	Status          string
	TrafficUsedGB   decimal.Decimal
	ExpiresAt       *time.Time
}

// ExtendResult reports a successful expiry extension.
type ExtendResult struct {
	ProviderOrderID string
	NewExpiresAt    *time.Time
	Cost            decimal.Decimal
}

type Provider interface {
	Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error)
	GetStatus(ctx context.Context, providerOrderID string) (*OrderStatus, error)
	Extend(ctx context.Context, providerOrderID string, days int) (*ExtendResult, error)
}
