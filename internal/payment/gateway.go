// Package payment is the adapter for the crypto payment gateway. The
// checkout core talks to the Gateway interface only; the Cryptomus
// client converts raw provider payloads into typed values at this
// boundary.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// CreatePaymentRequest asks the gateway for a new payment.
type CreatePaymentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	OrderReference string
	CallbackURL    string
}

// Payment is the gateway's handle for a created payment.
type Payment struct {
	PaymentID   string
	RedirectURL string
}

// WebhookEvent is the verified, typed content of a payment webhook.
type WebhookEvent struct {
	PaymentID      string
	OrderReference string
	Amount         decimal.Decimal
	Status         Status
}

// Status is the gateway-agnostic payment state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

type Gateway interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error)
	// ParseWebhook verifies the signature and converts the raw payload
	// into a typed event. An invalid signature is an error; the caller
	// must discard the delivery.
	ParseWebhook(payload []byte) (*WebhookEvent, error)
	// Refund returns captured funds for a cancelled paid order.
	Refund(ctx context.Context, paymentID string, amount decimal.Decimal, currency string) error
}
