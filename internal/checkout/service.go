// Package checkout orchestrates the full purchase flow: cart to order,
// order to payment, payment webhook to paid, paid to activated proxies.
// The order engine owns the state machine; this package owns the side
// effects around it (gateway, supplier, cart, purchases, events).
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/proxymart/proxymart/internal/cart"
	"github.com/proxymart/proxymart/internal/catalog"
	"github.com/proxymart/proxymart/internal/events"
	"github.com/proxymart/proxymart/internal/metrics"
	"github.com/proxymart/proxymart/internal/order"
	"github.com/proxymart/proxymart/internal/payment"
	"github.com/proxymart/proxymart/internal/purchase"
	"github.com/proxymart/proxymart/internal/supplier"
)

const PaymentMethodCrypto = "cryptomus"

// ErrPaymentMismatch means a webhook reported a different amount than
// the order total. The order is left pending and flagged for manual
// review; funds are never applied on a partial or wrong amount.
var ErrPaymentMismatch = errors.New("payment amount does not match order total")

// Config carries the checkout knobs that are not dependencies.
type Config struct {
	// CallbackURL is the public webhook endpoint passed to the gateway.
	CallbackURL string
	// PendingHours is how long a pending order may stay unpaid before
	// the sweep expires it.
	PendingHours int
}

// PlacedOrder is the result of starting a checkout: the created order
// plus where to send the user to pay for it.
type PlacedOrder struct {
	Order       *order.Order `json:"order"`
	PaymentID   string       `json:"payment_id"`
	RedirectURL string       `json:"redirect_url"`
}

type Service struct {
	orders    order.Service
	carts     cart.Repository
	purchases purchase.Repository
	catalog   catalog.Repository
	gateway   payment.Gateway
	provider  supplier.Provider
	publisher *events.Publisher
	lifecycle *metrics.Lifecycle
	cfg       Config
	now       func() time.Time
}

func NewService(
	orders order.Service,
	carts cart.Repository,
	purchases purchase.Repository,
	cat catalog.Repository,
	gateway payment.Gateway,
	provider supplier.Provider,
	publisher *events.Publisher,
	lifecycle *metrics.Lifecycle,
	cfg Config,
) *Service {
	return &Service{
		orders:    orders,
		carts:     carts,
		purchases: purchases,
		catalog:   cat,
		gateway:   gateway,
		provider:  provider,
		publisher: publisher,
		lifecycle: lifecycle,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder creates an order from explicit items and opens a payment
// for it.
func (s *Service) PlaceOrder(ctx context.Context, userID int64, items []order.ItemRequest) (*PlacedOrder, error) {
	o, err := s.orders.Create(ctx, userID, items, PaymentMethodCrypto)
	if err != nil {
		return nil, err
	}
	return s.initiatePayment(ctx, o)
}

// PlaceOrderFromCart creates an order from the user's cart rows and
// opens a payment for it. A nil selectedIDs takes the whole cart. The
// cart is cleared only after payment is confirmed, so an abandoned
// checkout leaves the cart intact.
func (s *Service) PlaceOrderFromCart(ctx context.Context, userID int64, selectedIDs []int64) (*PlacedOrder, error) {
	rows, err := s.carts.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries := make([]order.CartEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, order.CartEntry{
			ID:               row.ID,
			ProductID:        row.ProductID,
			Quantity:         row.Quantity,
			GenerationParams: row.GenerationParams,
		})
	}

	o, err := s.orders.CreateFromCart(ctx, userID, entries, selectedIDs, PaymentMethodCrypto)
	if err != nil {
		return nil, err
	}
	return s.initiatePayment(ctx, o)
}

// initiatePayment opens a gateway payment for a freshly created order.
// If the gateway call fails the order stays pending; the user may retry
// payment, otherwise the expiry sweep reclaims it.
func (s *Service) initiatePayment(ctx context.Context, o *order.Order) (*PlacedOrder, error) {
	if s.lifecycle != nil {
		s.lifecycle.OrdersCreated.Inc()
	}
	s.publishStatus(ctx, o, "", o.Status)

	p, err := s.gateway.CreatePayment(ctx, payment.CreatePaymentRequest{
		Amount:         o.TotalAmount,
		Currency:       o.Currency,
		OrderReference: o.OrderNumber,
		CallbackURL:    s.cfg.CallbackURL,
	})
	if err != nil {
		log.Error().Err(err).Str("order_number", o.OrderNumber).Msg("checkout: failed to create payment")
		if noteErr := s.orders.FlagForReview(ctx, o.ID, "Payment initiation failed: "+err.Error()); noteErr != nil {
			log.Error().Err(noteErr).Int64("order_id", o.ID).Msg("checkout: failed to note payment failure")
		}
		return nil, fmt.Errorf("checkout: failed to initiate payment for order %s: %w", o.OrderNumber, err)
	}

	if err := s.orders.SetPayment(ctx, o.ID, PaymentMethodCrypto, p.PaymentID); err != nil {
		return nil, fmt.Errorf("checkout: failed to attach payment to order %s: %w", o.OrderNumber, err)
	}
	o.PaymentMethod = PaymentMethodCrypto
	o.PaymentID = p.PaymentID

	log.Info().
		Str("order_number", o.OrderNumber).
		Str("payment_id", p.PaymentID).
		Str("amount", o.TotalAmount.StringFixed(2)).
		Msg("checkout: payment created")

	return &PlacedOrder{Order: o, PaymentID: p.PaymentID, RedirectURL: p.RedirectURL}, nil
}

// HandlePaymentWebhook verifies and applies one gateway delivery.
// Deliveries are retried by the gateway, so every path here must be
// idempotent: a duplicate success webhook is a no-op, a mismatching
// amount flags the order and leaves it pending.
func (s *Service) HandlePaymentWebhook(ctx context.Context, payload []byte) error {
	event, err := s.gateway.ParseWebhook(payload)
	if err != nil {
		return fmt.Errorf("checkout: webhook rejected: %w", err)
	}

	o, err := s.orders.GetByOrderNumber(ctx, event.OrderReference)
	if errors.Is(err, order.ErrOrderNotFound) && event.PaymentID != "" {
		o, err = s.orders.GetByPaymentID(ctx, event.PaymentID)
	}
	if err != nil {
		return fmt.Errorf("checkout: webhook for unknown order %q: %w", event.OrderReference, err)
	}

	switch event.Status {
	case payment.StatusCompleted:
		return s.applyPaymentSuccess(ctx, o, event)
	case payment.StatusCancelled, payment.StatusFailed:
		return s.applyPaymentFailure(ctx, o, event)
	default:
		log.Debug().
			Str("order_number", o.OrderNumber).
			Str("payment_status", string(event.Status)).
			Msg("checkout: ignoring intermediate payment status")
		return nil
	}
}

func (s *Service) applyPaymentSuccess(ctx context.Context, o *order.Order, event *payment.WebhookEvent) error {
	if !event.Amount.Equal(o.TotalAmount) {
		if s.lifecycle != nil {
			s.lifecycle.PaymentMismatches.Inc()
		}
		note := fmt.Sprintf("Payment amount mismatch: webhook reports %s, order total is %s. Manual review required.",
			event.Amount.StringFixed(2), o.TotalAmount.StringFixed(2))
		if noteErr := s.orders.FlagForReview(ctx, o.ID, note); noteErr != nil {
			log.Error().Err(noteErr).Int64("order_id", o.ID).Msg("checkout: failed to flag amount mismatch")
		}
		log.Warn().
			Str("order_number", o.OrderNumber).
			Str("webhook_amount", event.Amount.StringFixed(2)).
			Str("order_total", o.TotalAmount.StringFixed(2)).
			Msg("checkout: payment amount mismatch")
		return fmt.Errorf("checkout: order %s: %w", o.OrderNumber, ErrPaymentMismatch)
	}

	if err := s.orders.MarkPaid(ctx, o.ID, event.PaymentID); err != nil {
		if errors.Is(err, order.ErrInvalidState) {
			// Duplicate delivery: the order already left pending.
			log.Warn().Str("order_number", o.OrderNumber).Msg("checkout: duplicate payment webhook ignored")
			return nil
		}
		return fmt.Errorf("checkout: failed to mark order %s paid: %w", o.OrderNumber, err)
	}
	if s.lifecycle != nil {
		s.lifecycle.OrdersPaid.Inc()
	}
	s.publishStatus(ctx, o, order.StatusPending, order.StatusPaid)

	if _, err := s.carts.Clear(ctx, o.UserID); err != nil {
		log.Error().Err(err).Int64("user_id", o.UserID).Msg("checkout: failed to clear cart after payment")
	}

	// The payment is captured regardless of what the supplier does, so
	// an activation failure must not bounce the webhook. The order
	// stays paid and activation is retried out of band.
	if err := s.ActivateOrder(ctx, o.ID); err != nil {
		log.Error().Err(err).Str("order_number", o.OrderNumber).Msg("checkout: activation failed, order left paid")
	}
	return nil
}

func (s *Service) applyPaymentFailure(ctx context.Context, o *order.Order, event *payment.WebhookEvent) error {
	if o.Status != order.StatusPending {
		log.Warn().
			Str("order_number", o.OrderNumber).
			Str("status", string(o.Status)).
			Str("payment_status", string(event.Status)).
			Msg("checkout: failed payment for non-pending order ignored")
		return nil
	}

	_, err := s.orders.Cancel(ctx, o.ID, "payment "+string(event.Status), nil)
	if err != nil {
		if errors.Is(err, order.ErrInvalidState) {
			return nil
		}
		return fmt.Errorf("checkout: failed to cancel order %s after failed payment: %w", o.OrderNumber, err)
	}
	s.publishStatus(ctx, o, order.StatusPending, order.StatusCancelled)
	return nil
}

// ActivateOrder purchases proxies for every unfulfilled item of a paid
// order. Each item is fulfilled at most once: items with an existing
// purchase row are skipped, so a retry after a partial failure only
// touches the items that are still missing. Full success completes the
// order; any failure leaves it paid with its successful purchases kept.
func (s *Service) ActivateOrder(ctx context.Context, orderID int64) error {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	switch o.Status {
	case order.StatusCompleted:
		return nil
	case order.StatusPaid:
	default:
		return fmt.Errorf("checkout: cannot activate order %s in status %s: %w", o.OrderNumber, o.Status, order.ErrInvalidState)
	}

	fulfilled, err := s.purchases.FulfilledItemIDs(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("checkout: failed to load fulfilment state for order %s: %w", o.OrderNumber, err)
	}

	ids := make([]int64, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return fmt.Errorf("checkout: failed to load products for order %s: %w", o.OrderNumber, err)
	}

	var firstErr error
	failures := 0
	for _, item := range o.Items {
		if fulfilled[item.ID] {
			continue
		}
		if err := s.activateItem(ctx, o, item, products[item.ProductID]); err != nil {
			log.Error().Err(err).
				Str("order_number", o.OrderNumber).
				Int64("order_item_id", item.ID).
				Msg("checkout: item activation failed")
			if firstErr == nil {
				firstErr = err
			}
			failures++
		}
	}

	if firstErr != nil {
		if s.lifecycle != nil {
			s.lifecycle.ActivationFailures.Inc()
		}
		note := fmt.Sprintf("Activation incomplete: %d of %d items failed, will retry. Last error: %s",
			failures, len(o.Items), firstErr)
		if noteErr := s.orders.FlagForReview(ctx, o.ID, note); noteErr != nil {
			log.Error().Err(noteErr).Int64("order_id", o.ID).Msg("checkout: failed to note activation failure")
		}
		return fmt.Errorf("checkout: activation of order %s incomplete: %w", o.OrderNumber, firstErr)
	}

	if err := s.orders.Complete(ctx, o.ID); err != nil {
		if errors.Is(err, order.ErrInvalidState) {
			// A concurrent activation got there first.
			return nil
		}
		return fmt.Errorf("checkout: failed to complete order %s: %w", o.OrderNumber, err)
	}
	if s.lifecycle != nil {
		s.lifecycle.OrdersCompleted.Inc()
	}
	s.publishStatus(ctx, o, order.StatusPaid, order.StatusCompleted)

	log.Info().Str("order_number", o.OrderNumber).Int("items", len(o.Items)).Msg("checkout: order activated")
	return nil
}

func (s *Service) activateItem(ctx context.Context, o *order.Order, item order.OrderItem, product *catalog.Product) error {
	if product == nil {
		return fmt.Errorf("product %d no longer exists in the catalog", item.ProductID)
	}

	result, err := s.provider.Purchase(ctx, supplier.PurchaseRequest{
		ProductExternalID: product.ProviderProductID,
		Quantity:          item.Quantity,
		DurationDays:      product.DurationDays,
		Country:           product.CountryCode,
		Format:            item.GenerationParams,
	})
	if err != nil {
		return err
	}

	expiresAt := s.now().AddDate(0, 0, product.DurationDays)
	if result.ExpiresAt != nil {
		expiresAt = *result.ExpiresAt
	}

	_, err = s.purchases.Create(ctx, &purchase.Purchase{
		UserID:          o.UserID,
		OrderID:         o.ID,
		OrderItemID:     item.ID,
		ProductID:       item.ProductID,
		ProxyList:       result.ProxyList,
		Username:        result.Username,
		Password:        result.Password,
		ProviderOrderID: result.ProviderOrderID,
		ExpiresAt:       expiresAt,
		Active:          true,
	})
	if err != nil {
		return fmt.Errorf("failed to store purchase for item %d: %w", item.ID, err)
	}
	return nil
}

// CancelOrder cancels an order, deactivates its purchases and, when the
// order was already paid, sends the refund to the gateway. A refund
// transfer failure does not undo the cancellation; the order is flagged
// for a manual payout instead.
func (s *Service) CancelOrder(ctx context.Context, orderID int64, reason string, refundAmount *decimal.Decimal) error {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}

	instruction, err := s.orders.Cancel(ctx, orderID, reason, refundAmount)
	if err != nil {
		return err
	}
	s.publishStatus(ctx, o, o.Status, order.StatusCancelled)

	if _, err := s.purchases.SetActiveByOrder(ctx, orderID, false); err != nil {
		log.Error().Err(err).Int64("order_id", orderID).Msg("checkout: failed to deactivate purchases")
	}

	if instruction == nil {
		return nil
	}
	if o.PaymentID == "" {
		log.Warn().Str("order_number", o.OrderNumber).Msg("checkout: refund due but order has no payment id")
		return nil
	}
	if err := s.gateway.Refund(ctx, o.PaymentID, instruction.Amount, instruction.Currency); err != nil {
		log.Error().Err(err).
			Str("order_number", o.OrderNumber).
			Str("amount", instruction.Amount.StringFixed(2)).
			Msg("checkout: refund transfer failed")
		note := fmt.Sprintf("Refund of %s %s failed: %s. Manual payout required.",
			instruction.Amount.StringFixed(2), instruction.Currency, err)
		if noteErr := s.orders.FlagForReview(ctx, orderID, note); noteErr != nil {
			log.Error().Err(noteErr).Int64("order_id", orderID).Msg("checkout: failed to note refund failure")
		}
	}
	return nil
}

// ExpireStale moves overdue pending orders to expired. Called from the
// scheduler; running it twice in a row is harmless because the second
// sweep finds nothing.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	count, err := s.orders.ExpireSweep(ctx, s.cfg.PendingHours)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		if s.lifecycle != nil {
			s.lifecycle.OrdersExpired.Add(float64(count))
		}
		log.Info().Int64("orders", count).Msg("checkout: expired stale pending orders")
	}
	return count, nil
}

func (s *Service) publishStatus(ctx context.Context, o *order.Order, from, to order.Status) {
	if !s.publisher.Enabled() {
		return
	}
	s.publisher.PublishStatusChange(ctx, events.OrderStatusEvent{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		OldStatus:   string(from),
		NewStatus:   string(to),
		Amount:      o.TotalAmount.StringFixed(2),
		Currency:    o.Currency,
		OccurredAt:  s.now(),
	})
}
