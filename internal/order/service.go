package order

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/proxymart/proxymart/internal/catalog"
	"github.com/proxymart/proxymart/internal/money"
)

// Business limits carried over from the shop's original rules.
var (
	maxOrderAmount = decimal.NewFromInt(50000)
	maxOrderItems  = 10000
)

const orderNumberAttempts = 5

// ItemRequest is one requested catalog position. Prices are never taken
// from the client; the service reprices everything from the catalog.
type ItemRequest struct {
	ProductID        int64  `json:"product_id"`
	Quantity         int    `json:"quantity"`
	GenerationParams string `json:"generation_params,omitempty"`
}

// CartEntry is a cart row as seen by order creation.
type CartEntry struct {
	ID               int64
	ProductID        int64
	Quantity         int
	GenerationParams string
}

// QuoteLine is one priced position of a quote.
type QuoteLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// Quote is a pure price calculation; nothing is persisted.
type Quote struct {
	Items    []QuoteLine     `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
}

// RefundInstruction records the intent to return captured funds after a
// paid order is cancelled. The payment boundary performs the actual
// transfer; the engine only emits the instruction.
type RefundInstruction struct {
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Reason      string          `json:"reason"`
}

type Service interface {
	Create(ctx context.Context, userID int64, items []ItemRequest, paymentMethod string) (*Order, error)
	CreateFromCart(ctx context.Context, userID int64, entries []CartEntry, selectedIDs []int64, paymentMethod string) (*Order, error)
	Get(ctx context.Context, orderID int64) (*Order, error)
	GetForUser(ctx context.Context, orderID, userID int64) (*Order, error)
	GetByOrderNumber(ctx context.Context, number string) (*Order, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*Order, error)
	ListForUser(ctx context.Context, userID int64, status *Status, limit, offset int) ([]Order, error)
	SetPayment(ctx context.Context, orderID int64, method, paymentID string) error
	MarkPaid(ctx context.Context, orderID int64, paymentID string) error
	Complete(ctx context.Context, orderID int64) error
	FlagForReview(ctx context.Context, orderID int64, note string) error
	Cancel(ctx context.Context, orderID int64, reason string, refundAmount *decimal.Decimal) (*RefundInstruction, error)
	ExpireSweep(ctx context.Context, hoursOld int) (int64, error)
	CalculateTotal(ctx context.Context, items []ItemRequest) (*Quote, error)
	Stats(ctx context.Context, userID *int64, days int) (*Stats, error)
	Search(ctx context.Context, term string, userID *int64, limit, offset int) ([]Order, error)
}

type service struct {
	repo       Repository
	catalog    catalog.Repository
	pendingTTL time.Duration
	now        func() time.Time
}

func NewService(repo Repository, cat catalog.Repository, pendingTTL time.Duration) Service {
	return &service{
		repo:       repo,
		catalog:    cat,
		pendingTTL: pendingTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// priceItems reprices every request from the current catalog. It fails
// before any write when a product is missing, inactive, out of bounds
// or out of stock.
func (s *service) priceItems(ctx context.Context, requests []ItemRequest) ([]OrderItem, []QuoteLine, decimal.Decimal, error) {
	ids := make([]int64, 0, len(requests))
	for _, req := range requests {
		ids = append(ids, req.ProductID)
	}

	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, nil, decimal.Zero, fmt.Errorf("service: failed to load products: %w", err)
	}

	items := make([]OrderItem, 0, len(requests))
	lines := make([]QuoteLine, 0, len(requests))
	totalQuantity := 0

	for _, req := range requests {
		if req.Quantity <= 0 {
			return nil, nil, decimal.Zero, validationErrorf("quantity for product %d must be positive", req.ProductID)
		}

		product, ok := products[req.ProductID]
		if !ok {
			return nil, nil, decimal.Zero, validationErrorf("product %d not found", req.ProductID)
		}
		if !product.Active {
			return nil, nil, decimal.Zero, validationErrorf("product %d is not available", req.ProductID)
		}
		if req.Quantity < product.MinQuantity || req.Quantity > product.MaxQuantity {
			return nil, nil, decimal.Zero, validationErrorf(
				"quantity %d for product %d is outside allowed range %d..%d",
				req.Quantity, req.ProductID, product.MinQuantity, product.MaxQuantity)
		}
		if req.Quantity > product.Stock {
			return nil, nil, decimal.Zero, validationErrorf("insufficient stock for product %d", req.ProductID)
		}

		lineTotal, err := money.LineTotal(product.Price, req.Quantity)
		if err != nil {
			return nil, nil, decimal.Zero, validationErrorf("failed to price product %d: %v", req.ProductID, err)
		}

		items = append(items, OrderItem{
			ProductID:        req.ProductID,
			Quantity:         req.Quantity,
			UnitPrice:        product.Price,
			TotalPrice:       lineTotal,
			GenerationParams: req.GenerationParams,
		})
		lines = append(lines, QuoteLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    req.Quantity,
			UnitPrice:   product.Price,
			TotalPrice:  lineTotal,
		})
		totalQuantity += req.Quantity
	}

	if totalQuantity > maxOrderItems {
		return nil, nil, decimal.Zero, validationErrorf("order exceeds maximum item limit of %d", maxOrderItems)
	}

	totals := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		totals = append(totals, item.TotalPrice)
	}
	total := money.Sum(totals...)

	if !total.IsPositive() {
		return nil, nil, decimal.Zero, &ValidationError{Reason: "order total must be positive"}
	}
	if total.GreaterThan(maxOrderAmount) {
		return nil, nil, decimal.Zero, validationErrorf("order amount exceeds maximum limit of %s", maxOrderAmount)
	}

	return items, lines, total, nil
}

func (s *service) Create(ctx context.Context, userID int64, requests []ItemRequest, paymentMethod string) (*Order, error) {
	if len(requests) == 0 {
		return nil, &ValidationError{Reason: "order must contain at least one item"}
	}

	items, _, total, err := s.priceItems(ctx, requests)
	if err != nil {
		return nil, err
	}

	number, err := s.uniqueOrderNumber(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.pendingTTL)
	o := &Order{
		OrderNumber:   number,
		UserID:        userID,
		TotalAmount:   total,
		Currency:      "USD",
		Status:        StatusPending,
		PaymentMethod: paymentMethod,
		Items:         items,
		ExpiresAt:     &expiresAt,
	}

	if _, err := s.repo.CreateWithItems(ctx, o); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("service: failed to create order")
		return nil, err
	}

	log.Info().
		Int64("order_id", o.ID).
		Str("order_number", o.OrderNumber).
		Int64("user_id", userID).
		Str("total", money.Display(total)).
		Msg("service: order created")
	return o, nil
}

// CreateFromCart builds an order from cart rows. When selectedIDs is
// non-empty, only those rows are ordered; an empty result after
// filtering is a validation failure, not an empty order.
func (s *service) CreateFromCart(ctx context.Context, userID int64, entries []CartEntry, selectedIDs []int64, paymentMethod string) (*Order, error) {
	if len(entries) == 0 {
		return nil, &ValidationError{Reason: "cart is empty"}
	}

	requests := make([]ItemRequest, 0, len(entries))
	if len(selectedIDs) == 0 {
		for _, e := range entries {
			requests = append(requests, ItemRequest{ProductID: e.ProductID, Quantity: e.Quantity, GenerationParams: e.GenerationParams})
		}
	} else {
		selected := make(map[int64]bool, len(selectedIDs))
		for _, id := range selectedIDs {
			selected[id] = true
		}
		for _, e := range entries {
			if selected[e.ID] {
				requests = append(requests, ItemRequest{ProductID: e.ProductID, Quantity: e.Quantity, GenerationParams: e.GenerationParams})
			}
		}
	}

	if len(requests) == 0 {
		return nil, &ValidationError{Reason: "no valid items selected"}
	}
	return s.Create(ctx, userID, requests, paymentMethod)
}

func (s *service) uniqueOrderNumber(ctx context.Context) (string, error) {
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		number, err := NewOrderNumber(s.now())
		if err != nil {
			return "", fmt.Errorf("service: failed to generate order number: %w", err)
		}
		exists, err := s.repo.OrderNumberExists(ctx, number)
		if err != nil {
			return "", err
		}
		if !exists {
			return number, nil
		}
		log.Warn().Str("order_number", number).Msg("service: order number collision, regenerating")
	}
	return "", fmt.Errorf("service: exhausted %d order number attempts", orderNumberAttempts)
}

func (s *service) Get(ctx context.Context, orderID int64) (*Order, error) {
	return s.repo.GetWithItems(ctx, orderID)
}

func (s *service) GetForUser(ctx context.Context, orderID, userID int64) (*Order, error) {
	o, err := s.repo.GetWithItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		// Ownership mismatch is indistinguishable from absence for the caller.
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *service) GetByOrderNumber(ctx context.Context, number string) (*Order, error) {
	return s.repo.GetByOrderNumber(ctx, number)
}

func (s *service) GetByPaymentID(ctx context.Context, paymentID string) (*Order, error) {
	return s.repo.GetByPaymentID(ctx, paymentID)
}

func (s *service) ListForUser(ctx context.Context, userID int64, status *Status, limit, offset int) ([]Order, error) {
	return s.repo.ListForUser(ctx, userID, status, limit, offset)
}

func (s *service) SetPayment(ctx context.Context, orderID int64, method, paymentID string) error {
	return s.repo.SetPayment(ctx, orderID, method, paymentID)
}

// MarkPaid transitions pending -> paid with a compare-and-set guard so
// a duplicate payment webhook cannot double-apply downstream effects.
func (s *service) MarkPaid(ctx context.Context, orderID int64, paymentID string) error {
	applied, err := s.repo.UpdateStatusIf(ctx, orderID, StatusPending, StatusPaid)
	if err != nil {
		return err
	}
	if !applied {
		if _, getErr := s.repo.GetWithItems(ctx, orderID); getErr != nil {
			return getErr
		}
		log.Warn().Int64("order_id", orderID).Str("payment_id", paymentID).Msg("service: mark paid rejected, order is not pending")
		return ErrInvalidState
	}

	if paymentID != "" {
		if err := s.repo.AppendNote(ctx, orderID, "Payment confirmed: "+paymentID); err != nil {
			log.Error().Err(err).Int64("order_id", orderID).Msg("service: failed to record payment note")
		}
	}

	log.Info().Int64("order_id", orderID).Str("payment_id", paymentID).Msg("service: order marked paid")
	return nil
}

// Complete transitions paid -> completed after all items are activated,
// with the same compare-and-set guard as MarkPaid.
func (s *service) Complete(ctx context.Context, orderID int64) error {
	applied, err := s.repo.UpdateStatusIf(ctx, orderID, StatusPaid, StatusCompleted)
	if err != nil {
		return err
	}
	if !applied {
		if _, getErr := s.repo.GetWithItems(ctx, orderID); getErr != nil {
			return getErr
		}
		return ErrInvalidState
	}

	log.Info().Int64("order_id", orderID).Msg("service: order completed")
	return nil
}

// FlagForReview leaves an audit note on the order without changing its
// status, used when a webhook amount does not reconcile.
func (s *service) FlagForReview(ctx context.Context, orderID int64, note string) error {
	return s.repo.AppendNote(ctx, orderID, note)
}

// Cancel rejects terminal orders and, for paid ones, emits a refund
// instruction (full total unless an explicit amount is given) for the
// payment boundary to carry out.
func (s *service) Cancel(ctx context.Context, orderID int64, reason string, refundAmount *decimal.Decimal) (*RefundInstruction, error) {
	if reason == "" {
		return nil, &ValidationError{Reason: "cancellation reason is required"}
	}

	o, err := s.repo.GetWithItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: cannot cancel order in status %s", ErrInvalidState, o.Status)
	}

	if err := s.repo.Cancel(ctx, orderID, reason); err != nil {
		return nil, err
	}

	var refund *RefundInstruction
	if o.Status == StatusPaid {
		amount := o.TotalAmount
		if refundAmount != nil {
			amount = *refundAmount
		}
		refund = &RefundInstruction{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			Amount:      amount,
			Currency:    o.Currency,
			Reason:      reason,
		}
		if err := s.repo.AppendNote(ctx, orderID, "Refund due: "+money.Display(amount)+" "+o.Currency); err != nil {
			log.Error().Err(err).Int64("order_id", orderID).Msg("service: failed to record refund note")
		}
	}

	return refund, nil
}

// ExpireSweep is idempotent: orders already swept are excluded by the
// pending status filter, so a second run right after the first affects
// zero rows.
func (s *service) ExpireSweep(ctx context.Context, hoursOld int) (int64, error) {
	count, err := s.repo.CleanupExpired(ctx, hoursOld)
	if err != nil {
		log.Error().Err(err).Msg("service: expiry sweep failed")
		return 0, err
	}
	if count > 0 {
		log.Info().Int64("orders_expired", count).Msg("service: expiry sweep transitioned stale orders")
	}
	return count, nil
}

func (s *service) CalculateTotal(ctx context.Context, requests []ItemRequest) (*Quote, error) {
	if len(requests) == 0 {
		return nil, &ValidationError{Reason: "nothing to calculate"}
	}

	_, lines, total, err := s.priceItems(ctx, requests)
	if err != nil {
		return nil, err
	}

	return &Quote{
		Items:    lines,
		Subtotal: total,
		Discount: decimal.Zero,
		Total:    total,
		Currency: "USD",
	}, nil
}

func (s *service) Stats(ctx context.Context, userID *int64, days int) (*Stats, error) {
	return s.repo.Stats(ctx, userID, days)
}

func (s *service) Search(ctx context.Context, term string, userID *int64, limit, offset int) ([]Order, error) {
	return s.repo.Search(ctx, term, userID, limit, offset)
}
