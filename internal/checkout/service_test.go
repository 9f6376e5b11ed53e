package checkout_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxymart/proxymart/internal/cart"
	"github.com/proxymart/proxymart/internal/catalog"
	"github.com/proxymart/proxymart/internal/checkout"
	"github.com/proxymart/proxymart/internal/order"
	"github.com/proxymart/proxymart/internal/payment"
	"github.com/proxymart/proxymart/internal/purchase"
	"github.com/proxymart/proxymart/internal/supplier"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type mockOrders struct {
	createFunc           func(ctx context.Context, userID int64, items []order.ItemRequest, paymentMethod string) (*order.Order, error)
	createFromCartFunc   func(ctx context.Context, userID int64, entries []order.CartEntry, selectedIDs []int64, paymentMethod string) (*order.Order, error)
	getFunc              func(ctx context.Context, orderID int64) (*order.Order, error)
	getByOrderNumberFunc func(ctx context.Context, number string) (*order.Order, error)
	getByPaymentIDFunc   func(ctx context.Context, paymentID string) (*order.Order, error)
	setPaymentFunc       func(ctx context.Context, orderID int64, method, paymentID string) error
	markPaidFunc         func(ctx context.Context, orderID int64, paymentID string) error
	completeFunc         func(ctx context.Context, orderID int64) error
	flagForReviewFunc    func(ctx context.Context, orderID int64, note string) error
	cancelFunc           func(ctx context.Context, orderID int64, reason string, refundAmount *decimal.Decimal) (*order.RefundInstruction, error)
	expireSweepFunc      func(ctx context.Context, hoursOld int) (int64, error)
}

func (m *mockOrders) Create(ctx context.Context, userID int64, items []order.ItemRequest, paymentMethod string) (*order.Order, error) {
	return m.createFunc(ctx, userID, items, paymentMethod)
}

func (m *mockOrders) CreateFromCart(ctx context.Context, userID int64, entries []order.CartEntry, selectedIDs []int64, paymentMethod string) (*order.Order, error) {
	return m.createFromCartFunc(ctx, userID, entries, selectedIDs, paymentMethod)
}

func (m *mockOrders) Get(ctx context.Context, orderID int64) (*order.Order, error) {
	return m.getFunc(ctx, orderID)
}

func (m *mockOrders) GetForUser(ctx context.Context, orderID, userID int64) (*order.Order, error) {
	return nil, order.ErrOrderNotFound
}

func (m *mockOrders) GetByOrderNumber(ctx context.Context, number string) (*order.Order, error) {
	return m.getByOrderNumberFunc(ctx, number)
}

func (m *mockOrders) GetByPaymentID(ctx context.Context, paymentID string) (*order.Order, error) {
	if m.getByPaymentIDFunc != nil {
		return m.getByPaymentIDFunc(ctx, paymentID)
	}
	return nil, order.ErrOrderNotFound
}

func (m *mockOrders) ListForUser(ctx context.Context, userID int64, status *order.Status, limit, offset int) ([]order.Order, error) {
	return nil, nil
}

func (m *mockOrders) SetPayment(ctx context.Context, orderID int64, method, paymentID string) error {
	if m.setPaymentFunc != nil {
		return m.setPaymentFunc(ctx, orderID, method, paymentID)
	}
	return nil
}

func (m *mockOrders) MarkPaid(ctx context.Context, orderID int64, paymentID string) error {
	return m.markPaidFunc(ctx, orderID, paymentID)
}

func (m *mockOrders) Complete(ctx context.Context, orderID int64) error {
	return m.completeFunc(ctx, orderID)
}

func (m *mockOrders) FlagForReview(ctx context.Context, orderID int64, note string) error {
	if m.flagForReviewFunc != nil {
		return m.flagForReviewFunc(ctx, orderID, note)
	}
	return nil
}

func (m *mockOrders) Cancel(ctx context.Context, orderID int64, reason string, refundAmount *decimal.Decimal) (*order.RefundInstruction, error) {
	return m.cancelFunc(ctx, orderID, reason, refundAmount)
}

func (m *mockOrders) ExpireSweep(ctx context.Context, hoursOld int) (int64, error) {
	return m.expireSweepFunc(ctx, hoursOld)
}

func (m *mockOrders) CalculateTotal(ctx context.Context, items []order.ItemRequest) (*order.Quote, error) {
	return nil, nil
}

func (m *mockOrders) Stats(ctx context.Context, userID *int64, days int) (*order.Stats, error) {
	return nil, nil
}

func (m *mockOrders) Search(ctx context.Context, term string, userID *int64, limit, offset int) ([]order.Order, error) {
	return nil, nil
}

type mockCarts struct {
	items   []cart.Item
	cleared int64
}

func (m *mockCarts) Add(ctx context.Context, item *cart.Item) (int64, error) { return 1, nil }

func (m *mockCarts) ListForUser(ctx context.Context, userID int64) ([]cart.Item, error) {
	return m.items, nil
}

func (m *mockCarts) Remove(ctx context.Context, userID, itemID int64) error { return nil }

func (m *mockCarts) Clear(ctx context.Context, userID int64) (int64, error) {
	m.cleared++
	return int64(len(m.items)), nil
}

type mockPurchases struct {
	created   []purchase.Purchase
	fulfilled map[int64]bool
	createErr error

	deactivatedOrder int64
}

func (m *mockPurchases) Create(ctx context.Context, p *purchase.Purchase) (int64, error) {
	if m.createErr != nil {
		return 0, m.createErr
	}
	p.ID = int64(len(m.created) + 1)
	m.created = append(m.created, *p)
	return p.ID, nil
}

func (m *mockPurchases) GetByID(ctx context.Context, id int64) (*purchase.Purchase, error) {
	return nil, purchase.ErrPurchaseNotFound
}

func (m *mockPurchases) ListByOrder(ctx context.Context, orderID int64) ([]purchase.Purchase, error) {
	return m.created, nil
}

func (m *mockPurchases) ListActiveForUser(ctx context.Context, userID int64, limit, offset int) ([]purchase.Purchase, error) {
	return nil, nil
}

func (m *mockPurchases) FulfilledItemIDs(ctx context.Context, orderID int64) (map[int64]bool, error) {
	if m.fulfilled == nil {
		return map[int64]bool{}, nil
	}
	return m.fulfilled, nil
}

func (m *mockPurchases) SetActiveByOrder(ctx context.Context, orderID int64, active bool) (int64, error) {
	m.deactivatedOrder = orderID
	return int64(len(m.created)), nil
}

func (m *mockPurchases) UpdateExpiry(ctx context.Context, id int64, expiresAt time.Time) error {
	return nil
}

type mockCatalog struct {
	products map[int64]*catalog.Product
}

func (m *mockCatalog) GetProduct(ctx context.Context, id int64) (*catalog.Product, error) {
	if p, ok := m.products[id]; ok {
		return p, nil
	}
	return nil, catalog.ErrProductNotFound
}

func (m *mockCatalog) GetProducts(ctx context.Context, ids []int64) (map[int64]*catalog.Product, error) {
	found := make(map[int64]*catalog.Product)
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			found[id] = p
		}
	}
	return found, nil
}

type mockGateway struct {
	createFunc func(ctx context.Context, req payment.CreatePaymentRequest) (*payment.Payment, error)
	parseFunc  func(payload []byte) (*payment.WebhookEvent, error)
	refundFunc func(ctx context.Context, paymentID string, amount decimal.Decimal, currency string) error
}

func (m *mockGateway) CreatePayment(ctx context.Context, req payment.CreatePaymentRequest) (*payment.Payment, error) {
	return m.createFunc(ctx, req)
}

func (m *mockGateway) ParseWebhook(payload []byte) (*payment.WebhookEvent, error) {
	return m.parseFunc(payload)
}

func (m *mockGateway) Refund(ctx context.Context, paymentID string, amount decimal.Decimal, currency string) error {
	if m.refundFunc != nil {
		return m.refundFunc(ctx, paymentID, amount, currency)
	}
	return nil
}

type mockProvider struct {
	purchaseFunc func(ctx context.Context, req supplier.PurchaseRequest) (*supplier.PurchaseResult, error)
	calls        int
}

func (m *mockProvider) Purchase(ctx context.Context, req supplier.PurchaseRequest) (*supplier.PurchaseResult, error) {
	m.calls++
	return m.purchaseFunc(ctx, req)
}

func (m *mockProvider) GetStatus(ctx context.Context, providerOrderID string) (*supplier.OrderStatus, error) {
	return nil, errors.New("not implemented")
}

func (m *mockProvider) Extend(ctx context.Context, providerOrderID string, days int) (*supplier.ExtendResult, error) {
	return nil, errors.New("not implemented")
}

func paidOrder() *order.Order {
	return &order.Order{
		ID:          1,
		OrderNumber: "ORD-20260829-AAAA1111",
		UserID:      7,
		TotalAmount: dec("35.00"),
		Currency:    "USD",
		Status:      order.StatusPaid,
		PaymentID:   "pay-uuid-1",
		Items: []order.OrderItem{
			{ID: 100, OrderID: 1, ProductID: 10, Quantity: 2, UnitPrice: dec("10.00"), TotalPrice: dec("20.00")},
			{ID: 101, OrderID: 1, ProductID: 20, Quantity: 3, UnitPrice: dec("5.00"), TotalPrice: dec("15.00")},
		},
	}
}

func testProducts() map[int64]*catalog.Product {
	return map[int64]*catalog.Product{
		10: {ID: 10, Name: "Residential US", Active: true, Price: dec("10.00"), DurationDays: 30, CountryCode: "US", ProviderProductID: "res-us"},
		20: {ID: 20, Name: "Datacenter DE", Active: true, Price: dec("5.00"), DurationDays: 30, CountryCode: "DE", ProviderProductID: "dc-de"},
	}
}

func okPurchase(ctx context.Context, req supplier.PurchaseRequest) (*supplier.PurchaseResult, error) {
	return &supplier.PurchaseResult{
		ProxyList:       "1.2.3.4:8080:u:p",
		Username:        "u",
		Password:        "p",
		ProviderOrderID: "711-" + req.ProductExternalID,
	}, nil
}

func newService(orders *mockOrders, carts *mockCarts, purchases *mockPurchases, gateway *mockGateway, provider *mockProvider) *checkout.Service {
	return checkout.NewService(
		orders,
		carts,
		purchases,
		&mockCatalog{products: testProducts()},
		gateway,
		provider,
		nil,
		nil,
		checkout.Config{CallbackURL: "https://shop.example/webhook", PendingHours: 24},
	)
}

func TestService_PlaceOrder(t *testing.T) {
	var attachedPaymentID string
	orders := &mockOrders{
		createFunc: func(ctx context.Context, userID int64, items []order.ItemRequest, paymentMethod string) (*order.Order, error) {
			o := paidOrder()
			o.Status = order.StatusPending
			o.PaymentID = ""
			return o, nil
		},
		setPaymentFunc: func(ctx context.Context, orderID int64, method, paymentID string) error {
			attachedPaymentID = paymentID
			return nil
		},
	}
	gateway := &mockGateway{
		createFunc: func(ctx context.Context, req payment.CreatePaymentRequest) (*payment.Payment, error) {
			assert.Equal(t, "35.00", req.Amount.StringFixed(2))
			assert.Equal(t, "ORD-20260829-AAAA1111", req.OrderReference)
			assert.Equal(t, "https://shop.example/webhook", req.CallbackURL)
			return &payment.Payment{PaymentID: "pay-uuid-1", RedirectURL: "https://pay.example/redirect"}, nil
		},
	}

	svc := newService(orders, &mockCarts{}, &mockPurchases{}, gateway, &mockProvider{})

	placed, err := svc.PlaceOrder(context.Background(), 7, []order.ItemRequest{{ProductID: 10, Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, "pay-uuid-1", placed.PaymentID)
	assert.Equal(t, "https://pay.example/redirect", placed.RedirectURL)
	assert.Equal(t, "pay-uuid-1", attachedPaymentID)
	assert.Equal(t, checkout.PaymentMethodCrypto, placed.Order.PaymentMethod)
}

func TestService_PlaceOrder_GatewayFailureLeavesOrderPending(t *testing.T) {
	var flagged string
	orders := &mockOrders{
		createFunc: func(ctx context.Context, userID int64, items []order.ItemRequest, paymentMethod string) (*order.Order, error) {
			o := paidOrder()
			o.Status = order.StatusPending
			return o, nil
		},
		flagForReviewFunc: func(ctx context.Context, orderID int64, note string) error {
			flagged = note
			return nil
		},
		setPaymentFunc: func(ctx context.Context, orderID int64, method, paymentID string) error {
			t.Fatal("SetPayment must not be called when the gateway fails")
			return nil
		},
	}
	gateway := &mockGateway{
		createFunc: func(ctx context.Context, req payment.CreatePaymentRequest) (*payment.Payment, error) {
			return nil, errors.New("gateway down")
		},
	}

	svc := newService(orders, &mockCarts{}, &mockPurchases{}, gateway, &mockProvider{})

	_, err := svc.PlaceOrder(context.Background(), 7, []order.ItemRequest{{ProductID: 10, Quantity: 2}})
	require.Error(t, err)
	assert.Contains(t, flagged, "Payment initiation failed")
}

func TestService_PlaceOrderFromCart(t *testing.T) {
	var gotEntries []order.CartEntry
	orders := &mockOrders{
		createFromCartFunc: func(ctx context.Context, userID int64, entries []order.CartEntry, selectedIDs []int64, paymentMethod string) (*order.Order, error) {
			gotEntries = entries
			o := paidOrder()
			o.Status = order.StatusPending
			return o, nil
		},
	}
	gateway := &mockGateway{
		createFunc: func(ctx context.Context, req payment.CreatePaymentRequest) (*payment.Payment, error) {
			return &payment.Payment{PaymentID: "pay-uuid-1", RedirectURL: "https://pay.example/redirect"}, nil
		},
	}
	carts := &mockCarts{items: []cart.Item{
		{ID: 1, UserID: 7, ProductID: 10, Quantity: 2},
		{ID: 2, UserID: 7, ProductID: 20, Quantity: 3},
	}}

	svc := newService(orders, carts, &mockPurchases{}, gateway, &mockProvider{})

	_, err := svc.PlaceOrderFromCart(context.Background(), 7, nil)
	require.NoError(t, err)
	require.Len(t, gotEntries, 2)
	assert.Equal(t, int64(10), gotEntries[0].ProductID)
	// Cart survives until payment confirmation.
	assert.Equal(t, int64(0), carts.cleared)
}

func successWebhookEvent() *payment.WebhookEvent {
	return &payment.WebhookEvent{
		PaymentID:      "pay-uuid-1",
		OrderReference: "ORD-20260829-AAAA1111",
		Amount:         dec("35.00"),
		Status:         payment.StatusCompleted,
	}
}

func TestService_HandlePaymentWebhook_SuccessActivatesOrder(t *testing.T) {
	o := paidOrder()
	o.Status = order.StatusPending

	markedPaid := false
	completed := false
	orders := &mockOrders{
		getByOrderNumberFunc: func(ctx context.Context, number string) (*order.Order, error) {
			return o, nil
		},
		getFunc: func(ctx context.Context, orderID int64) (*order.Order, error) {
			paid := paidOrder()
			return paid, nil
		},
		markPaidFunc: func(ctx context.Context, orderID int64, paymentID string) error {
			markedPaid = true
			assert.Equal(t, "pay-uuid-1", paymentID)
			return nil
		},
		completeFunc: func(ctx context.Context, orderID int64) error {
			completed = true
			return nil
		},
	}
	gateway := &mockGateway{
		parseFunc: func(payload []byte) (*payment.WebhookEvent, error) {
			return successWebhookEvent(), nil
		},
	}
	carts := &mockCarts{items: []cart.Item{{ID: 1, UserID: 7, ProductID: 10, Quantity: 2}}}
	purchases := &mockPurchases{}
	provider := &mockProvider{purchaseFunc: okPurchase}

	svc := newService(orders, carts, purchases, gateway, provider)

	err := svc.HandlePaymentWebhook(context.Background(), []byte(`{}`))
	require.NoError(t, err)

	assert.True(t, markedPaid)
	assert.True(t, completed)
	assert.Equal(t, int64(1), carts.cleared)
	assert.Equal(t, 2, provider.calls)
	require.Len(t, purchases.created, 2)
	assert.Equal(t, int64(100), purchases.created[0].OrderItemID)
	assert.Equal(t, int64(101), purchases.created[1].OrderItemID)
	assert.True(t, purchases.created[0].Active)
}

func TestService_HandlePaymentWebhook_AmountMismatchLeavesOrderPending(t *testing.T) {
	o := paidOrder()
	o.Status = order.StatusPending

	var flagged string
	orders := &mockOrders{
		getByOrderNumberFunc: func(ctx context.Context, number string) (*order.Order, error) {
			return o, nil
		},
		markPaidFunc: func(ctx context.Context, orderID int64, paymentID string) error {
			t.Fatal("MarkPaid must not be called on an amount mismatch")
			return nil
		},
		flagForReviewFunc: func(ctx context.Context, orderID int64, note string) error {
			flagged = note
			return nil
		},
	}
	gateway := &mockGateway{
		parseFunc: func(payload []byte) (*payment.WebhookEvent, error) {
			event := successWebhookEvent()
			event.Amount = dec("34.99")
			return event, nil
		},
	}
	provider := &mockProvider{purchaseFunc: okPurchase}

	svc := newService(orders, &mockCarts{}, &mockPurchases{}, gateway, provider)

	err := svc.HandlePaymentWebhook(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, checkout.ErrPaymentMismatch)
	assert.Contains(t, flagged, "34.99")
	assert.Contains(t, flagged, "35.00")
	assert.Equal(t, 0, provider.calls)
}

func TestService_HandlePaymentWebhook_DuplicateDeliveryIsNoOp(t *testing.T) {
	orders := &mockOrders{
		getByOrderNumberFunc: func(ctx context.Context, number string) (*order.Order, error) {
			return paidOrder(), nil
		},
		markPaidFunc: func(ctx context.Context, orderID int64, paymentID string) error {
			return order.ErrInvalidState
		},
	}
	gateway := &mockGateway{
		parseFunc: func(payload []byte) (*payment.WebhookEvent, error) {
			return successWebhookEvent(), nil
		},
	}
	carts := &mockCarts{}
	provider := &mockProvider{purchaseFunc: okPurchase}

	svc := newService(orders, carts, &mockPurchases{}, gateway, provider)

	err := svc.HandlePaymentWebhook(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 0, provider.calls)
	assert.Equal(t, int64(0), carts.cleared)
}

func TestService_HandlePaymentWebhook_FailedPaymentCancelsPendingOrder(t *testing.T) {
	o := paidOrder()
	o.Status = order.StatusPending

	var cancelReason string
	orders := &mockOrders{
		getByOrderNumberFunc: func(ctx context.Context, number string) (*order.Order, error) {
			return o, nil
		},
		cancelFunc: func(ctx context.Context, orderID int64, reason string, refundAmount *decimal.Decimal) (*order.RefundInstruction, error) {
			cancelReason = reason
			return nil, nil
		},
	}
	gateway := &mockGateway{
		parseFunc: func(payload []byte) (*payment.WebhookEvent, error) {
			event := successWebhookEvent()
			event.Status = payment.StatusFailed
			return event, nil
		},
	}

	svc := newService(orders, &mockCarts{}, &mockPurchases{}, gateway, &mockProvider{})

	err := svc.HandlePaymentWebhook(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "payment failed", cancelReason)
}

func TestService_HandlePaymentWebhook_InvalidSignature(t *testing.T) {
	gateway := &mockGateway{
		parseFunc: func(payload []byte) (*payment.WebhookEvent, error) {
			return nil, errors.New("invalid webhook signature")
		},
	}

	svc := newService(&mockOrders{}, &mockCarts{}, &mockPurchases{}, gateway, &mockProvider{})

	err := svc.HandlePaymentWebhook(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook rejected")
}

func TestService_ActivateOrder_PartialFailureKeepsOrderPaid(t *testing.T) {
	completed := false
	var flagged string
	orders := &mockOrders{
		getFunc: func(ctx context.Context, orderID int64) (*order.Order, error) {
			return paidOrder(), nil
		},
		completeFunc: func(ctx context.Context, orderID int64) error {
			completed = true
			return nil
		},
		flagForReviewFunc: func(ctx context.Context, orderID int64, note string) error {
			flagged = note
			return nil
		},
	}
	purchases := &mockPurchases{}
	provider := &mockProvider{
		purchaseFunc: func(ctx context.Context, req supplier.PurchaseRequest) (*supplier.PurchaseResult, error) {
			if req.ProductExternalID == "dc-de" {
				return nil, errors.New("supplier out of stock")
			}
			return okPurchase(ctx, req)
		},
	}

	svc := newService(orders, &mockCarts{}, purchases, &mockGateway{}, provider)

	err := svc.ActivateOrder(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supplier out of stock")

	// The succeeding item keeps its purchase; the order is not completed.
	require.Len(t, purchases.created, 1)
	assert.Equal(t, int64(100), purchases.created[0].OrderItemID)
	assert.False(t, completed)
	assert.Contains(t, flagged, "Activation incomplete")
}

func TestService_ActivateOrder_RetrySkipsFulfilledItems(t *testing.T) {
	completed := false
	orders := &mockOrders{
		getFunc: func(ctx context.Context, orderID int64) (*order.Order, error) {
			return paidOrder(), nil
		},
		completeFunc: func(ctx context.Context, orderID int64) error {
			completed = true
			return nil
		},
	}
	purchases := &mockPurchases{fulfilled: map[int64]bool{100: true}}
	provider := &mockProvider{purchaseFunc: okPurchase}

	svc := newService(orders, &mockCarts{}, purchases, &mockGateway{}, provider)

	err := svc.ActivateOrder(context.Background(), 1)
	require.NoError(t, err)

	// Only the unfulfilled item reaches the supplier.
	assert.Equal(t, 1, provider.calls)
	require.Len(t, purchases.created, 1)
	assert.Equal(t, int64(101), purchases.created[0].OrderItemID)
	assert.True(t, completed)
}

func TestService_ActivateOrder_CompletedOrderIsNoOp(t *testing.T) {
	orders := &mockOrders{
		getFunc: func(ctx context.Context, orderID int64) (*order.Order, error) {
			o := paidOrder()
			o.Status = order.StatusCompleted
			return o, nil
		},
	}
	provider := &mockProvider{purchaseFunc: okPurchase}

	svc := newService(orders, &mockCarts{}, &mockPurchases{}, &mockGateway{}, provider)

	err := svc.ActivateOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, provider.calls)
}

func TestService_ActivateOrder_PendingOrderIsRejected(t *testing.T) {
	orders := &mockOrders{
		getFunc: func(ctx context.Context, orderID int64) (*order.Order, error) {
			o := paidOrder()
			o.Status = order.StatusPending
			return o, nil
		},
	}

	svc := newService(orders, &mockCarts{}, &mockPurchases{}, &mockGateway{}, &mockProvider{})

	err := svc.ActivateOrder(context.Background(), 1)
	assert.ErrorIs(t, err, order.ErrInvalidState)
}

func TestService_CancelOrder_PaidOrderIsRefunded(t *testing.T) {
	var refundedAmount decimal.Decimal
	var refundedPaymentID string

	orders := &mockOrders{
		getFunc: func(ctx context.Context, orderID int64) (*order.Order, error) {
			return paidOrder(), nil
		},
		cancelFunc: func(ctx context.Context, orderID int64, reason string, refundAmount *decimal.Decimal) (*order.RefundInstruction, error) {
			return &order.RefundInstruction{
				OrderID:     orderID,
				OrderNumber: "ORD-20260829-AAAA1111",
				Amount:      dec("35.00"),
				Currency:    "USD",
				Reason:      reason,
			}, nil
		},
	}
	gateway := &mockGateway{
		refundFunc: func(ctx context.Context, paymentID string, amount decimal.Decimal, currency string) error {
			refundedPaymentID = paymentID
			refundedAmount = amount
			return nil
		},
	}
	purchases := &mockPurchases{}

	svc := newService(orders, &mockCarts{}, purchases, gateway, &mockProvider{})

	err := svc.CancelOrder(context.Background(), 1, "supplier outage", nil)
	require.NoError(t, err)
	assert.Equal(t, "pay-uuid-1", refundedPaymentID)
	assert.Equal(t, "35.00", refundedAmount.StringFixed(2))
	assert.Equal(t, int64(1), purchases.deactivatedOrder)
}

func TestService_CancelOrder_RefundFailureKeepsCancellation(t *testing.T) {
	var flagged string
	orders := &mockOrders{
		getFunc: func(ctx context.Context, orderID int64) (*order.Order, error) {
			return paidOrder(), nil
		},
		cancelFunc: func(ctx context.Context, orderID int64, reason string, refundAmount *decimal.Decimal) (*order.RefundInstruction, error) {
			return &order.RefundInstruction{Amount: dec("35.00"), Currency: "USD"}, nil
		},
		flagForReviewFunc: func(ctx context.Context, orderID int64, note string) error {
			flagged = note
			return nil
		},
	}
	gateway := &mockGateway{
		refundFunc: func(ctx context.Context, paymentID string, amount decimal.Decimal, currency string) error {
			return errors.New("gateway down")
		},
	}

	svc := newService(orders, &mockCarts{}, &mockPurchases{}, gateway, &mockProvider{})

	err := svc.CancelOrder(context.Background(), 1, "supplier outage", nil)
	require.NoError(t, err)
	assert.Contains(t, flagged, "Manual payout required")
}

func TestService_ExpireStale(t *testing.T) {
	orders := &mockOrders{
		expireSweepFunc: func(ctx context.Context, hoursOld int) (int64, error) {
			assert.Equal(t, 24, hoursOld)
			return 5, nil
		},
	}

	svc := newService(orders, &mockCarts{}, &mockPurchases{}, &mockGateway{}, &mockProvider{})

	count, err := svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}
