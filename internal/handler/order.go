package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/proxymart/proxymart/internal/checkout"
	"github.com/proxymart/proxymart/internal/order"
)

// OrderHandler handles HTTP requests for orders and checkout.
type OrderHandler struct {
	orders   order.Service
	checkout *checkout.Service
}

func NewOrderHandler(orders order.Service, co *checkout.Service) *OrderHandler {
	return &OrderHandler{orders: orders, checkout: co}
}

type placeOrderRequest struct {
	// Items places an order directly from explicit positions.
	Items []order.ItemRequest `json:"items,omitempty"`
	// CartItemIDs places an order from the user's cart. Empty with
	// FromCart set takes the whole cart.
	CartItemIDs []int64 `json:"cart_item_ids,omitempty"`
	FromCart    bool    `json:"from_cart,omitempty"`
}

// PlaceOrder creates an order and opens a payment for it.
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var (
		placed *checkout.PlacedOrder
		err    error
	)
	if req.FromCart || len(req.CartItemIDs) > 0 {
		placed, err = h.checkout.PlaceOrderFromCart(r.Context(), uid, req.CartItemIDs)
	} else {
		placed, err = h.checkout.PlaceOrder(r.Context(), uid, req.Items)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, placed)
}

// GetOrder returns one of the caller's orders with its items.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	o, err := h.orders.GetForUser(r.Context(), id, uid)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

// ListOrders returns the caller's orders, optionally filtered by status.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var status *order.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := order.Status(raw)
		if !s.Valid() {
			http.Error(w, "unknown status", http.StatusBadRequest)
			return
		}
		status = &s
	}

	orders, err := h.orders.ListForUser(r.Context(), uid, status, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

type cancelOrderRequest struct {
	Reason       string           `json:"reason"`
	RefundAmount *decimal.Decimal `json:"refund_amount,omitempty"`
}

// CancelOrder cancels one of the caller's orders. A paid order also
// gets its refund sent and its purchases deactivated.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	var req cancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Ownership check before any mutation.
	if _, err := h.orders.GetForUser(r.Context(), id, uid); err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		writeServiceError(w, err)
		return
	}

	if err := h.checkout.CancelOrder(r.Context(), id, req.Reason, req.RefundAmount); err != nil {
		if errors.Is(err, order.ErrInvalidState) {
			http.Error(w, "order cannot be cancelled in its current status", http.StatusConflict)
			return
		}
		writeServiceError(w, err)
		return
	}

	o, err := h.orders.GetForUser(r.Context(), id, uid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// CalculateTotal prices a prospective order without persisting anything.
func (h *OrderHandler) CalculateTotal(w http.ResponseWriter, r *http.Request) {
	var items []order.ItemRequest
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	quote, err := h.orders.CalculateTotal(r.Context(), items)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// SearchOrders finds the caller's orders by order number fragment.
func (h *OrderHandler) SearchOrders(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	orders, err := h.orders.Search(r.Context(), r.URL.Query().Get("q"), &uid, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

// OrderStats returns the caller's order statistics for the last N days.
func (h *OrderHandler) OrderStats(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	stats, err := h.orders.Stats(r.Context(), &uid, queryInt(r, "days", 30))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
