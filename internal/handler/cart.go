package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/proxymart/proxymart/internal/cart"
	"github.com/proxymart/proxymart/internal/catalog"
)

// CartHandler handles the shopping cart endpoints.
type CartHandler struct {
	carts   cart.Repository
	catalog catalog.Repository
}

func NewCartHandler(carts cart.Repository, cat catalog.Repository) *CartHandler {
	return &CartHandler{carts: carts, catalog: cat}
}

type addCartItemRequest struct {
	ProductID        int64  `json:"product_id"`
	Quantity         int    `json:"quantity"`
	GenerationParams string `json:"generation_params,omitempty"`
}

// AddItem puts a product into the caller's cart, merging with an
// existing row for the same product.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req addCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Quantity <= 0 {
		http.Error(w, "quantity must be positive", http.StatusBadRequest)
		return
	}

	product, err := h.catalog.GetProduct(r.Context(), req.ProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			http.Error(w, "product not found", http.StatusNotFound)
			return
		}
		writeServiceError(w, err)
		return
	}
	if !product.Available(req.Quantity) {
		http.Error(w, "product is not available in the requested quantity", http.StatusBadRequest)
		return
	}

	item := &cart.Item{
		UserID:           uid,
		ProductID:        req.ProductID,
		Quantity:         req.Quantity,
		GenerationParams: req.GenerationParams,
	}
	if _, err := h.carts.Add(r.Context(), item); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, item)
}

// ListItems returns the caller's cart.
func (h *CartHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	items, err := h.carts.ListForUser(r.Context(), uid)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, items)
}

// RemoveItem deletes one row from the caller's cart.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid cart item id", http.StatusBadRequest)
		return
	}

	if err := h.carts.Remove(r.Context(), uid, id); err != nil {
		http.Error(w, "cart item not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Clear empties the caller's cart.
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	removed, err := h.carts.Clear(r.Context(), uid)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"items_removed": removed})
}
