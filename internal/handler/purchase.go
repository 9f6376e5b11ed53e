package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/proxymart/proxymart/internal/purchase"
)

// PurchaseHandler exposes the proxies a user has bought.
type PurchaseHandler struct {
	purchases purchase.Repository
}

func NewPurchaseHandler(purchases purchase.Repository) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases}
}

// ListActive returns the caller's active proxy allocations.
func (h *PurchaseHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	purchases, err := h.purchases.ListActiveForUser(r.Context(), uid, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, purchases)
}

// GetPurchase returns one of the caller's purchases with credentials.
func (h *PurchaseHandler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid purchase id", http.StatusBadRequest)
		return
	}

	p, err := h.purchases.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, purchase.ErrPurchaseNotFound) {
			http.Error(w, "purchase not found", http.StatusNotFound)
			return
		}
		writeServiceError(w, err)
		return
	}
	if p.UserID != uid {
		http.Error(w, "purchase not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, p)
}
