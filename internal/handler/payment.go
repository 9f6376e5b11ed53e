package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/proxymart/proxymart/internal/checkout"
)

const maxWebhookBody = 1 << 20

// PaymentHandler receives payment gateway callbacks.
type PaymentHandler struct {
	checkout *checkout.Service
}

func NewPaymentHandler(co *checkout.Service) *PaymentHandler {
	return &PaymentHandler{checkout: co}
}

// CryptomusWebhook applies one gateway delivery. The gateway retries
// non-2xx responses, so only deliveries we want redelivered return an
// error status: a bad signature or unknown order gets 400, an amount
// mismatch gets 200 because redelivery cannot fix it.
func (h *PaymentHandler) CryptomusWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := h.checkout.HandlePaymentWebhook(r.Context(), payload); err != nil {
		if errors.Is(err, checkout.ErrPaymentMismatch) {
			// Flagged for manual review; acknowledge the delivery.
			w.WriteHeader(http.StatusOK)
			return
		}
		log.Info().Msgf("Webhook rejected: %v", err)
		http.Error(w, "webhook rejected", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}
