package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/proxymart/proxymart/internal/order"
)

// userID extracts the authenticated user from the gateway-injected
// header. Authentication itself happens upstream; this service only
// trusts the header.
func userID(r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Info().Msgf("Failed to encode response: %v", err)
	}
}

// writeServiceError maps domain errors onto HTTP statuses. Validation
// failures carry their reason to the client; everything else is opaque.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case order.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Info().Msgf("Request failed: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
