package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/proxymart/proxymart/internal/metrics"
)

// NewRouter wires every endpoint of the service.
func NewRouter(orders *OrderHandler, carts *CartHandler, purchases *PurchaseHandler, payments *PaymentHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", orders.PlaceOrder)
			r.Get("/", orders.ListOrders)
			r.Post("/calculate", orders.CalculateTotal)
			r.Get("/search", orders.SearchOrders)
			r.Get("/stats", orders.OrderStats)
			r.Get("/{id}", orders.GetOrder)
			r.Post("/{id}/cancel", orders.CancelOrder)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", carts.ListItems)
			r.Delete("/", carts.Clear)
			r.Post("/items", carts.AddItem)
			r.Delete("/items/{id}", carts.RemoveItem)
		})

		r.Route("/purchases", func(r chi.Router) {
			r.Get("/", purchases.ListActive)
			r.Get("/{id}", purchases.GetPurchase)
		})

		r.Post("/payments/webhook/cryptomus", payments.CryptomusWebhook)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
