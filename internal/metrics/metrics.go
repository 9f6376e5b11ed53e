package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lifecycle counts order state machine activity for monitoring.
type Lifecycle struct {
	OrdersCreated      prometheus.Counter
	OrdersPaid         prometheus.Counter
	OrdersCompleted    prometheus.Counter
	OrdersExpired      prometheus.Counter
	ActivationFailures prometheus.Counter
	PaymentMismatches  prometheus.Counter
}

func NewLifecycle() *Lifecycle {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "proxymart",
			Subsystem: "orders",
			Name:      name,
			Help:      help,
		})
	}

	l := &Lifecycle{
		OrdersCreated:      counter("created_total", "Orders created."),
		OrdersPaid:         counter("paid_total", "Orders marked paid."),
		OrdersCompleted:    counter("completed_total", "Orders fully activated."),
		OrdersExpired:      counter("expired_total", "Orders expired by the sweep."),
		ActivationFailures: counter("activation_failures_total", "Supplier activation failures leaving orders paid."),
		PaymentMismatches:  counter("payment_mismatches_total", "Webhook amounts that did not match the order total."),
	}
	prometheus.MustRegister(
		l.OrdersCreated,
		l.OrdersPaid,
		l.OrdersCompleted,
		l.OrdersExpired,
		l.ActivationFailures,
		l.PaymentMismatches,
	)
	return l
}

func Handler() http.Handler {
	return promhttp.Handler()
}
