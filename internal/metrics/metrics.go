package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the storefront. Each instance
// owns its registry so tests can build as many apps as they like.
type Metrics struct {
	registry *prometheus.Registry

	LoginAttempts   *prometheus.CounterVec // result=success|failure
	RateLimited     *prometheus.CounterVec // action
	TokenRefreshes  *prometheus.CounterVec // result
	UsersRegistered prometheus.Counter
	OrdersCreated   prometheus.Counter
	OrdersRejected  *prometheus.CounterVec // reason=error code
	OrderLatency    prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Metrics{
		registry: reg,
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_login_attempts_total",
			Help: "Login attempts that passed the rate limiter, by result",
		}, []string{"result"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_rate_limited_total",
			Help: "Requests rejected by the sliding-window limiter",
		}, []string{"action"}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_token_refreshes_total",
			Help: "Refresh token exchanges, by result",
		}, []string{"result"}),
		UsersRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_users_registered_total",
			Help: "Users created through registration",
		}),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_orders_created_total",
			Help: "Orders committed",
		}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_orders_rejected_total",
			Help: "Order creations rolled back, by error code",
		}, []string{"reason"}),
		OrderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_order_create_seconds",
			Help:    "Latency of the order creation transaction",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.LoginAttempts, m.RateLimited, m.TokenRefreshes, m.UsersRegistered,
		m.OrdersCreated, m.OrdersRejected, m.OrderLatency)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
