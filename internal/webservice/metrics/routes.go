// Package metrics provides the Prometheus instrumentation of the cartwatch web service:
// request metrics per route, server wide request metrics and cart event outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Route names a route of the service in metrics labels.
// Labels never carry the request path, so that unknown paths cannot grow the series count.
type Route string

// Instrumented routes.
const (
	RouteCartEvent Route = "cart_event"
	RouteVersion   Route = "version"
)

// RouteMiddleware observes the requests served by each route.
type RouteMiddleware struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	size     *prometheus.SummaryVec
}

// NewRouteMiddleware registers the route metrics in registry.
func NewRouteMiddleware(registry prometheus.Registerer) *RouteMiddleware {
	f := promauto.With(registry)
	labels := []string{"route", "method", "code"}

	return &RouteMiddleware{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cartwatch_http_requests_total",
			Help: "Tracks the number of HTTP requests served by each route.",
		}, labels),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "cartwatch_http_request_duration_seconds",
			Help: "Tracks the latencies of HTTP requests served by each route.",
			// 5ms to 10.24s: the upper bucket holds inserts reaching the database timeout.
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, labels),
		size: f.NewSummaryVec(prometheus.SummaryOpts{
			Name: "cartwatch_http_request_size_bytes",
			Help: "Tracks the size of HTTP requests served by each route.",
		}, labels),
	}
}

// Wrap instruments handler as route. A route can be wrapped more than once.
func (m *RouteMiddleware) Wrap(route Route, handler http.Handler) http.HandlerFunc {
	l := prometheus.Labels{"route": string(route)}

	return promhttp.InstrumentHandlerCounter(
		m.requests.MustCurryWith(l),
		promhttp.InstrumentHandlerDuration(
			m.duration.MustCurryWith(l),
			promhttp.InstrumentHandlerRequestSize(m.size.MustCurryWith(l), handler),
		),
	)
}
