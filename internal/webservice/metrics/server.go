package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerMiddleware observes every request reaching the primary server, including unrouted ones
// and the ones answered by the request timeout.
type ServerMiddleware struct {
	requests *prometheus.CounterVec
	inFlight prometheus.Gauge
}

// NewServerMiddleware registers the server metrics in registry.
func NewServerMiddleware(registry prometheus.Registerer) *ServerMiddleware {
	f := promauto.With(registry)
	return &ServerMiddleware{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cartwatch_http_server_requests_total",
			Help: "Tracks the number of HTTP requests received by the server.",
		}, []string{"method", "code"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "cartwatch_http_server_requests_in_flight",
			Help: "Tracks the number of HTTP requests being served.",
		}),
	}
}

// Wrap instruments the server handler.
func (m *ServerMiddleware) Wrap(handler http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(m.inFlight,
		promhttp.InstrumentHandlerCounter(m.requests, handler))
}
