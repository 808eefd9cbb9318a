package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome is the result of processing one cart event.
type Outcome string

// Event outcomes.
const (
	OutcomeStored       Outcome = "stored"
	OutcomeMalformed    Outcome = "malformed"
	OutcomeRejected     Outcome = "rejected"
	OutcomeConfigError  Outcome = "config_error"
	OutcomeStorageError Outcome = "storage_error"
)

// Events counts processed cart events and their field anomalies.
// A nil *Events is valid and counts nothing.
type Events struct {
	outcomes  *prometheus.CounterVec
	anomalies *prometheus.CounterVec
}

// NewEvents registers the event counters in registry.
func NewEvents(registry prometheus.Registerer) *Events {
	f := promauto.With(registry)
	return &Events{
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cartwatch_events_total",
			Help: "Tracks the number of received cart events by outcome.",
		}, []string{"outcome"}),
		anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cartwatch_field_anomalies_total",
			Help: "Tracks the number of fields which were present but could not be converted.",
		}, []string{"field"}),
	}
}

// Observe counts one event with the given outcome.
func (e *Events) Observe(o Outcome) {
	if e == nil {
		return
	}
	e.outcomes.WithLabelValues(string(o)).Inc()
}

// Anomaly counts one conversion anomaly on field.
func (e *Events) Anomaly(field string) {
	if e == nil {
		return
	}
	e.anomalies.WithLabelValues(field).Inc()
}
