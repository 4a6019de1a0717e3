package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ScenariosCreated prometheus.Counter
	Transitions      *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	DeadLetters      *prometheus.CounterVec
	OutboxBacklog    prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ScenariosCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loanflow_scenarios_created_total",
			Help: "Total number of scenarios created.",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_scenario_transitions_total",
			Help: "Total number of committed scenario transitions by target status.",
		}, []string{"status"}),
		Deliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_outbox_deliveries_total",
			Help: "Total outbox delivery attempts by outcome.",
		}, []string{"outcome", "event_type"}),
		DeadLetters: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_outbox_dead_lettered_total",
			Help: "Total outbox entries moved to the dead-letter state.",
		}, []string{"event_type"}),
		OutboxBacklog: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loanflow_outbox_backlog",
			Help: "Undelivered outbox entries awaiting dispatch or retry.",
		}),
	}
}

// DeliverySucceeded implements the outbox Observer contract.
func (m *Metrics) DeliverySucceeded(eventType string) {
	m.Deliveries.WithLabelValues("delivered", eventType).Inc()
}

// DeliveryRetried counts a failed attempt that will be retried.
func (m *Metrics) DeliveryRetried(eventType string) {
	m.Deliveries.WithLabelValues("retried", eventType).Inc()
}

// DeadLettered counts an entry whose retries are exhausted.
func (m *Metrics) DeadLettered(eventType string) {
	m.Deliveries.WithLabelValues("dead_lettered", eventType).Inc()
	m.DeadLetters.WithLabelValues(eventType).Inc()
}

// BacklogDepth records the current undelivered backlog.
func (m *Metrics) BacklogDepth(depth int64) {
	m.OutboxBacklog.Set(float64(depth))
}
