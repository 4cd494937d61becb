package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts relay results per event type.
type OutboxMetrics struct {
	results *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox rows handled by the relay, by event type and result.",
		}, []string{"event_type", "result"}),
	}
	reg.MustRegister(m.results)
	return m
}

func (m *OutboxMetrics) Published(eventType string) { m.inc(eventType, "published") }

func (m *OutboxMetrics) Failed(eventType string) { m.inc(eventType, "failed") }

func (m *OutboxMetrics) DeadLettered(eventType string) { m.inc(eventType, "dead_lettered") }

func (m *OutboxMetrics) inc(eventType, result string) {
	if m == nil || m.results == nil {
		return
	}
	m.results.WithLabelValues(label(eventType), result).Inc()
}
