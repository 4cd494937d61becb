package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics records matching outcomes, geo query health and location
// ingestion. It satisfies the observer hooks of the dispatch, geo and
// locations packages.
type DispatchMetrics struct {
	assignments   *prometheus.CounterVec
	geoDegraded   *prometheus.CounterVec
	reservations  *prometheus.CounterVec
	geoDuration   prometheus.Histogram
	geoCandidates prometheus.Histogram
	geoErrors     prometheus.Counter
	pings         *prometheus.CounterVec
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	if reg == nil {
		return &DispatchMetrics{}
	}
	m := &DispatchMetrics{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_total",
			Help:      "Assignment commands by outcome.",
		}, []string{"outcome"}),
		geoDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geo_degraded_total",
			Help:      "Matching attempts that proceeded without candidates after a geo failure.",
		}, []string{"reason"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Partner reservation attempts by result.",
		}, []string{"result"}),
		geoDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "geo",
			Name:      "query_duration_seconds",
			Help:      "Latency of nearby partner queries.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		geoCandidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "geo",
			Name:      "query_candidates",
			Help:      "Partners returned per nearby query.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		geoErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "geo",
			Name:      "query_errors_total",
			Help:      "Nearby queries that failed.",
		}),
		pings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locations",
			Name:      "pings_total",
			Help:      "Location pings by reported availability.",
		}, []string{"state"}),
	}
	reg.MustRegister(m.assignments, m.geoDegraded, m.reservations, m.geoDuration, m.geoCandidates, m.geoErrors, m.pings)
	return m
}

func (m *DispatchMetrics) ObserveAssignment(outcome string) {
	if m == nil || m.assignments == nil {
		return
	}
	m.assignments.WithLabelValues(label(outcome)).Inc()
}

func (m *DispatchMetrics) ObserveGeoDegraded(reason string) {
	if m == nil || m.geoDegraded == nil {
		return
	}
	m.geoDegraded.WithLabelValues(label(reason)).Inc()
}

func (m *DispatchMetrics) ObserveReservation(result string) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(label(result)).Inc()
}

func (m *DispatchMetrics) ObserveGeoQuery(duration time.Duration, candidates int, err error) {
	if m == nil || m.geoDuration == nil {
		return
	}
	m.geoDuration.Observe(duration.Seconds())
	if err != nil {
		m.geoErrors.Inc()
		return
	}
	m.geoCandidates.Observe(float64(candidates))
}

func (m *DispatchMetrics) ObservePing(online bool) {
	if m == nil || m.pings == nil {
		return
	}
	state := "offline"
	if online {
		state = "online"
	}
	m.pings.WithLabelValues(state).Inc()
}
