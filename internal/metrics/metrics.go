package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulingMetrics exposes counters/histograms for the booking engine.
type SchedulingMetrics struct {
	operationsTotal  *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	slotsGenerated   prometheus.Counter
	staleSlotsSwept  prometheus.Counter
	rateLimitedTotal prometheus.Counter
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "operations_total",
			Help:      "Scheduling operations by name and outcome",
		}, []string{"operation", "outcome"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "operation_duration_seconds",
			Help:      "Latency of scheduling operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		slotsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "slots_generated_total",
			Help:      "Slots newly created by the generator",
		}),
		staleSlotsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "stale_reservations_cancelled_total",
			Help:      "Lapsed reservations flipped to cancelled by the lazy sweep",
		}),
		rateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Booking mutations rejected by the rate limiter",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.operationLatency, m.slotsGenerated, m.staleSlotsSwept, m.rateLimitedTotal)
	return m
}

// ObserveOperation records one finished operation. outcome is "ok" or an
// error code such as "slot_unavailable".
func (m *SchedulingMetrics) ObserveOperation(operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationLatency.WithLabelValues(operation).Observe(took.Seconds())
}

func (m *SchedulingMetrics) AddSlotsGenerated(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.slotsGenerated.Add(float64(n))
}

func (m *SchedulingMetrics) AddStaleSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.staleSlotsSwept.Add(float64(n))
}

func (m *SchedulingMetrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimitedTotal.Inc()
}
