package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for reservations, booking
// transitions and sweeps.
type SchedulingMetrics struct {
	reservations  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	sweepItems    *prometheus.CounterVec
	relayed       prometheus.Counter
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemed",
			Subsystem: "scheduling",
			Name:      "reservations_total",
			Help:      "Seat reservation attempts by outcome",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemed",
			Subsystem: "scheduling",
			Name:      "booking_transitions_total",
			Help:      "Booking lifecycle operations by outcome",
		}, []string{"op", "outcome"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telemed",
			Subsystem: "scheduling",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of recurring and waitlist sweeps",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemed",
			Subsystem: "scheduling",
			Name:      "sweep_items_total",
			Help:      "Items processed by sweeps by outcome",
		}, []string{"sweep", "outcome"}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telemed",
			Subsystem: "scheduling",
			Name:      "events_relayed_total",
			Help:      "Outbox events delivered to the notification sink",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reservations, m.transitions, m.sweepDuration, m.sweepItems, m.relayed)
	return m
}

func (m *SchedulingMetrics) ObserveReservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(op, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(op, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveSweep(sweep string, seconds float64) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(sweep).Observe(seconds)
}

func (m *SchedulingMetrics) ObserveSweepItem(sweep, outcome string) {
	if m == nil {
		return
	}
	m.sweepItems.WithLabelValues(sweep, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveRelayed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.relayed.Add(float64(n))
}
