package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/clinic-appointments/internal/apperr"
)

const namespace = "clinic"

// TxMetrics records transaction lifecycle events. It satisfies db.TxObserver.
type TxMetrics struct {
	started  *prometheus.CounterVec
	retries  *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewTxMetrics(reg prometheus.Registerer) *TxMetrics {
	m := &TxMetrics{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "started_total",
			Help:      "Transactions started, by operation",
		}, []string{"op"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "retries_total",
			Help:      "Transaction attempts retried after a write conflict",
		}, []string{"op"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "outcomes_total",
			Help:      "Finished transactions by operation and outcome",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "duration_seconds",
			Help:      "Wall time of a transaction including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.started, m.retries, m.outcomes, m.duration)
	return m
}

func (m *TxMetrics) TxStarted(_ context.Context, op string) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(op).Inc()
}

func (m *TxMetrics) TxRetried(_ context.Context, op string, _ int, _ error) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

func (m *TxMetrics) TxCommitted(_ context.Context, op string, _ int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(op, "committed").Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *TxMetrics) TxFailed(_ context.Context, op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(op, string(apperr.KindOf(err))).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// DomainMetrics counts business outcomes of the booking and prescription flows.
type DomainMetrics struct {
	bookings      *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	prescriptions *prometheus.CounterVec
	expired       prometheus.Counter
}

func NewDomainMetrics(reg prometheus.Registerer) *DomainMetrics {
	m := &DomainMetrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Applied status transitions",
		}, []string{"from", "to"}),
		prescriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prescriptions",
			Name:      "issued_total",
			Help:      "Prescription creation attempts by outcome",
		}, []string{"outcome"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prescriptions",
			Name:      "expired_total",
			Help:      "Prescriptions moved to expired by the expiry worker",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.transitions, m.prescriptions, m.expired)
	return m
}

// Outcome turns an operation error into a low-cardinality label.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(apperr.KindOf(err))
}

func (m *DomainMetrics) ObserveBooking(err error) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(Outcome(err)).Inc()
}

func (m *DomainMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *DomainMetrics) ObservePrescription(err error) {
	if m == nil {
		return
	}
	outcome := Outcome(err)
	if e, ok := apperr.As(err); ok && e.Code == apperr.CodeDuplicatePrescription {
		outcome = "duplicate"
	}
	m.prescriptions.WithLabelValues(outcome).Inc()
}

func (m *DomainMetrics) ObserveExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}
