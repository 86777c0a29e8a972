// Package metrics exposes transaction manager events as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"txprop/internal/core/tx"
)

var _ tx.Observer = (*TxMetrics)(nil)

// TxMetrics implements tx.Observer.
type TxMetrics struct {
	begun        *prometheus.CounterVec
	completed    *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	rollbackOnly prometheus.Counter
}

// NewTxMetrics creates the collectors and registers them with reg.
func NewTxMetrics(reg prometheus.Registerer) *TxMetrics {
	m := &TxMetrics{
		begun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txprop",
			Subsystem: "tx",
			Name:      "begun_total",
			Help:      "Logical transactions begun, by propagation action.",
		}, []string{"action", "propagation"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txprop",
			Subsystem: "tx",
			Name:      "physical_completed_total",
			Help:      "Physical transactions finished, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "txprop",
			Subsystem: "tx",
			Name:      "physical_duration_seconds",
			Help:      "Lifetime of physical transactions from acquire to commit or rollback.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"outcome"}),
		rollbackOnly: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txprop",
			Subsystem: "tx",
			Name:      "rollback_only_marked_total",
			Help:      "Participating transactions that marked the shared transaction rollback-only.",
		}),
	}
	reg.MustRegister(m.begun, m.completed, m.duration, m.rollbackOnly)
	return m
}

// TransactionBegun implements tx.Observer.
func (m *TxMetrics) TransactionBegun(action tx.Action, def tx.Definition) {
	m.begun.WithLabelValues(action.String(), def.Propagation.String()).Inc()
}

// TransactionCompleted implements tx.Observer.
func (m *TxMetrics) TransactionCompleted(outcome tx.Outcome, _ tx.Definition, elapsed time.Duration) {
	m.completed.WithLabelValues(string(outcome)).Inc()
	m.duration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

// RollbackOnlyMarked implements tx.Observer.
func (m *TxMetrics) RollbackOnlyMarked(tx.Definition) {
	m.rollbackOnly.Inc()
}
