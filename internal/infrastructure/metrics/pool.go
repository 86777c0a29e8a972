package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"txprop/internal/infrastructure/storage/postgres"
)

// PoolMetrics exports PostgreSQL pool statistics. Every open physical
// transaction holds one connection, so a REQUIRES_NEW chain shows up as
// acquired connections.
type PoolMetrics struct {
	total        prometheus.GaugeFunc
	acquired     prometheus.GaugeFunc
	idle         prometheus.GaugeFunc
	max          prometheus.GaugeFunc
	acquireCount prometheus.CounterFunc
}

// NewPoolMetrics registers gauges that read stats on every scrape.
func NewPoolMetrics(reg prometheus.Registerer, stats func() postgres.PoolStats) *PoolMetrics {
	gauge := func(name, help string, read func(postgres.PoolStats) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "txprop",
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return read(stats()) })
	}

	m := &PoolMetrics{
		total: gauge("connections_total", "Open pool connections.",
			func(s postgres.PoolStats) float64 { return float64(s.TotalConns) }),
		acquired: gauge("connections_acquired", "Connections held by open transactions or queries.",
			func(s postgres.PoolStats) float64 { return float64(s.AcquiredConns) }),
		idle: gauge("connections_idle", "Idle pool connections.",
			func(s postgres.PoolStats) float64 { return float64(s.IdleConns) }),
		max: gauge("connections_max", "Configured pool size.",
			func(s postgres.PoolStats) float64 { return float64(s.MaxConns) }),
		acquireCount: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "txprop",
			Subsystem: "db_pool",
			Name:      "acquires_total",
			Help:      "Connections acquired from the pool.",
		}, func() float64 { return float64(stats().AcquireCount) }),
	}
	reg.MustRegister(m.total, m.acquired, m.idle, m.max, m.acquireCount)
	return m
}
