package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"txprop/internal/infrastructure/storage/postgres"
)

func TestPoolMetrics_ReadStatsOnScrape(t *testing.T) {
	stats := postgres.PoolStats{TotalConns: 3, AcquiredConns: 2, IdleConns: 1, MaxConns: 10, AcquireCount: 7}
	m := NewPoolMetrics(prometheus.NewRegistry(), func() postgres.PoolStats { return stats })

	assert.Equal(t, 3.0, testutil.ToFloat64(m.total))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.acquired))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.idle))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.max))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.acquireCount))

	// A REQUIRES_NEW chain holds one more connection.
	stats.AcquiredConns = 3
	assert.Equal(t, 3.0, testutil.ToFloat64(m.acquired))
}
