package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txprop/internal/core/tx"
)

type nopFactory struct{}

func (nopFactory) Acquire(context.Context, tx.AcquireOptions) (tx.Resource, error) {
	return struct{}{}, nil
}
func (nopFactory) CommitPhysical(context.Context, tx.Resource) error   { return nil }
func (nopFactory) RollbackPhysical(context.Context, tx.Resource) error { return nil }
func (nopFactory) Release(context.Context, tx.Resource) error          { return nil }

func TestTxMetrics_CountsManagerEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewTxMetrics(reg)
	m := tx.NewManager(nopFactory{}, tx.WithObserver(metrics))
	ctx := context.Background()
	ec := tx.NewExecutionContext()

	outer, err := m.Begin(ctx, ec, tx.DefaultDefinition())
	require.NoError(t, err)
	inner, err := m.Begin(ctx, ec, tx.DefaultDefinition())
	require.NoError(t, err)
	require.NoError(t, m.Rollback(ctx, inner))
	require.Error(t, m.Commit(ctx, outer))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.begun.WithLabelValues("start_new", "REQUIRED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.begun.WithLabelValues("participate", "REQUIRED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.completed.WithLabelValues(string(tx.OutcomeUnexpectedRollback))))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.completed.WithLabelValues(string(tx.OutcomeCommitted))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.rollbackOnly))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.duration))
}
