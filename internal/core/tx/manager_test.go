package tx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txprop/internal/core/apperror"
)

func newTestManager() (*Manager, *recordingFactory, *countingObserver) {
	f := &recordingFactory{}
	o := newCountingObserver()
	return NewManager(f, WithObserver(o)), f, o
}

func named(name string) Definition {
	def := DefaultDefinition()
	def.Name = name
	return def
}

func requiresNew(name string) Definition {
	def := named(name)
	def.Propagation = PropagationRequiresNew
	return def
}

func TestManager_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	m, f, _ := newTestManager()
	ec := NewExecutionContext()

	st, err := m.Begin(ctx, ec, named("commit"))
	require.NoError(t, err)
	assert.True(t, st.IsNewTransaction())
	require.NoError(t, m.Commit(ctx, st))

	st, err = m.Begin(ctx, ec, named("rollback"))
	require.NoError(t, err)
	require.NoError(t, m.Rollback(ctx, st))

	assert.Equal(t, []string{
		"acquire:0", "commit:0", "release:0",
		"acquire:1", "rollback:1", "release:1",
	}, f.Calls())
	assert.Equal(t, 0, ec.Depth())
	assert.False(t, ec.IsTransactionActive())
}

func TestManager_SequentialTransactionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	m, f, _ := newTestManager()
	ec := NewExecutionContext()

	tx1, err := m.Begin(ctx, ec, named("tx1"))
	require.NoError(t, err)
	tx1.SetRollbackOnly()
	require.NoError(t, m.Commit(ctx, tx1))

	tx2, err := m.Begin(ctx, ec, named("tx2"))
	require.NoError(t, err)
	assert.False(t, tx2.IsRollbackOnly())
	assert.NotEqual(t, tx1.ResourceID(), tx2.ResourceID())
	require.NoError(t, m.Commit(ctx, tx2))

	require.Len(t, f.conns, 2)
	assert.Equal(t, 1, f.conns[0].rollback)
	assert.Equal(t, 0, f.conns[0].commits)
	assert.Equal(t, 1, f.conns[1].commits)
	assert.Equal(t, 1, f.conns[0].released)
	assert.Equal(t, 1, f.conns[1].released)
}

func TestManager_InnerRequiredParticipates(t *testing.T) {
	ctx := context.Background()
	m, f, o := newTestManager()
	ec := NewExecutionContext()

	outer, err := m.Begin(ctx, ec, named("outer"))
	require.NoError(t, err)
	assert.True(t, outer.IsNewTransaction())

	inner, err := m.Begin(ctx, ec, named("inner"))
	require.NoError(t, err)
	assert.False(t, inner.IsNewTransaction())
	assert.Equal(t, outer.ResourceID(), inner.ResourceID())

	require.NoError(t, m.Commit(ctx, inner))
	assert.Equal(t, []string{"acquire:0"}, f.Calls(), "participating commit must not touch the resource")

	require.NoError(t, m.Commit(ctx, outer))
	assert.Equal(t, []string{"acquire:0", "commit:0", "release:0"}, f.Calls())
	assert.Equal(t, 1, o.outcome(OutcomeCommitted))
	assert.Equal(t, 1, o.begun[ActionParticipate])
}

func TestManager_OuterRollbackAfterInnerCommit(t *testing.T) {
	ctx := context.Background()
	m, f, _ := newTestManager()
	ec := NewExecutionContext()

	outer, err := m.Begin(ctx, ec, named("outer"))
	require.NoError(t, err)
	inner, err := m.Begin(ctx, ec, named("inner"))
	require.NoError(t, err)

	require.NoError(t, m.Commit(ctx, inner))
	require.NoError(t, m.Rollback(ctx, outer))

	assert.Equal(t, []string{"acquire:0", "rollback:0", "release:0"}, f.Calls())
}

func TestManager_InnerRollbackVetoesOuterCommit(t *testing.T) {
	ctx := context.Background()
	m, f, o := newTestManager()
	ec := NewExecutionContext()

	outer, err := m.Begin(ctx, ec, named("outer"))
	require.NoError(t, err)
	inner, err := m.Begin(ctx, ec, named("inner"))
	require.NoError(t, err)

	require.NoError(t, m.Rollback(ctx, inner))
	assert.True(t, outer.IsRollbackOnly())

	err = m.Commit(ctx, outer)
	require.Error(t, err)
	assert.True(t, apperror.IsUnexpectedRollback(err))

	assert.Equal(t, []string{"acquire:0", "rollback:0", "release:0"}, f.Calls())
	assert.Equal(t, 0, f.conns[0].commits)
	assert.Equal(t, 1, o.outcome(OutcomeUnexpectedRollback))
	assert.Equal(t, 1, o.vetoCount)
	assert.Equal(t, 0, ec.Depth())
}

func TestManager_ParticipantSetRollbackOnlyVetoesOwner(t *testing.T) {
	ctx := context.Background()
	m, _, o := newTestManager()
	ec := NewExecutionContext()

	outer, err := m.Begin(ctx, ec, named("outer"))
	require.NoError(t, err)
	inner, err := m.Begin(ctx, ec, named("inner"))
	require.NoError(t, err)

	inner.SetRollbackOnly()
	inner.SetRollbackOnly()
	assert.Equal(t, 1, o.vetoCount)
	require.NoError(t, m.Commit(ctx, inner), "participating commit never fails on rollback-only")

	err = m.Commit(ctx, outer)
	assert.True(t, apperror.IsUnexpectedRollback(err))
	assert.Equal(t, 1, o.vetoCount)
}

func TestManager_ParticipantMarkedThenRolledBackCountsOneVeto(t *testing.T) {
	ctx := context.Background()
	m, _, o := newTestManager()
	ec := NewExecutionContext()

	outer, err := m.Begin(ctx, ec, named("outer"))
	require.NoError(t, err)
	inner, err := m.Begin(ctx, ec, named("inner"))
	require.NoError(t, err)

	inner.SetRollbackOnly()
	require.NoError(t, m.Rollback(ctx, inner))
	assert.Equal(t, 1, o.vetoCount)

	require.NoError(t, m.Rollback(ctx, outer))
}

func TestManager_OwnerSetRollbackOnlyIsNotAVeto(t *testing.T) {
	ctx := context.Background()
	m, _, o := newTestManager()
	ec := NewExecutionContext()

	st, err := m.Begin(ctx, ec, named("local"))
	require.NoError(t, err)
	st.SetRollbackOnly()
	assert.Zero(t, o.vetoCount)
	require.NoError(t, m.Commit(ctx, st))
}

func TestManager_OwnerLocalRollbackOnlyRollsBackQuietly(t *testing.T) {
	ctx := context.Background()
	m, f, _ := newTestManager()
	ec := NewExecutionContext()

	st, err := m.Begin(ctx, ec, named("local"))
	require.NoError(t, err)
	st.SetRollbackOnly()

	require.NoError(t, m.Commit(ctx, st))
	assert.Equal(t, []string{"acquire:0", "rollback:0", "release:0"}, f.Calls())
}

func TestManager_RequiresNewIsolatesInnerRollback(t *testing.T) {
	ctx := context.Background()
	m, f, o := newTestManager()
	ec := NewExecutionContext()

	outer, err := m.Begin(ctx, ec, named("outer"))
	require.NoError(t, err)

	inner, err := m.Begin(ctx, ec, requiresNew("inner"))
	require.NoError(t, err)
	assert.True(t, inner.IsNewTransaction())
	assert.NotEqual(t, outer.ResourceID(), inner.ResourceID())
	assert.Equal(t, 1, ec.SuspendedCount())

	require.NoError(t, m.Rollback(ctx, inner))
	assert.Equal(t, []string{"acquire:0", "acquire:1", "rollback:1", "release:1"}, f.Calls())
	assert.Equal(t, 0, ec.SuspendedCount())
	assert.True(t, ec.IsTransactionActive(), "outer must be resumed")
	assert.False(t, outer.IsRollbackOnly())

	require.NoError(t, m.Commit(ctx, outer))
	assert.Equal(t, []string{"acquire:0", "acquire:1", "rollback:1", "release:1", "commit:0", "release:0"}, f.Calls())
	assert.Equal(t, 1, o.begun[ActionSuspendAndStartNew])
}

func TestManager_RequiredInsideRequiresNewJoinsInner(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()
	ec := NewExecutionContext()

	outer, err := m.Begin(ctx, ec, named("outer"))
	require.NoError(t, err)
	isolated, err := m.Begin(ctx, ec, requiresNew("isolated"))
	require.NoError(t, err)
	joined, err := m.Begin(ctx, ec, named("joined"))
	require.NoError(t, err)

	assert.Equal(t, isolated.ResourceID(), joined.ResourceID())
	require.NoError(t, m.Rollback(ctx, joined))

	err = m.Commit(ctx, isolated)
	assert.True(t, apperror.IsUnexpectedRollback(err))
	assert.False(t, outer.IsRollbackOnly(), "veto must not leak into the suspended transaction")
	require.NoError(t, m.Commit(ctx, outer))
}

func TestManager_DoubleCompletion(t *testing.T) {
	ctx := context.Background()
	m, f, _ := newTestManager()
	ec := NewExecutionContext()

	st, err := m.Begin(ctx, ec, named("once"))
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, st))

	err = m.Commit(ctx, st)
	assert.True(t, apperror.IsIllegalState(err))
	err = m.Rollback(ctx, st)
	assert.True(t, apperror.IsIllegalState(err))

	assert.Equal(t, 1, f.conns[0].commits)
	assert.Equal(t, 0, f.conns[0].rollback)
	assert.Equal(t, 1, f.conns[0].released)
}

func TestManager_OutOfOrderCompletion(t *testing.T) {
	ctx := context.Background()
	m, f, _ := newTestManager()
	ec := NewExecutionContext()

	outer, err := m.Begin(ctx, ec, named("outer"))
	require.NoError(t, err)
	inner, err := m.Begin(ctx, ec, named("inner"))
	require.NoError(t, err)

	err = m.Commit(ctx, outer)
	assert.True(t, apperror.IsIllegalState(err))
	err = m.Rollback(ctx, outer)
	assert.True(t, apperror.IsIllegalState(err))
	assert.False(t, outer.IsCompleted())
	assert.Equal(t, []string{"acquire:0"}, f.Calls())

	require.NoError(t, m.Commit(ctx, inner))
	require.NoError(t, m.Commit(ctx, outer))
}

func TestManager_UnsupportedPropagationFailsBeforeAcquire(t *testing.T) {
	ctx := context.Background()
	m, f, _ := newTestManager()
	ec := NewExecutionContext()

	def := named("bad")
	def.Propagation = Propagation(42)

	st, err := m.Begin(ctx, ec, def)
	assert.Nil(t, st)
	assert.True(t, apperror.IsConfiguration(err))
	assert.Empty(t, f.Calls())

	_, err = m.Begin(ctx, nil, named("no-context"))
	assert.True(t, apperror.IsConfiguration(err))
}

func TestManager_AcquireFailureResumesSuspended(t *testing.T) {
	ctx := context.Background()
	m, f, o := newTestManager()
	ec := NewExecutionContext()

	outer, err := m.Begin(ctx, ec, named("outer"))
	require.NoError(t, err)

	f.acquireErr = errors.New("pool exhausted")
	_, err = m.Begin(ctx, ec, requiresNew("inner"))
	require.Error(t, err)
	assert.True(t, apperror.IsTransactionSystem(err))
	assert.Equal(t, 1, ec.Depth())
	assert.Equal(t, 0, ec.SuspendedCount())
	assert.True(t, ec.IsTransactionActive())
	assert.Zero(t, o.outcome(OutcomeFailed), "no physical transaction was started")

	f.acquireErr = nil
	require.NoError(t, m.Commit(ctx, outer))
}

func TestManager_CommitFailureStillReleasesAndResumes(t *testing.T) {
	ctx := context.Background()
	m, f, o := newTestManager()
	ec := NewExecutionContext()

	outer, err := m.Begin(ctx, ec, named("outer"))
	require.NoError(t, err)
	inner, err := m.Begin(ctx, ec, requiresNew("inner"))
	require.NoError(t, err)

	f.commitErr = errors.New("connection reset")
	err = m.Commit(ctx, inner)
	require.Error(t, err)
	assert.True(t, apperror.IsTransactionSystem(err))
	assert.Equal(t, 1, f.conns[1].released)
	assert.True(t, ec.IsTransactionActive())
	assert.Equal(t, 1, o.outcome(OutcomeFailed))

	f.commitErr = nil
	require.NoError(t, m.Commit(ctx, outer))
	assert.Equal(t, 1, f.conns[0].commits)
}

func TestManager_RollbackAndReleaseFailuresAreCombined(t *testing.T) {
	ctx := context.Background()
	m, f, _ := newTestManager()
	ec := NewExecutionContext()

	st, err := m.Begin(ctx, ec, named("broken"))
	require.NoError(t, err)

	f.rollbackErr = errors.New("rollback broke")
	f.releaseErr = errors.New("release broke")
	err = m.Rollback(ctx, st)
	require.Error(t, err)
	assert.True(t, apperror.IsTransactionSystem(err))
	assert.Contains(t, err.Error(), "rollback broke")
	assert.Contains(t, err.Error(), "release broke")
	assert.Equal(t, 0, ec.Depth())
}

func TestManager_ReadOnlyIsNeverEscalated(t *testing.T) {
	ctx := context.Background()
	m, f, _ := newTestManager()
	ec := NewExecutionContext()

	def := named("reader")
	def.ReadOnly = true
	def.Isolation = IsolationSerializable
	outer, err := m.Begin(ctx, ec, def)
	require.NoError(t, err)
	assert.True(t, outer.IsReadOnly())
	assert.True(t, f.conns[0].opts.ReadOnly)
	assert.Equal(t, IsolationSerializable, f.conns[0].opts.Isolation)

	writer, err := m.Begin(ctx, ec, named("writer"))
	require.NoError(t, err)
	assert.True(t, writer.IsReadOnly())
	assert.True(t, ec.IsReadOnly())

	isolated, err := m.Begin(ctx, ec, requiresNew("isolated"))
	require.NoError(t, err)
	assert.False(t, isolated.IsReadOnly(), "a new physical transaction has its own read-only flag")

	require.NoError(t, m.Commit(ctx, isolated))
	require.NoError(t, m.Commit(ctx, writer))
	require.NoError(t, m.Commit(ctx, outer))
}

func TestManager_TimeoutRollsBackEagerly(t *testing.T) {
	ctx := context.Background()
	m, f, o := newTestManager()
	ec := NewExecutionContext()

	def := named("slow")
	def.Timeout = 20 * time.Millisecond
	st, err := m.Begin(ctx, ec, def)
	require.NoError(t, err)
	_, ok := st.Deadline()
	assert.True(t, ok)

	require.Eventually(t, st.IsTimedOut, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"acquire:0", "rollback:0", "release:0"}, f.Calls())
	assert.Equal(t, 1, o.outcome(OutcomeTimedOut))
	assert.True(t, st.IsCompleted())

	used, err := ec.UseResource(func(Resource) error { return nil })
	assert.True(t, used)
	assert.True(t, apperror.IsUnexpectedRollback(err))
	assert.ErrorIs(t, err, ErrTimedOut)

	err = m.Commit(ctx, st)
	assert.True(t, apperror.IsUnexpectedRollback(err))
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, 0, ec.Depth())
	assert.Equal(t, []string{"acquire:0", "rollback:0", "release:0"}, f.Calls(), "no second physical action")
}

func TestManager_TimedOutTransactionRollbackSucceeds(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()
	ec := NewExecutionContext()

	def := named("slow")
	def.Timeout = 10 * time.Millisecond
	st, err := m.Begin(ctx, ec, def)
	require.NoError(t, err)
	require.Eventually(t, st.IsTimedOut, time.Second, 5*time.Millisecond)

	next, err := m.Begin(ctx, ec, named("after-timeout"))
	require.NoError(t, err)
	assert.True(t, next.IsNewTransaction(), "a dead transaction cannot be joined")
	require.NoError(t, m.Commit(ctx, next))

	require.NoError(t, m.Rollback(ctx, st))
	assert.Equal(t, 0, ec.Depth())
	assert.Equal(t, 0, ec.SuspendedCount())
}

func TestManager_CompletedTransactionDoesNotTimeOut(t *testing.T) {
	ctx := context.Background()
	m, f, _ := newTestManager()
	ec := NewExecutionContext()

	def := named("fast")
	def.Timeout = 10 * time.Millisecond
	st, err := m.Begin(ctx, ec, def)
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, st))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, st.IsTimedOut())
	assert.Equal(t, []string{"acquire:0", "commit:0", "release:0"}, f.Calls())
}

func TestExecutionContext_UseResource(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()
	ec := NewExecutionContext()

	used, err := ec.UseResource(func(Resource) error { return nil })
	assert.False(t, used)
	assert.NoError(t, err)

	st, err := m.Begin(ctx, ec, named("use"))
	require.NoError(t, err)

	var seen Resource
	used, err = UseResource(WithExecutionContext(ctx, ec), func(r Resource) error {
		seen = r
		return nil
	})
	assert.True(t, used)
	require.NoError(t, err)
	assert.Same(t, st.Resource().(*fakeConn), seen.(*fakeConn))

	used, _ = UseResource(Detach(WithExecutionContext(ctx, ec)), func(Resource) error { return nil })
	assert.False(t, used)

	require.NoError(t, m.Commit(ctx, st))
}
