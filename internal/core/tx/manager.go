// Package tx implements transaction propagation on top of a single physical
// transactional resource: nested logical transactions join, suspend or
// isolate the physical one according to their Definition.
//
// The execution context is explicit. Callers either pass an
// *ExecutionContext to Begin or use Run / Interceptor, which carry it
// through context.Context.
package tx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"txprop/internal/core/apperror"
	"txprop/internal/core/id"
	"txprop/pkg/logger"
)

var tracer = otel.Tracer("txprop/tx")

// Runner is the contract domain code depends on.
type Runner interface {
	// Run executes fn in a logical transaction described by def.
	// If fn returns an error, the transaction is rolled back.
	// If fn succeeds, the transaction is committed.
	Run(ctx context.Context, def Definition, fn func(ctx context.Context) error) error
}

// Compile-time check that Manager implements Runner.
var _ Runner = (*Manager)(nil)

// Manager coordinates logical transactions over a ResourceFactory.
// It holds no per-call-chain state and is safe for concurrent use.
type Manager struct {
	factory  ResourceFactory
	observer Observer
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver registers an observer for manager events.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// NewManager creates a manager acquiring physical resources from factory.
func NewManager(factory ResourceFactory, opts ...Option) *Manager {
	m := &Manager{
		factory:  factory,
		observer: noopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin starts a logical transaction in ec according to def.
func (m *Manager) Begin(ctx context.Context, ec *ExecutionContext, def Definition) (*Status, error) {
	if ec == nil {
		return nil, apperror.NewConfiguration("execution context is required").WithDetail("transaction", def.Name)
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()

	action, err := decide(ec.top(), def)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "tx.begin",
		trace.WithAttributes(
			attribute.String("tx.name", def.Name),
			attribute.String("tx.propagation", def.Propagation.String()),
			attribute.String("tx.isolation", def.Isolation.String()),
			attribute.String("tx.action", action.String()),
		))
	defer span.End()

	f := newFrame(def)

	switch action {
	case ActionParticipate:
		owner := ec.top()
		f.holder = owner.holder
		f.readOnly = def.ReadOnly || owner.readOnly
		ec.push(f)
		logger.Debug(ctx, "participating in existing transaction",
			"tx_name", def.Name,
			"frame_id", id.Short(f.id),
			"resource_id", id.Short(f.holder.id),
		)
		if def.Isolation != IsolationDefault {
			logger.Debug(ctx, "isolation level ignored when participating",
				"tx_name", def.Name,
				"isolation", def.Isolation.String(),
			)
		}

	case ActionStartNew, ActionSuspendAndStartNew:
		if action == ActionSuspendAndStartNew {
			logger.Debug(ctx, "suspending current transaction, creating new transaction",
				"tx_name", def.Name,
				"suspended_resource_id", id.Short(ec.current.id),
			)
		} else {
			logger.Debug(ctx, "creating new transaction", "tx_name", def.Name, "propagation", def.Propagation.String())
		}
		// A dead (timed-out) resource is parked too, so the caller's scope
		// sees it again once this frame finishes.
		ec.suspend(f)

		h, err := m.acquire(ctx, def)
		if err != nil {
			if ec.resume(f) {
				logger.Debug(ctx, "resuming suspended transaction after begin failure", "tx_name", def.Name)
			}
			span.RecordError(err)
			return nil, err
		}
		f.newTx = true
		f.readOnly = def.ReadOnly
		f.holder = h
		ec.current = h
		ec.push(f)
		m.armTimeout(ctx, ec, f)
		logger.Debug(ctx, "acquired resource for transaction",
			"tx_name", def.Name,
			"frame_id", id.Short(f.id),
			"resource_id", id.Short(h.id),
		)
	}

	span.SetAttributes(attribute.Bool("tx.new", f.newTx))
	m.observer.TransactionBegun(action, def)
	return &Status{ec: ec, f: f, observer: m.observer}, nil
}

func (m *Manager) acquire(ctx context.Context, def Definition) (*ResourceHolder, error) {
	r, err := m.factory.Acquire(ctx, AcquireOptions{
		Name:      def.Name,
		Isolation: def.Isolation,
		ReadOnly:  def.ReadOnly,
		Timeout:   def.Timeout,
	})
	if err != nil {
		logger.Error(ctx, "failed to acquire transaction resource", "tx_name", def.Name, "error", err)
		return nil, apperror.NewTransactionSystem("acquire", err).WithDetail("transaction", def.Name)
	}
	h := newResourceHolder(r, def.ReadOnly)
	h.startedAt = m.now()
	return h, nil
}

// Commit completes the logical transaction. Only the owning frame commits
// physically; if a participant vetoed, the owner rolls back and Commit
// returns an unexpected rollback error.
func (m *Manager) Commit(ctx context.Context, st *Status) error {
	if st == nil {
		return apperror.NewIllegalState("transaction status is nil")
	}
	ec, f := st.ec, st.f

	ec.mu.Lock()
	defer ec.mu.Unlock()

	if err := ec.checkCompletable(f); err != nil {
		return err
	}
	f.completed = true

	ctx, span := tracer.Start(ctx, "tx.commit",
		trace.WithAttributes(
			attribute.String("tx.name", f.def.Name),
			attribute.Bool("tx.new", f.newTx),
		))
	defer span.End()

	if !f.newTx {
		// Nothing physical here: a veto already sits on the shared holder
		// for the owner to observe.
		ec.pop()
		logger.Debug(ctx, "participating transaction completed, commit deferred to owner",
			"tx_name", f.def.Name,
			"frame_id", id.Short(f.id),
			"rollback_only", f.holder.rollbackOnly,
		)
		return nil
	}

	err := m.completeOwner(ctx, ec, f, true)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Rollback completes the logical transaction with a rollback. A participant
// only marks the shared physical transaction rollback-only.
func (m *Manager) Rollback(ctx context.Context, st *Status) error {
	if st == nil {
		return apperror.NewIllegalState("transaction status is nil")
	}
	ec, f := st.ec, st.f

	ec.mu.Lock()
	defer ec.mu.Unlock()

	if err := ec.checkCompletable(f); err != nil {
		return err
	}
	f.completed = true

	ctx, span := tracer.Start(ctx, "tx.rollback",
		trace.WithAttributes(
			attribute.String("tx.name", f.def.Name),
			attribute.Bool("tx.new", f.newTx),
		))
	defer span.End()

	if !f.newTx {
		marked := f.rollbackOnly
		f.rollbackOnly = true
		f.holder.markRollbackOnly()
		ec.pop()
		logger.Debug(ctx, "participating transaction failed - marking existing transaction as rollback-only",
			"tx_name", f.def.Name,
			"frame_id", id.Short(f.id),
			"resource_id", id.Short(f.holder.id),
		)
		if !marked {
			m.observer.RollbackOnlyMarked(f.def)
		}
		return nil
	}

	err := m.completeOwner(ctx, ec, f, false)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// completeOwner finishes the physical transaction of an owning frame. The
// resource is released, the frame popped and the parked resource resumed
// on every path.
func (m *Manager) completeOwner(ctx context.Context, ec *ExecutionContext, f *frame, commit bool) (err error) {
	h := f.holder
	h.stopTimer()

	defer func() {
		if relErr := m.release(ctx, h); relErr != nil {
			err = multierr.Append(err, relErr)
		}
		ec.pop()
		if ec.resume(f) {
			logger.Debug(ctx, "resuming suspended transaction after completion of inner transaction",
				"tx_name", f.def.Name,
				"resource_id", id.Short(ec.current.id),
			)
		}
	}()

	switch {
	case h.timedOut:
		if commit {
			return apperror.NewUnexpectedRollback("transaction timed out and was rolled back").
				WithDetail("transaction", f.def.Name).
				WithCause(ErrTimedOut)
		}
		return nil

	case !commit:
		logger.Debug(ctx, "initiating transaction rollback", "tx_name", f.def.Name, "resource_id", id.Short(h.id))
		return m.rollbackPhysical(ctx, f, OutcomeRolledBack)

	case h.rollbackOnly:
		logger.Warn(ctx, "global transaction is marked as rollback-only but transactional code requested commit",
			"tx_name", f.def.Name,
			"resource_id", id.Short(h.id),
		)
		if err := m.rollbackPhysical(ctx, f, OutcomeUnexpectedRollback); err != nil {
			return err
		}
		return apperror.NewUnexpectedRollback("transaction rolled back because it has been marked as rollback-only").
			WithDetail("transaction", f.def.Name)

	case f.rollbackOnly:
		logger.Debug(ctx, "transactional code has requested rollback", "tx_name", f.def.Name)
		return m.rollbackPhysical(ctx, f, OutcomeRolledBack)

	default:
		logger.Debug(ctx, "initiating transaction commit", "tx_name", f.def.Name, "resource_id", id.Short(h.id))
		h.finished = true
		if err := m.factory.CommitPhysical(ctx, h.resource); err != nil {
			logger.Error(ctx, "physical commit failed", "tx_name", f.def.Name, "error", err)
			m.observer.TransactionCompleted(OutcomeFailed, f.def, m.now().Sub(h.startedAt))
			return apperror.NewTransactionSystem("commit", err).WithDetail("transaction", f.def.Name)
		}
		m.observer.TransactionCompleted(OutcomeCommitted, f.def, m.now().Sub(h.startedAt))
		return nil
	}
}

func (m *Manager) rollbackPhysical(ctx context.Context, f *frame, outcome Outcome) error {
	h := f.holder
	h.finished = true
	if err := m.factory.RollbackPhysical(ctx, h.resource); err != nil {
		logger.Error(ctx, "physical rollback failed", "tx_name", f.def.Name, "error", err)
		m.observer.TransactionCompleted(OutcomeFailed, f.def, m.now().Sub(h.startedAt))
		return apperror.NewTransactionSystem("rollback", err).WithDetail("transaction", f.def.Name)
	}
	m.observer.TransactionCompleted(outcome, f.def, m.now().Sub(h.startedAt))
	return nil
}

func (m *Manager) release(ctx context.Context, h *ResourceHolder) error {
	if h.released {
		return nil
	}
	h.released = true
	if err := m.factory.Release(ctx, h.resource); err != nil {
		logger.Error(ctx, "failed to release transaction resource", "resource_id", id.Short(h.id), "error", err)
		return apperror.NewTransactionSystem("release", err)
	}
	return nil
}

// armTimeout schedules the eager rollback of an owning frame. The callback
// keeps ctx values but not its cancellation.
func (m *Manager) armTimeout(ctx context.Context, ec *ExecutionContext, f *frame) {
	if f.def.Timeout <= 0 {
		return
	}
	h := f.holder
	h.deadline = h.startedAt.Add(f.def.Timeout)
	bg := context.WithoutCancel(ctx)
	h.timer = time.AfterFunc(f.def.Timeout, func() {
		m.expire(bg, ec, f)
	})
}

func (m *Manager) expire(ctx context.Context, ec *ExecutionContext, f *frame) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	h := f.holder
	if h.finished || f.completed {
		return
	}
	h.timedOut = true
	h.rollbackOnly = true
	h.finished = true
	h.timer = nil

	logger.Warn(ctx, "transaction timed out, rolling back",
		"tx_name", f.def.Name,
		"timeout", f.def.Timeout.String(),
		"resource_id", id.Short(h.id),
	)
	if err := m.factory.RollbackPhysical(ctx, h.resource); err != nil {
		logger.Error(ctx, "physical rollback of timed out transaction failed", "tx_name", f.def.Name, "error", err)
	}
	if err := m.release(ctx, h); err != nil {
		logger.Error(ctx, "release of timed out transaction failed", "tx_name", f.def.Name, "error", err)
	}
	m.observer.TransactionCompleted(OutcomeTimedOut, f.def, m.now().Sub(h.startedAt))
}
