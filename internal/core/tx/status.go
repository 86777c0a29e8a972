package tx

import (
	"time"

	"txprop/internal/core/id"
)

// Status is the caller's handle to one logical transaction.
type Status struct {
	ec       *ExecutionContext
	f        *frame
	observer Observer
}

// ID identifies the logical transaction.
func (s *Status) ID() id.ID { return s.f.id }

// Name returns the definition name.
func (s *Status) Name() string { return s.f.def.Name }

// Definition returns the definition the transaction was begun with.
func (s *Status) Definition() Definition { return s.f.def }

// IsNewTransaction reports whether this logical transaction owns the
// physical one.
func (s *Status) IsNewTransaction() bool { return s.f.newTx }

// IsReadOnly returns the effective read-only flag. A participant inherits
// read-only from its owner and can never lift it.
func (s *Status) IsReadOnly() bool { return s.f.readOnly }

// SetRollbackOnly vetoes a commit. On the owning frame the veto is local and
// commit quietly rolls back; on a participant it marks the shared physical
// transaction, so the owner's commit fails with an unexpected rollback.
func (s *Status) SetRollbackOnly() {
	s.ec.mu.Lock()
	defer s.ec.mu.Unlock()
	marked := s.f.rollbackOnly
	s.f.rollbackOnly = true
	if !s.f.newTx {
		s.f.holder.markRollbackOnly()
		if !marked {
			s.observer.RollbackOnlyMarked(s.f.def)
		}
	}
}

// IsRollbackOnly reports a local or global veto.
func (s *Status) IsRollbackOnly() bool {
	s.ec.mu.Lock()
	defer s.ec.mu.Unlock()
	return s.f.rollbackOnly || s.f.holder.rollbackOnly
}

// IsCompleted reports whether commit or rollback was already called, or
// whether the owning frame's timeout already rolled the physical
// transaction back. A timed-out frame still has to be committed or rolled
// back by its caller to leave the stack.
func (s *Status) IsCompleted() bool {
	s.ec.mu.Lock()
	defer s.ec.mu.Unlock()
	return s.f.completed || (s.f.newTx && s.f.holder.timedOut)
}

// IsTimedOut reports whether the physical transaction was rolled back by
// its timeout.
func (s *Status) IsTimedOut() bool {
	s.ec.mu.Lock()
	defer s.ec.mu.Unlock()
	return s.f.holder.timedOut
}

// Deadline returns when the physical transaction times out, if it has a
// timeout. Participants report their owner's deadline.
func (s *Status) Deadline() (time.Time, bool) {
	d := s.f.holder.deadline
	return d, !d.IsZero()
}

// ResourceID identifies the physical transaction this status runs in.
func (s *Status) ResourceID() id.ID { return s.f.holder.id }

// Resource returns the physical resource. Prefer UseResource for access
// while the transaction may time out.
func (s *Status) Resource() Resource { return s.f.holder.resource }
