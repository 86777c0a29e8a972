package tx

import (
	"context"
	"time"

	"txprop/internal/core/id"
)

// Resource is one physical transactional resource, e.g. a connection with
// an open database transaction. The manager never looks inside it.
type Resource any

// AcquireOptions carries the parts of a Definition the factory needs to
// open a physical transaction.
type AcquireOptions struct {
	Name      string
	Isolation IsolationLevel
	ReadOnly  bool
	Timeout   time.Duration
}

// ResourceFactory opens, finishes and releases physical transactions.
// Every method may block and may fail; the manager wraps failures and
// never retries them.
type ResourceFactory interface {
	// Acquire obtains a resource with a physical transaction already begun.
	Acquire(ctx context.Context, opts AcquireOptions) (Resource, error)
	CommitPhysical(ctx context.Context, r Resource) error
	RollbackPhysical(ctx context.Context, r Resource) error
	// Release hands the resource back. Called exactly once per Acquire,
	// after the physical transaction finished (successfully or not).
	Release(ctx context.Context, r Resource) error
}

// ResourceHolder owns one physical resource for the lifetime of its owning
// frame. Participating frames share the same holder.
type ResourceHolder struct {
	id       id.ID
	resource Resource
	readOnly bool

	// rollbackOnly is set by participants and never cleared.
	rollbackOnly bool
	// finished is set once a physical commit or rollback was issued.
	finished bool
	released bool
	timedOut bool

	startedAt time.Time
	deadline  time.Time
	timer     *time.Timer
}

func newResourceHolder(r Resource, readOnly bool) *ResourceHolder {
	return &ResourceHolder{
		id:       id.New(),
		resource: r,
		readOnly: readOnly,
	}
}

// ID identifies the physical transaction in logs.
func (h *ResourceHolder) ID() id.ID { return h.id }

func (h *ResourceHolder) markRollbackOnly() { h.rollbackOnly = true }

func (h *ResourceHolder) stopTimer() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
