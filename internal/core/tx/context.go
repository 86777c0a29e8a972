package tx

import (
	"context"
	"errors"
	"sync"

	"txprop/internal/core/apperror"
	"txprop/internal/core/id"
)

// ErrTimedOut is the cause attached when a physical transaction was rolled
// back because its definition's timeout elapsed.
var ErrTimedOut = errors.New("transaction timed out")

// ExecutionContext holds the transaction state of one logical call chain:
// a LIFO stack of frames, the resource currently bound to the chain and the
// resources parked by REQUIRES_NEW frames.
//
// An ExecutionContext belongs to exactly one goroutine at a time. The mutex
// only serialises the owner against timeout callbacks.
type ExecutionContext struct {
	mu        sync.Mutex
	frames    []*frame
	current   *ResourceHolder
	suspended map[id.ID]*ResourceHolder
}

// NewExecutionContext returns an empty context.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		suspended: make(map[id.ID]*ResourceHolder),
	}
}

type frame struct {
	id  id.ID
	def Definition

	newTx        bool
	readOnly     bool
	rollbackOnly bool
	completed    bool

	holder *ResourceHolder
	// suspended is the holder this frame parked when it started.
	suspended *ResourceHolder
}

func newFrame(def Definition) *frame {
	return &frame{id: id.New(), def: def}
}

func (ec *ExecutionContext) top() *frame {
	if len(ec.frames) == 0 {
		return nil
	}
	return ec.frames[len(ec.frames)-1]
}

func (ec *ExecutionContext) push(f *frame) {
	ec.frames = append(ec.frames, f)
}

func (ec *ExecutionContext) pop() {
	n := len(ec.frames)
	f := ec.frames[n-1]
	ec.frames[n-1] = nil
	ec.frames = ec.frames[:n-1]
	if f.newTx && ec.current == f.holder {
		ec.current = nil
	}
}

// suspend unbinds the current resource and parks it under the frame id.
func (ec *ExecutionContext) suspend(by *frame) {
	if ec.current == nil {
		return
	}
	ec.suspended[by.id] = ec.current
	by.suspended = ec.current
	ec.current = nil
}

// resume rebinds whatever the frame parked.
func (ec *ExecutionContext) resume(by *frame) bool {
	h, ok := ec.suspended[by.id]
	if !ok {
		return false
	}
	delete(ec.suspended, by.id)
	ec.current = h
	return true
}

// checkCompletable enforces single completion and LIFO order.
func (ec *ExecutionContext) checkCompletable(f *frame) error {
	if f.completed {
		return apperror.NewIllegalState("transaction is already completed - do not call commit or rollback more than once per transaction").
			WithDetail("frame_id", f.id.String())
	}
	if top := ec.top(); top != f {
		err := apperror.NewIllegalState("cannot complete transaction while an inner transaction is still open").
			WithDetail("frame_id", f.id.String())
		if top != nil {
			err = err.WithDetail("open_frame_id", top.id.String())
		}
		return err
	}
	return nil
}

// Depth returns the number of open logical transactions.
func (ec *ExecutionContext) Depth() int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return len(ec.frames)
}

// SuspendedCount returns the number of parked physical transactions.
func (ec *ExecutionContext) SuspendedCount() int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return len(ec.suspended)
}

// IsTransactionActive reports whether a live physical transaction is bound.
func (ec *ExecutionContext) IsTransactionActive() bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.current != nil && !ec.current.finished
}

// IsReadOnly reports the effective read-only flag of the innermost frame.
func (ec *ExecutionContext) IsReadOnly() bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if f := ec.top(); f != nil {
		return f.readOnly
	}
	return false
}

// UseResource runs fn with the currently bound resource. It returns
// false without calling fn when no transaction is bound. fn runs under the
// context lock so a timeout rollback never races with a statement; fn must
// not begin or complete transactions itself.
func (ec *ExecutionContext) UseResource(fn func(r Resource) error) (bool, error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	h := ec.current
	if h == nil {
		return false, nil
	}
	if h.timedOut {
		return true, apperror.NewUnexpectedRollback("transaction timed out and was rolled back").
			WithDetail("resource_id", h.id.String()).
			WithCause(ErrTimedOut)
	}
	if h.finished {
		return true, apperror.NewIllegalState("transaction resource is no longer active").
			WithDetail("resource_id", h.id.String())
	}
	return true, fn(h.resource)
}

type execContextKey struct{}

// WithExecutionContext carries ec through ctx. Passing nil detaches ctx from
// any inherited execution context, which is required before handing ctx to
// another goroutine.
func WithExecutionContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, execContextKey{}, ec)
}

// ExecutionContextFrom returns the execution context carried by ctx, or nil.
func ExecutionContextFrom(ctx context.Context) *ExecutionContext {
	if ec, ok := ctx.Value(execContextKey{}).(*ExecutionContext); ok {
		return ec
	}
	return nil
}

// Detach returns ctx without an execution context, for use in new goroutines.
func Detach(ctx context.Context) context.Context {
	return WithExecutionContext(ctx, nil)
}

// UseResource is a shortcut for ExecutionContextFrom(ctx).UseResource.
func UseResource(ctx context.Context, fn func(r Resource) error) (bool, error) {
	ec := ExecutionContextFrom(ctx)
	if ec == nil {
		return false, nil
	}
	return ec.UseResource(fn)
}
