package tx

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeConn stands in for a physical connection.
type fakeConn struct {
	n        int
	opts     AcquireOptions
	commits  int
	rollback int
	released int
}

// recordingFactory records every physical call in order.
type recordingFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls []string

	acquireErr  error
	commitErr   error
	rollbackErr error
	releaseErr  error
}

func (f *recordingFactory) Acquire(_ context.Context, opts AcquireOptions) (Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		f.calls = append(f.calls, "acquire!")
		return nil, f.acquireErr
	}
	c := &fakeConn{n: len(f.conns), opts: opts}
	f.conns = append(f.conns, c)
	f.calls = append(f.calls, fmt.Sprintf("acquire:%d", c.n))
	return c, nil
}

func (f *recordingFactory) CommitPhysical(_ context.Context, r Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := r.(*fakeConn)
	c.commits++
	f.calls = append(f.calls, fmt.Sprintf("commit:%d", c.n))
	return f.commitErr
}

func (f *recordingFactory) RollbackPhysical(_ context.Context, r Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := r.(*fakeConn)
	c.rollback++
	f.calls = append(f.calls, fmt.Sprintf("rollback:%d", c.n))
	return f.rollbackErr
}

func (f *recordingFactory) Release(_ context.Context, r Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := r.(*fakeConn)
	c.released++
	f.calls = append(f.calls, fmt.Sprintf("release:%d", c.n))
	return f.releaseErr
}

func (f *recordingFactory) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// countingObserver counts outcomes.
type countingObserver struct {
	mu        sync.Mutex
	begun     map[Action]int
	outcomes  map[Outcome]int
	vetoCount int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{begun: map[Action]int{}, outcomes: map[Outcome]int{}}
}

func (o *countingObserver) TransactionBegun(a Action, _ Definition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begun[a]++
}

func (o *countingObserver) TransactionCompleted(out Outcome, _ Definition, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[out]++
}

func (o *countingObserver) RollbackOnlyMarked(Definition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.vetoCount++
}

func (o *countingObserver) outcome(out Outcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[out]
}
