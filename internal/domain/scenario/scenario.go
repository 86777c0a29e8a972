// Package scenario runs the basic propagation flows step by step against a
// real resource factory and reports what each step observed. It backs the
// txctl "scenario" command.
package scenario

import (
	"context"
	"fmt"
	"sort"

	"txprop/internal/core/apperror"
	"txprop/internal/core/tx"
	"txprop/pkg/logger"
)

// Step is one observation made while running a scenario.
type Step struct {
	Action string `json:"action"`
	Result string `json:"result"`
}

// Report is the outcome of one scenario.
type Report struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
	// Err is the error the scenario expects or hit, if any.
	Err string `json:"error,omitempty"`
	// OK is false when an observation differed from the expected one.
	OK bool `json:"ok"`
}

type recorder struct {
	ctx    context.Context
	report *Report
}

func (r *recorder) step(action, result string) {
	logger.Info(r.ctx, action, "result", result)
	r.report.Steps = append(r.report.Steps, Step{Action: action, Result: result})
}

func (r *recorder) expect(action string, got, want bool) {
	r.step(action, fmt.Sprintf("%t", got))
	if got != want {
		r.report.OK = false
	}
}

func (r *recorder) check(action string, err error, want func(error) bool) {
	switch {
	case err == nil && want == nil:
		r.step(action, "ok")
	case err == nil:
		r.step(action, "ok (expected failure)")
		r.report.OK = false
	case want != nil && want(err):
		r.step(action, "failed as expected")
		r.report.Err = err.Error()
	default:
		r.step(action, "failed")
		r.report.Err = err.Error()
		r.report.OK = false
	}
}

type scenarioFunc func(ctx context.Context, m *tx.Manager, r *recorder)

var scenarios = map[string]scenarioFunc{
	"commit":                      commit,
	"rollback":                    rollback,
	"double_commit":               doubleCommit,
	"double_commit_rollback":      doubleCommitRollback,
	"inner_commit":                innerCommit,
	"outer_rollback":              outerRollback,
	"inner_rollback":              innerRollback,
	"inner_rollback_requires_new": innerRollbackRequiresNew,
	"read_only_levels":            readOnlyLevels,
}

// Names lists the available scenarios in sorted order.
func Names() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runner runs scenarios on a manager.
type Runner struct {
	manager *tx.Manager
}

// NewRunner creates a scenario runner.
func NewRunner(m *tx.Manager) *Runner {
	return &Runner{manager: m}
}

// Run executes one scenario in a fresh execution context.
func (r *Runner) Run(ctx context.Context, name string) (*Report, error) {
	fn, ok := scenarios[name]
	if !ok {
		return nil, apperror.NewNotFound("scenario", name)
	}
	report := &Report{Name: name, OK: true}
	fn(tx.WithExecutionContext(ctx, tx.NewExecutionContext()), r.manager, &recorder{ctx: ctx, report: report})
	return report, nil
}

// RunAll executes every scenario in sorted order.
func (r *Runner) RunAll(ctx context.Context) ([]*Report, error) {
	reports := make([]*Report, 0, len(scenarios))
	for _, name := range Names() {
		report, err := r.Run(ctx, name)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func definition(name string, p tx.Propagation) tx.Definition {
	def := tx.DefaultDefinition()
	def.Name = name
	def.Propagation = p
	return def
}

// begin starts a transaction and records its isNewTransaction flag.
func begin(ctx context.Context, m *tx.Manager, r *recorder, name string, p tx.Propagation, wantNew bool) *tx.Status {
	st, err := m.Begin(ctx, tx.ExecutionContextFrom(ctx), definition(name, p))
	if err != nil {
		r.check("begin "+name, err, nil)
		return nil
	}
	r.expect(name+".isNewTransaction", st.IsNewTransaction(), wantNew)
	return st
}

// abandon rolls back an outer transaction whose inner begin failed, so the
// physical resource is released.
func abandon(ctx context.Context, m *tx.Manager, r *recorder, outer *tx.Status) {
	r.check("rollback outer after failed begin", m.Rollback(ctx, outer), nil)
}

func commit(ctx context.Context, m *tx.Manager, r *recorder) {
	st := begin(ctx, m, r, "tx", tx.PropagationRequired, true)
	if st == nil {
		return
	}
	r.check("commit tx", m.Commit(ctx, st), nil)
}

func rollback(ctx context.Context, m *tx.Manager, r *recorder) {
	st := begin(ctx, m, r, "tx", tx.PropagationRequired, true)
	if st == nil {
		return
	}
	r.check("rollback tx", m.Rollback(ctx, st), nil)
}

func doubleCommit(ctx context.Context, m *tx.Manager, r *recorder) {
	tx1 := begin(ctx, m, r, "tx1", tx.PropagationRequired, true)
	if tx1 == nil {
		return
	}
	r.check("commit tx1", m.Commit(ctx, tx1), nil)
	tx2 := begin(ctx, m, r, "tx2", tx.PropagationRequired, true)
	if tx2 == nil {
		return
	}
	r.check("commit tx2", m.Commit(ctx, tx2), nil)
	r.expect("tx1 and tx2 share a physical transaction", tx1.ResourceID() == tx2.ResourceID(), false)
	r.check("commit tx2 again", m.Commit(ctx, tx2), apperror.IsIllegalState)
}

func doubleCommitRollback(ctx context.Context, m *tx.Manager, r *recorder) {
	tx1 := begin(ctx, m, r, "tx1", tx.PropagationRequired, true)
	if tx1 == nil {
		return
	}
	r.check("commit tx1", m.Commit(ctx, tx1), nil)
	tx2 := begin(ctx, m, r, "tx2", tx.PropagationRequired, true)
	if tx2 == nil {
		return
	}
	r.check("rollback tx2", m.Rollback(ctx, tx2), nil)
}

func innerCommit(ctx context.Context, m *tx.Manager, r *recorder) {
	outer := begin(ctx, m, r, "outer", tx.PropagationRequired, true)
	if outer == nil {
		return
	}
	inner := begin(ctx, m, r, "inner", tx.PropagationRequired, false)
	if inner == nil {
		abandon(ctx, m, r, outer)
		return
	}
	r.check("commit outer before inner", m.Commit(ctx, outer), apperror.IsIllegalState)
	r.check("commit inner", m.Commit(ctx, inner), nil)
	r.check("commit outer", m.Commit(ctx, outer), nil)
}

func outerRollback(ctx context.Context, m *tx.Manager, r *recorder) {
	outer := begin(ctx, m, r, "outer", tx.PropagationRequired, true)
	if outer == nil {
		return
	}
	inner := begin(ctx, m, r, "inner", tx.PropagationRequired, false)
	if inner == nil {
		abandon(ctx, m, r, outer)
		return
	}
	r.check("commit inner", m.Commit(ctx, inner), nil)
	r.check("rollback outer", m.Rollback(ctx, outer), nil)
}

func innerRollback(ctx context.Context, m *tx.Manager, r *recorder) {
	outer := begin(ctx, m, r, "outer", tx.PropagationRequired, true)
	if outer == nil {
		return
	}
	inner := begin(ctx, m, r, "inner", tx.PropagationRequired, false)
	if inner == nil {
		abandon(ctx, m, r, outer)
		return
	}
	r.check("rollback inner", m.Rollback(ctx, inner), nil)
	r.expect("outer.isRollbackOnly", outer.IsRollbackOnly(), true)
	r.check("commit outer", m.Commit(ctx, outer), apperror.IsUnexpectedRollback)
}

func innerRollbackRequiresNew(ctx context.Context, m *tx.Manager, r *recorder) {
	outer := begin(ctx, m, r, "outer", tx.PropagationRequired, true)
	if outer == nil {
		return
	}
	inner := begin(ctx, m, r, "inner", tx.PropagationRequiresNew, true)
	if inner == nil {
		abandon(ctx, m, r, outer)
		return
	}
	r.check("rollback inner", m.Rollback(ctx, inner), nil)
	r.expect("outer.isRollbackOnly", outer.IsRollbackOnly(), false)
	r.check("commit outer", m.Commit(ctx, outer), nil)
}

// readOnlyLevels shows that a method-level attribute overrides the
// type-level default.
func readOnlyLevels(ctx context.Context, m *tx.Manager, r *recorder) {
	svc := tx.NewInterceptor(m, tx.Attribute{}.WithReadOnly(true))

	report := func(method string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			ec := tx.ExecutionContextFrom(ctx)
			r.expect(method+" tx active", ec.IsTransactionActive(), true)
			r.expect(method+" tx readOnly", ec.IsReadOnly(), method == "read")
			return nil
		}
	}

	r.check("call write", svc.Do(ctx, tx.Attribute{}.Named("write").WithReadOnly(false), report("write")), nil)
	r.check("call read", svc.Do(ctx, tx.Attribute{}.Named("read"), report("read")), nil)
}
