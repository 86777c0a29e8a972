package tx

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	appctx "txprop/internal/core/context"
	"txprop/pkg/logger"
)

type statusKey struct{}

// CurrentStatus returns the status of the innermost transaction started by
// Run or Interceptor.Do on ctx, or nil.
func CurrentStatus(ctx context.Context) *Status {
	if st, ok := ctx.Value(statusKey{}).(*Status); ok {
		return st
	}
	return nil
}

// Run executes fn in a logical transaction described by def. The execution
// context is taken from ctx, or created when ctx carries none.
// fn's error triggers rollback; a panic rolls back and is re-raised.
func (m *Manager) Run(ctx context.Context, def Definition, fn func(ctx context.Context) error) (err error) {
	ec := ExecutionContextFrom(ctx)
	if ec == nil {
		ec = NewExecutionContext()
		ctx = WithExecutionContext(ctx, ec)
	}

	st, err := m.Begin(ctx, ec, def)
	if err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, statusKey{}, st)
	txCtx = appctx.WithTx(txCtx, &appctx.TxInfo{
		TxID:       st.ID().String(),
		Name:       def.Name,
		ResourceID: st.ResourceID().String(),
		New:        st.IsNewTransaction(),
	})

	defer func() {
		if r := recover(); r != nil {
			if rbErr := m.Rollback(ctx, st); rbErr != nil {
				logger.Error(ctx, "rollback after panic failed", "tx_name", def.Name, "error", rbErr)
			}
			panic(r)
		}
	}()

	if fnErr := fn(txCtx); fnErr != nil {
		if rbErr := m.Rollback(ctx, st); rbErr != nil {
			logger.Error(ctx, "rollback failed", "tx_name", def.Name, "error", rbErr, "original_error", fnErr)
			return multierr.Append(fnErr, rbErr)
		}
		return fnErr
	}

	if err := m.Commit(ctx, st); err != nil {
		return fmt.Errorf("commit %s: %w", nameOr(def.Name), err)
	}
	return nil
}

func nameOr(name string) string {
	if name == "" {
		return "transaction"
	}
	return name
}
