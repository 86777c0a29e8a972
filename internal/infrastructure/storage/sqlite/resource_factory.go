package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"txprop/internal/core/tx"
	"txprop/pkg/logger"
)

// Compile-time check that ResourceFactory implements tx.ResourceFactory.
var _ tx.ResourceFactory = (*ResourceFactory)(nil)

// Conn is one pooled connection with an open transaction.
type Conn struct {
	conn     *sql.Conn
	tx       *sql.Tx
	readOnly bool
}

// Tx returns the open transaction.
func (c *Conn) Tx() *sql.Tx { return c.tx }

// ResourceFactory opens SQLite transactions on dedicated connections.
//
// SQLite has no per-transaction isolation levels; every transaction is
// serializable, so the requested level is only logged. Read-only is
// enforced with PRAGMA query_only for the life of the transaction.
type ResourceFactory struct {
	db *sql.DB
}

// NewResourceFactory creates a factory over db.
func NewResourceFactory(db *sql.DB) *ResourceFactory {
	return &ResourceFactory{db: db}
}

// Acquire reserves a connection and begins a transaction on it.
func (f *ResourceFactory) Acquire(ctx context.Context, opts tx.AcquireOptions) (tx.Resource, error) {
	conn, err := f.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if opts.Isolation != tx.IsolationDefault {
		logger.Debug(ctx, "sqlite ignores isolation level, transactions are serializable",
			"isolation", opts.Isolation.String())
	}

	if opts.ReadOnly {
		if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set query_only: %w", err)
		}
	}

	sqlTx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	return &Conn{conn: conn, tx: sqlTx, readOnly: opts.ReadOnly}, nil
}

// CommitPhysical commits the open transaction.
func (f *ResourceFactory) CommitPhysical(_ context.Context, r tx.Resource) error {
	c, err := asConn(r)
	if err != nil {
		return err
	}
	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RollbackPhysical rolls the open transaction back.
func (f *ResourceFactory) RollbackPhysical(_ context.Context, r tx.Resource) error {
	c, err := asConn(r)
	if err != nil {
		return err
	}
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

// Release resets connection state and returns the connection to the pool.
func (f *ResourceFactory) Release(ctx context.Context, r tx.Resource) error {
	c, err := asConn(r)
	if err != nil {
		return err
	}
	if c.readOnly {
		if _, resetErr := c.conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA query_only = OFF"); resetErr != nil {
			err = multierr.Append(err, fmt.Errorf("reset query_only: %w", resetErr))
		}
	}
	if closeErr := c.conn.Close(); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("release connection: %w", closeErr))
	}
	return err
}

func asConn(r tx.Resource) (*Conn, error) {
	c, ok := r.(*Conn)
	if !ok || c == nil {
		return nil, fmt.Errorf("unexpected transaction resource %T", r)
	}
	return c, nil
}

// Querier is the subset of database/sql shared by *sql.Tx and *sql.DB.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithQuerier runs fn with the transaction bound to ctx, or with fallback
// when ctx carries no transaction.
func WithQuerier(ctx context.Context, fallback Querier, fn func(q Querier) error) error {
	used, err := tx.UseResource(ctx, func(r tx.Resource) error {
		c, err := asConn(r)
		if err != nil {
			return err
		}
		return fn(c.tx)
	})
	if used {
		return err
	}
	return fn(fallback)
}
