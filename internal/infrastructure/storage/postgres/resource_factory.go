package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/multierr"

	"txprop/internal/core/tx"
	"txprop/pkg/logger"
)

// Compile-time check that ResourceFactory implements tx.ResourceFactory.
var _ tx.ResourceFactory = (*ResourceFactory)(nil)

// Conn is the physical resource handed to the transaction manager:
// one pooled connection with an open transaction.
type Conn struct {
	conn     *pgxpool.Conn
	tx       pgx.Tx
	readOnly bool
}

// Tx returns the open transaction.
func (c *Conn) Tx() pgx.Tx { return c.tx }

// FactoryOptions configures physical transactions.
type FactoryOptions struct {
	// StatementTimeout is applied with SET LOCAL when the definition has no
	// timeout of its own. Zero disables it.
	StatementTimeout time.Duration
}

// DefaultFactoryOptions returns production-safe defaults.
func DefaultFactoryOptions() FactoryOptions {
	return FactoryOptions{StatementTimeout: 30 * time.Second}
}

// ResourceFactory opens PostgreSQL transactions on pooled connections.
type ResourceFactory struct {
	pool *pgxpool.Pool
	opts FactoryOptions
}

// NewResourceFactory creates a factory over pool.
func NewResourceFactory(pool *Pool, opts FactoryOptions) *ResourceFactory {
	return &ResourceFactory{pool: pool.Pool, opts: opts}
}

// Acquire takes a connection from the pool and begins a transaction.
func (f *ResourceFactory) Acquire(ctx context.Context, opts tx.AcquireOptions) (tx.Resource, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	accessMode := pgx.ReadWrite
	if opts.ReadOnly {
		accessMode = pgx.ReadOnly
	}
	pgTx, err := conn.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   isoLevel(opts.Isolation),
		AccessMode: accessMode,
	})
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	// Protect against runaway statements
	timeout := f.opts.StatementTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if timeout > 0 {
		_, err = pgTx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", timeout.Milliseconds()))
		if err != nil {
			_ = pgTx.Rollback(context.WithoutCancel(ctx))
			conn.Release()
			return nil, fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	return &Conn{conn: conn, tx: pgTx, readOnly: opts.ReadOnly}, nil
}

// CommitPhysical commits the open transaction.
func (f *ResourceFactory) CommitPhysical(ctx context.Context, r tx.Resource) error {
	c, err := asConn(r)
	if err != nil {
		return err
	}
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RollbackPhysical rolls the open transaction back. It ignores ctx
// cancellation so the rollback completes even for cancelled requests.
func (f *ResourceFactory) RollbackPhysical(ctx context.Context, r tx.Resource) error {
	c, err := asConn(r)
	if err != nil {
		return err
	}
	if err := c.tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

// Release returns the connection to the pool. A connection whose
// transaction is still open is closed instead of being reused.
func (f *ResourceFactory) Release(ctx context.Context, r tx.Resource) error {
	c, err := asConn(r)
	if err != nil {
		return err
	}
	if c.conn.Conn().PgConn().TxStatus() != 'I' {
		logger.Warn(ctx, "releasing connection with open transaction, closing it")
		err = multierr.Append(err, c.conn.Conn().Close(context.WithoutCancel(ctx)))
	}
	c.conn.Release()
	return err
}

func asConn(r tx.Resource) (*Conn, error) {
	c, ok := r.(*Conn)
	if !ok || c == nil {
		return nil, fmt.Errorf("unexpected transaction resource %T", r)
	}
	return c, nil
}

func isoLevel(l tx.IsolationLevel) pgx.TxIsoLevel {
	switch l {
	case tx.IsolationReadUncommitted:
		return pgx.ReadUncommitted
	case tx.IsolationReadCommitted:
		return pgx.ReadCommitted
	case tx.IsolationRepeatableRead:
		return pgx.RepeatableRead
	case tx.IsolationSerializable:
		return pgx.Serializable
	default:
		return ""
	}
}

// Querier is the subset of pgx shared by transactions and the pool.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithQuerier runs fn with the transaction bound to ctx, or with fallback
// (usually the pool) when ctx carries no transaction. This allows repos to
// work both inside and outside transactions.
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
