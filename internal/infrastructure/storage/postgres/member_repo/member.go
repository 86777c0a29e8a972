// Package member_repo provides PostgreSQL implementations for member repositories.
// Repositories hold the pool only as autocommit fallback; inside a
// transaction they use the connection bound to ctx.
package member_repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"

	"txprop/internal/core/apperror"
	"txprop/internal/domain/member"
	"txprop/internal/infrastructure/storage/postgres"
)

const uniqueViolation = "23505"

// Schema creates the tables used by the repositories.
const Schema = `
CREATE TABLE IF NOT EXISTS members (
	id         uuid PRIMARY KEY,
	username   text NOT NULL UNIQUE,
	created_at timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS member_logs (
	id         uuid PRIMARY KEY,
	message    text NOT NULL,
	created_at timestamptz NOT NULL
);`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db postgres.Querier) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure member schema: %w", err)
	}
	return nil
}

func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// MemberRepo implements member.Repository.
type MemberRepo struct {
	pool postgres.Querier
}

// NewMemberRepo creates a member repository.
func NewMemberRepo(pool postgres.Querier) *MemberRepo {
	return &MemberRepo{pool: pool}
}

var _ member.Repository = (*MemberRepo)(nil)

// Save inserts a member.
func (r *MemberRepo) Save(ctx context.Context, m *member.Member) error {
	sql, args, err := builder().
		Insert("members").
		Columns("id", "username", "created_at").
		Values(m.ID, m.Username, m.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	return postgres.WithQuerier(ctx, r.pool, func(q postgres.Querier) error {
		if _, err := q.Exec(ctx, sql, args...); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return apperror.NewDuplicate("member", "username", m.Username)
			}
			return fmt.Errorf("insert members: %w", err)
		}
		return nil
	})
}

// FindByUsername returns the member or a not-found error.
func (r *MemberRepo) FindByUsername(ctx context.Context, username string) (*member.Member, error) {
	sql, args, err := builder().
		Select("id", "username", "created_at").
		From("members").
		Where(squirrel.Eq{"username": username}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var m member.Member
	err = postgres.WithQuerier(ctx, r.pool, func(q postgres.Querier) error {
		return pgxscan.Get(ctx, q, &m, sql, args...)
	})
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("member", username)
		}
		return nil, fmt.Errorf("select members: %w", err)
	}
	return &m, nil
}

// LogRepo implements member.LogRepository.
type LogRepo struct {
	pool postgres.Querier
}

// NewLogRepo creates a log repository.
func NewLogRepo(pool postgres.Querier) *LogRepo {
	return &LogRepo{pool: pool}
}

var _ member.LogRepository = (*LogRepo)(nil)

// Save inserts a log.
func (r *LogRepo) Save(ctx context.Context, l *member.Log) error {
	sql, args, err := builder().
		Insert("member_logs").
		Columns("id", "message", "created_at").
		Values(l.ID, l.Message, l.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	return postgres.WithQuerier(ctx, r.pool, func(q postgres.Querier) error {
		if _, err := q.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("insert member_logs: %w", err)
		}
		return nil
	})
}

// FindByMessage returns the most recent log with message.
func (r *LogRepo) FindByMessage(ctx context.Context, message string) (*member.Log, error) {
	sql, args, err := builder().
		Select("id", "message", "created_at").
		From("member_logs").
		Where(squirrel.Eq{"message": message}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var l member.Log
	err = postgres.WithQuerier(ctx, r.pool, func(q postgres.Querier) error {
		return pgxscan.Get(ctx, q, &l, sql, args...)
	})
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("log", message)
		}
		return nil, fmt.Errorf("select member_logs: %w", err)
	}
	return &l, nil
}
