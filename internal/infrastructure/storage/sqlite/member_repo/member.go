// Package member_repo provides SQLite implementations for member repositories.
package member_repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"txprop/internal/core/apperror"
	"txprop/internal/domain/member"
	txsqlite "txprop/internal/infrastructure/storage/sqlite"
)

// Schema creates the tables used by the repositories.
const Schema = `
CREATE TABLE IF NOT EXISTS members (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS member_logs (
	id         TEXT PRIMARY KEY,
	message    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db txsqlite.Querier) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure member schema: %w", err)
	}
	return nil
}

func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// MemberRepo implements member.Repository.
type MemberRepo struct {
	db txsqlite.Querier
}

// NewMemberRepo creates a member repository.
func NewMemberRepo(db txsqlite.Querier) *MemberRepo {
	return &MemberRepo{db: db}
}

var _ member.Repository = (*MemberRepo)(nil)

// Save inserts a member.
func (r *MemberRepo) Save(ctx context.Context, m *member.Member) error {
	query, args, err := builder().
		Insert("members").
		Columns("id", "username", "created_at").
		Values(m.ID.String(), m.Username, m.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	return txsqlite.WithQuerier(ctx, r.db, func(q txsqlite.Querier) error {
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return apperror.NewDuplicate("member", "username", m.Username)
			}
			return fmt.Errorf("insert members: %w", err)
		}
		return nil
	})
}

// FindByUsername returns the member or a not-found error.
func (r *MemberRepo) FindByUsername(ctx context.Context, username string) (*member.Member, error) {
	query, args, err := builder().
		Select("id", "username", "created_at").
		From("members").
		Where(squirrel.Eq{"username": username}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var m member.Member
	err = txsqlite.WithQuerier(ctx, r.db, func(q txsqlite.Querier) error {
		return sqlscan.Get(ctx, q, &m, query, args...)
	})
	if err != nil {
		if sqlscan.NotFound(err) {
			return nil, apperror.NewNotFound("member", username)
		}
		return nil, fmt.Errorf("select members: %w", err)
	}
	return &m, nil
}

// LogRepo implements member.LogRepository.
type LogRepo struct {
	db txsqlite.Querier
}

// NewLogRepo creates a log repository.
func NewLogRepo(db txsqlite.Querier) *LogRepo {
	return &LogRepo{db: db}
}

var _ member.LogRepository = (*LogRepo)(nil)

// Save inserts a log.
func (r *LogRepo) Save(ctx context.Context, l *member.Log) error {
	query, args, err := builder().
		Insert("member_logs").
		Columns("id", "message", "created_at").
		Values(l.ID.String(), l.Message, l.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	return txsqlite.WithQuerier(ctx, r.db, func(q txsqlite.Querier) error {
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert member_logs: %w", err)
		}
		return nil
	})
}

// FindByMessage returns the most recent log with message.
func (r *LogRepo) FindByMessage(ctx context.Context, message string) (*member.Log, error) {
	query, args, err := builder().
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
	err = txsqlite.WithQuerier(ctx, r.db, func(q txsqlite.Querier) error {
		return sqlscan.Get(ctx, q, &l, query, args...)
	})
	if err != nil {
		if sqlscan.NotFound(err) {
			return nil, apperror.NewNotFound("log", message)
		}
		return nil, fmt.Errorf("select member_logs: %w", err)
	}
	return &l, nil
}
