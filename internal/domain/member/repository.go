package member

import "context"

// Repository persists members. Implementations take the transaction from
// ctx when one is bound and fall back to autocommit otherwise.
type Repository interface {
	Save(ctx context.Context, m *Member) error
	FindByUsername(ctx context.Context, username string) (*Member, error)
}

// LogRepository persists audit logs.
type LogRepository interface {
	Save(ctx context.Context, l *Log) error
	FindByMessage(ctx context.Context, message string) (*Log, error)
}
