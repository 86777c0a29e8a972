// Package member is the sample unit of work: joining a member writes the
// member row and an audit log row, each through its own transaction
// boundary, so the join variants show how propagation decides what commits.
package member

import (
	"strings"
	"time"

	"txprop/internal/core/apperror"
	"txprop/internal/core/id"
)

// LogFailureMarker makes the log repository boundary fail after the insert,
// simulating a failure inside the inner unit of work.
const LogFailureMarker = "logException"

// Member is a registered user.
type Member struct {
	ID        id.ID     `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// NewMember validates username and creates a Member.
func NewMember(username string) (*Member, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperror.NewValidation("username is required")
	}
	return &Member{ID: id.New(), Username: username, CreatedAt: time.Now().UTC()}, nil
}

// Log is the audit record written on join.
type Log struct {
	ID        id.ID     `db:"id" json:"id"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// NewLog creates a Log.
func NewLog(message string) *Log {
	return &Log{ID: id.New(), Message: message, CreatedAt: time.Now().UTC()}
}

// ShouldFail reports whether saving this log simulates a failure.
func (l *Log) ShouldFail() bool {
	return strings.Contains(l.Message, LogFailureMarker)
}
