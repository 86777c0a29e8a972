// Package dto holds request and response bodies of the v1 API.
package dto

import (
	"time"

	"txprop/internal/domain/member"
	"txprop/internal/domain/scenario"
)

// JoinRequest is the body of POST /members.
type JoinRequest struct {
	Username string `json:"username" binding:"required"`
	// Mode is one of single_tx, independent, recover_required,
	// recover_requires_new. Empty means single_tx.
	Mode string `json:"mode"`
}

// MemberResponse describes a stored member.
type MemberResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// FromMember maps a domain member.
func FromMember(m *member.Member) MemberResponse {
	return MemberResponse{
		ID:        m.ID.String(),
		Username:  m.Username,
		CreatedAt: m.CreatedAt,
	}
}

// LogResponse describes a stored log entry.
type LogResponse struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// FromLog maps a domain log entry.
func FromLog(l *member.Log) LogResponse {
	return LogResponse{
		ID:        l.ID.String(),
		Message:   l.Message,
		CreatedAt: l.CreatedAt,
	}
}

// JoinResponse reports which rows a join left behind. A nil field means
// the row was not committed.
type JoinResponse struct {
	Mode   string          `json:"mode"`
	Error  string          `json:"error,omitempty"`
	Member *MemberResponse `json:"member"`
	Log    *LogResponse    `json:"log"`
}

// ScenarioListResponse lists the runnable scenarios.
type ScenarioListResponse struct {
	Names []string `json:"names"`
}

// ScenarioResponse wraps scenario reports.
type ScenarioResponse struct {
	OK      bool               `json:"ok"`
	Reports []*scenario.Report `json:"reports"`
}
