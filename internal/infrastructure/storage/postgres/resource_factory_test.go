package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txprop/internal/core/tx"
)

type stubQuerier struct{ execs int }

func (s *stubQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	s.execs++
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (s *stubQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }

func (s *stubQuerier) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func TestIsoLevel(t *testing.T) {
	tests := []struct {
		in   tx.IsolationLevel
		want pgx.TxIsoLevel
	}{
		{tx.IsolationDefault, ""},
		{tx.IsolationReadUncommitted, pgx.ReadUncommitted},
		{tx.IsolationReadCommitted, pgx.ReadCommitted},
		{tx.IsolationRepeatableRead, pgx.RepeatableRead},
		{tx.IsolationSerializable, pgx.Serializable},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, isoLevel(tt.in))
		})
	}
}

func TestAsConn_RejectsForeignResource(t *testing.T) {
	_, err := asConn("not a connection")
	assert.Error(t, err)

	_, err = asConn((*Conn)(nil))
	assert.Error(t, err)
}

func TestWithQuerier_FallsBackOutsideTransaction(t *testing.T) {
	fallback := &stubQuerier{}

	err := WithQuerier(context.Background(), fallback, func(q Querier) error {
		_, err := q.Exec(context.Background(), "INSERT")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fallback.execs)
}
