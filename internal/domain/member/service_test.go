package member

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txprop/internal/core/apperror"
	"txprop/internal/core/tx"
)

// memStore applies staged writes on commit and drops them on rollback.
type memStore struct {
	mu      sync.Mutex
	members map[string]*Member
	logs    map[string]*Log
	commits int
}

type memTx struct {
	members []*Member
	logs    []*Log
}

func newMemStore() *memStore {
	return &memStore{members: map[string]*Member{}, logs: map[string]*Log{}}
}

func (s *memStore) Acquire(context.Context, tx.AcquireOptions) (tx.Resource, error) {
	return &memTx{}, nil
}

func (s *memStore) CommitPhysical(_ context.Context, r tx.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := r.(*memTx)
	for _, m := range t.members {
		s.members[m.Username] = m
	}
	for _, l := range t.logs {
		s.logs[l.Message] = l
	}
	s.commits++
	return nil
}

func (s *memStore) RollbackPhysical(context.Context, tx.Resource) error { return nil }
func (s *memStore) Release(context.Context, tx.Resource) error          { return nil }

type memMembers struct{ s *memStore }

func (r memMembers) Save(ctx context.Context, m *Member) error {
	used, err := tx.UseResource(ctx, func(res tx.Resource) error {
		t := res.(*memTx)
		t.members = append(t.members, m)
		return nil
	})
	if !used {
		r.s.mu.Lock()
		r.s.members[m.Username] = m
		r.s.mu.Unlock()
	}
	return err
}

func (r memMembers) FindByUsername(_ context.Context, username string) (*Member, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.members[username]; ok {
		return m, nil
	}
	return nil, apperror.NewNotFound("member", username)
}

type memLogs struct{ s *memStore }

func (r memLogs) Save(ctx context.Context, l *Log) error {
	used, err := tx.UseResource(ctx, func(res tx.Resource) error {
		t := res.(*memTx)
		t.logs = append(t.logs, l)
		return nil
	})
	if !used {
		r.s.mu.Lock()
		r.s.logs[l.Message] = l
		r.s.mu.Unlock()
	}
	return err
}

func (r memLogs) FindByMessage(_ context.Context, message string) (*Log, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if l, ok := r.s.logs[message]; ok {
		return l, nil
	}
	return nil, apperror.NewNotFound("log", message)
}

func newTestService() (*Service, *memStore) {
	store := newMemStore()
	return NewService(memMembers{store}, memLogs{store}, tx.NewManager(store)), store
}

func (s *memStore) has(username string) (member, log bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, member = s.members[username]
	_, log = s.logs[username]
	return member, log
}

func TestService_JoinVariants(t *testing.T) {
	failing := "user-" + LogFailureMarker

	tests := []struct {
		name       string
		mode       JoinMode
		username   string
		wantErr    func(error) bool
		wantMember bool
		wantLog    bool
	}{
		{"single tx ok", JoinSingleTx, "u1", nil, true, true},
		{"single tx log failure", JoinSingleTx, failing, func(err error) bool { return apperror.IsAppError(err) }, false, false},
		{"independent ok", JoinIndependent, "u2", nil, true, true},
		{"independent log failure", JoinIndependent, failing, nil, true, false},
		{"recover required", JoinRecoverRequired, failing, apperror.IsUnexpectedRollback, false, false},
		{"recover requires new", JoinRecoverRequiresNew, failing, nil, true, false},
		{"recover requires new ok", JoinRecoverRequiresNew, "u3", nil, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService()
			err := svc.Join(context.Background(), tt.username, tt.mode)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err), "unexpected error: %v", err)
			} else {
				require.NoError(t, err)
			}
			gotMember, gotLog := store.has(tt.username)
			assert.Equal(t, tt.wantMember, gotMember, "member saved")
			assert.Equal(t, tt.wantLog, gotLog, "log saved")
		})
	}
}

func TestService_JoinV1_SinglePhysicalCommit(t *testing.T) {
	svc, store := newTestService()
	require.NoError(t, svc.JoinV1(context.Background(), "solo"))
	assert.Equal(t, 1, store.commits)
}

func TestService_JoinV4_TwoPhysicalCommits(t *testing.T) {
	svc, store := newTestService()
	require.NoError(t, svc.JoinV4(context.Background(), "pair"))
	assert.Equal(t, 2, store.commits)
}

func TestService_ValidatesUsername(t *testing.T) {
	svc, store := newTestService()
	err := svc.JoinV1(context.Background(), "   ")
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
	assert.Zero(t, store.commits)
}

func TestParseJoinMode(t *testing.T) {
	m, err := ParseJoinMode("")
	require.NoError(t, err)
	assert.Equal(t, JoinSingleTx, m)

	m, err = ParseJoinMode("recover_requires_new")
	require.NoError(t, err)
	assert.Equal(t, JoinRecoverRequiresNew, m)

	_, err = ParseJoinMode("nested")
	assert.Error(t, err)
}

func TestService_FindMember(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	require.NoError(t, svc.JoinV1(ctx, "finder"))

	m, err := svc.FindMember(ctx, "finder")
	require.NoError(t, err)
	assert.Equal(t, "finder", m.Username)

	_, err = svc.FindMember(ctx, "missing")
	assert.True(t, apperror.IsNotFound(err))
}

// lockedLogs fails every save the way a storage lock timeout does.
type lockedLogs struct{ memLogs }

func (lockedLogs) Save(context.Context, *Log) error {
	return errors.New("insert member_logs: database is locked")
}

func TestService_RecoverModesPropagateStorageErrors(t *testing.T) {
	for _, mode := range []JoinMode{JoinRecoverRequired, JoinRecoverRequiresNew} {
		t.Run(string(mode), func(t *testing.T) {
			store := newMemStore()
			svc := NewService(memMembers{store}, lockedLogs{memLogs{store}}, tx.NewManager(store))

			err := svc.Join(context.Background(), "locked", mode)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "database is locked")
			assert.False(t, apperror.IsBusinessRule(err))

			member, log := store.has("locked")
			assert.False(t, member)
			assert.False(t, log)
			assert.Zero(t, store.commits)
		})
	}
}
