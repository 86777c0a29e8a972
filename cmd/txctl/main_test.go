package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func useTempDB(t *testing.T) {
	t.Helper()
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "txctl.db"))
	t.Setenv("METRICS_ENABLED", "false")
}

func TestScenarioList(t *testing.T) {
	out, err := run(t, "scenario", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "double_commit")
	assert.Contains(t, out, "inner_rollback_requires_new")
}

func TestScenarioRunAll(t *testing.T) {
	useTempDB(t)

	out, err := run(t, "scenario", "run", "all")
	require.NoError(t, err, out)
	assert.NotContains(t, out, "FAILED")
	assert.Contains(t, out, "outer_rollback: ok")
}

func TestScenarioRun_Unknown(t *testing.T) {
	useTempDB(t)

	_, err := run(t, "scenario", "run", "nope")
	assert.Error(t, err)
}

func TestJoin(t *testing.T) {
	useTempDB(t)

	out, err := run(t, "join", "alice")
	require.NoError(t, err, out)
	assert.Contains(t, out, "member: saved")
	assert.Contains(t, out, "log:    saved")

	out, err = run(t, "find", "member", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
}

func TestJoin_IndependentFailure(t *testing.T) {
	useTempDB(t)

	out, err := run(t, "join", "bob_logException", "--mode", "independent")
	require.NoError(t, err, out)
	assert.Contains(t, out, "member: saved")
	assert.Contains(t, out, "log:    absent")
}

func TestJoin_RecoveredParticipantFails(t *testing.T) {
	useTempDB(t)

	out, err := run(t, "join", "carol_logException", "--mode", "recover_required")
	require.Error(t, err)
	assert.Contains(t, out, "member: absent")
	assert.Contains(t, out, "log:    absent")
}

func TestJoin_BadMode(t *testing.T) {
	_, err := run(t, "join", "dave", "--mode", "nested")
	assert.Error(t, err)
}
