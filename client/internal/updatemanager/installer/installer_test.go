package installer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbirdio/updater/client/internal/updatemanager/downloader"
)

func setup(t *testing.T) (*SelfUpdate, string, *int) {
	t.Helper()
	dir := t.TempDir()

	exe := filepath.Join(dir, "updater")
	require.NoError(t, os.WriteFile(exe, []byte("old binary"), 0o755))

	staged := filepath.Join(dir, "1.2.3-updater")
	require.NoError(t, os.WriteFile(staged, []byte("new binary"), 0o600))

	restarts := 0
	inst := NewWithTarget(exe, filepath.Join(dir, "result"))
	inst.restart = func(string) error {
		restarts++
		return nil
	}
	inst.Stage(downloader.Staged{Version: "1.2.3", Path: staged, AssetName: "updater"})

	return inst, exe, &restarts
}

func TestSelfUpdate_QuitAndInstall(t *testing.T) {
	inst, exe, restarts := setup(t)

	require.NoError(t, inst.QuitAndInstall())
	assert.Equal(t, 1, *restarts)

	data, err := os.ReadFile(exe)
	require.NoError(t, err)
	assert.Equal(t, "new binary", string(data))

	result, ok, err := inst.LastResult()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, result.Success)
	assert.Equal(t, "1.2.3", result.Version)

	_, ok, err = inst.LastResult()
	require.NoError(t, err)
	assert.False(t, ok, "result is consumed once")
}

func TestSelfUpdate_OnQuit(t *testing.T) {
	inst, exe, restarts := setup(t)

	require.NoError(t, inst.OnQuit())
	data, err := os.ReadFile(exe)
	require.NoError(t, err)
	assert.Equal(t, "old binary", string(data), "install on quit is disabled by default")

	inst.SetAutoInstallOnQuit(true)
	assert.True(t, inst.AutoInstallOnQuit())
	require.NoError(t, inst.OnQuit())

	data, err = os.ReadFile(exe)
	require.NoError(t, err)
	assert.Equal(t, "new binary", string(data))
	assert.Equal(t, 0, *restarts)
}

func TestSelfUpdate_NothingStaged(t *testing.T) {
	dir := t.TempDir()
	inst := NewWithTarget(filepath.Join(dir, "updater"), dir)
	inst.SetAutoInstallOnQuit(true)

	assert.ErrorIs(t, inst.QuitAndInstall(), ErrNothingStaged)
	assert.NoError(t, inst.OnQuit())
}

func TestSelfUpdate_ApplyFailureIsRecorded(t *testing.T) {
	inst, _, restarts := setup(t)
	inst.Stage(downloader.Staged{Version: "1.2.4", Path: "/nonexistent/update", AssetName: "updater"})

	assert.Error(t, inst.QuitAndInstall())
	assert.Equal(t, 0, *restarts)

	result, ok, err := inst.LastResult()
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, result.Success)
	assert.Equal(t, "1.2.4", result.Version)
	assert.NotEmpty(t, result.Error)
}

func TestResultHandler(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "result")
	rh := NewResultHandler(dir)

	_, ok, err := rh.Consume()
	require.NoError(t, err)
	assert.False(t, ok)

	executedAt := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	require.NoError(t, rh.Write(Result{Success: true, Version: "2.0.0", ExecutedAt: executedAt}))

	result, ok, err := rh.Consume()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Result{Success: true, Version: "2.0.0", ExecutedAt: executedAt}, result)
	assert.NoFileExists(t, filepath.Join(dir, resultFile))

	require.NoError(t, os.WriteFile(filepath.Join(dir, resultFile), []byte("{broken"), 0o600))
	_, _, err = rh.Consume()
	assert.Error(t, err)
}
