package statemanager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type channelState struct {
	Channel string `json:"channel"`
}

func (channelState) Name() string {
	return "update_channel"
}

func TestManager_PersistAndLoad(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")

	m := New(stateFile)
	m.RegisterState(&channelState{})
	require.NoError(t, m.UpdateState(&channelState{Channel: "beta"}))
	require.NoError(t, m.PersistState(context.Background()))
	assert.Empty(t, m.dirty)

	reloaded := New(stateFile)
	reloaded.RegisterState(&channelState{})
	require.NoError(t, reloaded.LoadAll())

	st, ok := reloaded.GetState(&channelState{}).(*channelState)
	require.True(t, ok)
	assert.Equal(t, "beta", st.Channel)
}

func TestManager_DeleteState(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(stateFile, []byte(`{"other":{"a":1},"update_channel":{"channel":"alpha"}}`), 0o600))

	m := New(stateFile)
	m.RegisterState(&channelState{})
	require.NoError(t, m.LoadAll())
	require.NoError(t, m.DeleteState(&channelState{}))
	assert.Nil(t, m.GetState(&channelState{}))
	require.NoError(t, m.PersistState(context.Background()))

	data, err := os.ReadFile(stateFile)
	require.NoError(t, err)
	assert.JSONEq(t, `{"other":{"a":1}}`, string(data))
}

func TestManager_UnregisteredState(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "state.json"))
	assert.Error(t, m.UpdateState(&channelState{Channel: "beta"}))
}

func TestManager_PersistState_Deadline(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	m := New(stateFile)
	m.RegisterState(&channelState{})
	require.NoError(t, m.UpdateState(&channelState{Channel: "alpha"}))

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	assert.Error(t, m.PersistState(ctx))
	assert.Len(t, m.dirty, 1)
}

func TestManager_ForeignStatesArePreserved(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(stateFile, []byte(`{"other":{"a":1},"update_channel":{"channel":"alpha"}}`), 0o600))

	m := New(stateFile)
	m.RegisterState(&channelState{})
	require.NoError(t, m.LoadAll())
	require.NoError(t, m.UpdateState(&channelState{Channel: "latest"}))
	require.NoError(t, m.PersistState(context.Background()))

	data, err := os.ReadFile(stateFile)
	require.NoError(t, err)
	assert.JSONEq(t, `{"other":{"a":1},"update_channel":{"channel":"latest"}}`, string(data))
}

func TestManager_CorruptedFileIsBackedUp(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(stateFile, []byte("{not json"), 0o600))

	m := New(stateFile)
	m.RegisterState(&channelState{})
	assert.Error(t, m.LoadAll())

	matches, err := filepath.Glob(stateFile + ".corrupted.*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	assert.NoFileExists(t, stateFile)
}

func TestManager_PeriodicSave(t *testing.T) {
	clock := clockwork.NewFakeClock()
	stateFile := filepath.Join(t.TempDir(), "state.json")

	m := New(stateFile, WithClock(clock), WithSaveInterval(time.Second))
	m.RegisterState(&channelState{})
	m.Start()

	require.NoError(t, m.UpdateState(&channelState{Channel: "beta"}))
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		_, err := os.Stat(stateFile)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop(context.Background()))
}
