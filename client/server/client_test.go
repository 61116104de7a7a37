package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbirdio/updater/client/api"
	"github.com/netbirdio/updater/client/internal/updatemanager"
	"github.com/netbirdio/updater/client/internal/updatemanager/channel"
	"github.com/netbirdio/updater/client/internal/updatemanager/events"
)

func TestClient_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	o := newFakeOrchestrator()
	o.checkRes = updatemanager.CheckResult{Found: true, Version: "1.1.0-beta.2", Channel: channel.Beta}

	ts := httptest.NewServer(New(o).Handler())
	defer ts.Close()

	client, err := api.NewClient("tcp://" + ts.Listener.Addr().String())
	require.NoError(t, err)

	s, err := client.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", s.CurrentVersion)

	res, err := client.Check(ctx, events.SourceMenu)
	require.NoError(t, err)
	assert.True(t, res.UpdateWasDiscovered)
	assert.Equal(t, channel.Beta, res.Channel)
	assert.Equal(t, events.SourceMenu, o.checkSource)

	_, err = client.SetChannel(ctx, "nightly")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, api.StatusCode(err))

	info, err := client.SetChannel(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, channel.Alpha, info.ID)

	err = client.Install(ctx)
	assert.Equal(t, http.StatusNotFound, api.StatusCode(err))
}

func TestClient_EventsOverUnixSocket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	o := newFakeOrchestrator()
	o.bus.Publish(events.Event{Type: events.CurrentVersion, Version: "1.0.0"})

	srv := New(o)
	addr := "unix://" + filepath.Join(t.TempDir(), "updater.sock")
	lis, err := srv.Listen(addr)
	require.NoError(t, err)
	go func() { _ = srv.ServeListener(ctx, lis) }()
	defer srv.Stop()

	client, err := api.NewClient(addr)
	require.NoError(t, err)

	since := uint64(0)
	stream, err := client.SubscribeEvents(ctx, &since)
	require.NoError(t, err)
	defer stream.Close()

	snapshot, err := stream.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, events.StateChanged, snapshot.Type)

	replayed, err := stream.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, events.CurrentVersion, replayed.Type)
	assert.Equal(t, uint64(1), replayed.Seq)
}

func TestClient_InvalidAddress(t *testing.T) {
	_, err := api.NewClient("/var/run/updater.sock")
	assert.Error(t, err)
}
