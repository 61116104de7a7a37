package events

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbirdio/updater/client/internal/updatemanager/channel"
)

func drain(t *testing.T, sub *Subscription, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		select {
		case e, ok := <-sub.Events():
			require.True(t, ok, "subscription closed early")
			out = append(out, e)
		default:
			t.Fatalf("expected %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestBus_PublishOrder(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bus := NewBus(clock, 10)
	sub := bus.Subscribe(0)

	bus.Publish(Event{Type: CheckingForUpdates, Source: SourceTray})
	bus.Publish(Event{Type: UpdateWasDiscovered, Version: "1.2.3", Channel: channel.Latest})

	got := drain(t, sub, 2)
	assert.Equal(t, CheckingForUpdates, got[0].Type)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, UpdateWasDiscovered, got[1].Type)
	assert.Equal(t, uint64(2), got[1].Seq)
	assert.Equal(t, clock.Now(), got[1].Time)
	assert.NotEmpty(t, got[0].ID)
	assert.NotEqual(t, got[0].ID, got[1].ID)
	assert.Equal(t, uint64(2), bus.LastSeq())
}

func TestBus_ReplaySince(t *testing.T) {
	bus := NewBus(clockwork.NewFakeClock(), 3)
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: StateChanged})
	}

	history := bus.History()
	require.Len(t, history, 3)
	assert.Equal(t, uint64(3), history[0].Seq)

	sub := bus.Subscribe(3)
	got := drain(t, sub, 2)
	assert.Equal(t, uint64(4), got[0].Seq)
	assert.Equal(t, uint64(5), got[1].Seq)

	bus.Publish(Event{Type: CurrentVersion, Version: "1.0.0"})
	got = drain(t, sub, 1)
	assert.Equal(t, uint64(6), got[0].Seq)
}

func TestBus_SlowSubscriberIsDropped(t *testing.T) {
	bus := NewBus(clockwork.NewFakeClock(), 1000)
	slow := bus.Subscribe(0)

	for i := 0; i < subscriberBuffer+1; i++ {
		bus.Publish(Event{Type: StateChanged})
	}

	received := 0
	for range slow.Events() {
		received++
	}
	assert.Equal(t, subscriberBuffer, received)
	assert.True(t, slow.Overflowed())

	// resubscribing from the last seen sequence recovers the dropped event
	resumed := bus.Subscribe(uint64(received))
	got := drain(t, resumed, 1)
	assert.Equal(t, uint64(subscriberBuffer+1), got[0].Seq)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(clockwork.NewFakeClock(), 10)
	sub := bus.Subscribe(0)
	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	bus.Unsubscribe(nil)

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.False(t, sub.Overflowed())

	bus.Publish(Event{Type: StateChanged})
}
