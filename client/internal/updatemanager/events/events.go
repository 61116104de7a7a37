// Package events implements the update status event bus. Events are ordered by a
// per-process sequence number and kept in a bounded history so that stream
// subscribers can resume after a reconnect.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/updater/client/internal/updatemanager/channel"
	"github.com/netbirdio/updater/client/internal/updatemanager/state"
)

// Type names an event kind on the wire
type Type string

const (
	CheckingForUpdates    Type = "checking-for-updates"
	UpdateWasDiscovered   Type = "update-was-discovered"
	NoUpdatesAvailable    Type = "no-updates-available"
	CurrentVersion        Type = "current-version"
	UpdateDownloaded      Type = "update-downloaded"
	UpdateDownloadFailed  Type = "update-download-failed"
	StartInstallingUpdate Type = "start-installing-update"
	SelectedChannelChange Type = "selected-channel-changed"
	StateChanged          Type = "state-changed"
)

// Source of a check request
type Source string

const (
	SourceStartup  Source = "startup"
	SourcePeriodic Source = "periodic"
	SourceTray     Source = "tray"
	SourceMenu     Source = "menu"
	SourceCLI      Source = "cli"
)

const (
	defaultHistorySize = 256
	subscriberBuffer   = 64
)

// Event is a single bus message
type Event struct {
	ID      string      `json:"id"`
	Seq     uint64      `json:"seq"`
	Type    Type        `json:"type"`
	Time    time.Time   `json:"time"`
	Source  Source      `json:"source,omitempty"`
	Version string      `json:"version,omitempty"`
	Channel channel.ID  `json:"channel,omitempty"`
	State   *state.View `json:"state,omitempty"`
}

// Subscription receives published events in order. When the subscriber falls
// behind the buffer its channel is closed and Overflowed reports true; the
// subscriber is expected to resubscribe from the last sequence it saw.
type Subscription struct {
	id     string
	events chan Event

	mu         sync.Mutex
	overflowed bool
}

// Events returns the delivery channel
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Overflowed reports whether the subscription was dropped for being too slow
func (s *Subscription) Overflowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflowed
}

// Bus fans events out to subscribers
type Bus struct {
	clock clockwork.Clock

	mu      sync.Mutex
	seq     uint64
	history []Event
	maxSize int
	subs    map[string]*Subscription
}

// NewBus creates a bus keeping historySize events for replay
func NewBus(clock clockwork.Clock, historySize int) *Bus {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	return &Bus{
		clock:   clock,
		history: make([]Event, 0, historySize),
		maxSize: historySize,
		subs:    make(map[string]*Subscription),
	}
}

// Publish stamps the event with an id, sequence number and time and delivers it
func (b *Bus) Publish(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	e.ID = uuid.New().String()
	e.Seq = b.seq
	if e.Time.IsZero() {
		e.Time = b.clock.Now()
	}

	b.history = append(b.history, e)
	if len(b.history) > b.maxSize {
		b.history = b.history[len(b.history)-b.maxSize:]
	}

	for id, sub := range b.subs {
		select {
		case sub.events <- e:
		default:
			log.Warnf("event subscriber %s is too slow, dropping it", id)
			b.drop(sub, true)
		}
	}

	log.Debugf("event published: %s seq=%d", e.Type, e.Seq)
	return e
}

// Subscribe returns a subscription that first replays every retained event
// with a sequence number greater than since, then receives new events.
func (b *Bus) Subscribe(since uint64) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	var replay []Event
	for _, e := range b.history {
		if e.Seq > since {
			replay = append(replay, e)
		}
	}

	sub := &Subscription{
		id:     uuid.New().String(),
		events: make(chan Event, len(replay)+subscriberBuffer),
	}
	for _, e := range replay {
		sub.events <- e
	}
	b.subs[sub.id] = sub

	return sub
}

// Unsubscribe stops delivery and closes the subscription channel
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		b.drop(sub, false)
	}
}

// History returns a copy of the retained events
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// LastSeq returns the sequence number of the most recently published event
func (b *Bus) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

func (b *Bus) drop(sub *Subscription, overflow bool) {
	delete(b.subs, sub.id)
	sub.mu.Lock()
	sub.overflowed = overflow
	sub.mu.Unlock()
	close(sub.events)
}
