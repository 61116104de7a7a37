package event

import (
	"sync"

	"github.com/netbirdio/updater/client/api"
	"github.com/netbirdio/updater/client/internal/updatemanager/events"
)

// Mirror is the UI side replica of the daemon state, fed by the event stream
type Mirror struct {
	mu       sync.RWMutex
	state    api.State
	hasState bool
	stateSeq uint64
	lastSeq  uint64
	seen     bool
}

func NewMirror() *Mirror {
	return &Mirror{}
}

// Baseline applies the snapshot that opens every stream. A snapshot older than
// the last event seen means the daemon restarted and its sequence began again.
func (m *Mirror) Baseline(e api.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen && e.Seq < m.lastSeq {
		m.lastSeq = e.Seq
	}
	if e.State != nil {
		m.state = *e.State
		m.hasState = true
		m.stateSeq = e.Seq
	}
	if e.Seq > m.lastSeq {
		m.lastSeq = e.Seq
	}
	m.seen = true
}

// Apply records an event. State carried by events older than the current
// replica is ignored. It reports whether the replica changed.
func (m *Mirror) Apply(e api.Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Seq > m.lastSeq {
		m.lastSeq = e.Seq
	}
	m.seen = true

	if e.Type != events.StateChanged || e.State == nil {
		return false
	}
	if m.hasState && e.Seq <= m.stateSeq {
		return false
	}
	m.state = *e.State
	m.hasState = true
	m.stateSeq = e.Seq
	return true
}

// State returns the replica and whether any state was received yet
func (m *Mirror) State() (api.State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.hasState
}

// LastSeq returns the sequence number to resume from and whether any event
// was received
func (m *Mirror) LastSeq() (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeq, m.seen
}
