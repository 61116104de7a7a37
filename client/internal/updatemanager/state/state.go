// Package state holds the orchestrator's application state as one value that is
// replaced atomically on every change.
package state

import (
	"sync"
	"time"

	"github.com/netbirdio/updater/client/internal/updatemanager/channel"
	"github.com/netbirdio/updater/client/internal/updatemanager/forced"
)

// Discovered is the update found by the last successful check
type Discovered struct {
	Version string     `json:"version"`
	Channel channel.ID `json:"channel"`
}

// Snapshot is the complete orchestrator state at one point in time
type Snapshot struct {
	CurrentVersion  string
	SelectedChannel channel.ID
	Checking        bool
	Downloading     bool
	// Discovered is nil when the last check found nothing
	Discovered      *Discovered
	DownloadPercent int
	// DownloadedVersion and DownloadedAt are set once an update became installable
	DownloadedVersion string
	DownloadedChannel channel.ID
	DownloadedAt      time.Time
	Installing        bool
}

// DiscoveredChannel returns the origin channel id of the discovered update or ""
func (s Snapshot) DiscoveredChannel() channel.ID {
	if s.Discovered == nil {
		return ""
	}
	return s.Discovered.Channel
}

// DiscoveredVersion returns the discovered version or ""
func (s Snapshot) DiscoveredVersion() string {
	if s.Discovered == nil {
		return ""
	}
	return s.Discovered.Version
}

// View is the read surface exposed to UI processes
type View struct {
	CurrentVersion            string       `json:"currentVersion"`
	SelectedChannel           channel.ID   `json:"selectedChannel"`
	Checking                  bool         `json:"checking"`
	Downloading               bool         `json:"downloading"`
	Discovered                *Discovered  `json:"discovered,omitempty"`
	DownloadPercent           int          `json:"downloadPercent"`
	DownloadedVersion         string       `json:"downloadedVersion,omitempty"`
	DownloadedAt              *time.Time   `json:"downloadedAt,omitempty"`
	Installing                bool         `json:"installing"`
	InstallOnQuit             bool         `json:"installOnQuit"`
	ForcedPhase               forced.Phase `json:"forcedPhase"`
	SecondsUntilForcedInstall int          `json:"secondsUntilForcedInstall"`
}

// NewView combines a snapshot with the values derived from it
func NewView(s Snapshot, installOnQuit bool, status forced.Status) View {
	v := View{
		CurrentVersion:            s.CurrentVersion,
		SelectedChannel:           s.SelectedChannel,
		Checking:                  s.Checking,
		Downloading:               s.Downloading,
		DownloadPercent:           s.DownloadPercent,
		DownloadedVersion:         s.DownloadedVersion,
		Installing:                s.Installing,
		InstallOnQuit:             installOnQuit,
		ForcedPhase:               status.Phase,
		SecondsUntilForcedInstall: status.SecondsRemaining,
	}
	if s.Discovered != nil {
		d := *s.Discovered
		v.Discovered = &d
	}
	if !s.DownloadedAt.IsZero() {
		at := s.DownloadedAt
		v.DownloadedAt = &at
	}
	return v
}

// Observer is called with the previous and the new snapshot after every change
type Observer func(prev, next Snapshot)

// Store owns the snapshot. Observers are notified in the order changes were made.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot

	// notifyMu serializes change + notification so observers never see changes out of order
	notifyMu  sync.Mutex
	observers map[int]Observer
	nextID    int
}

// NewStore creates a store holding the initial snapshot
func NewStore(initial Snapshot) *Store {
	return &Store{
		snap:      clone(initial),
		observers: make(map[int]Observer),
	}
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.snap)
}

// Update applies fn to a copy of the state and replaces the state with it.
// If fn returns an error nothing changes and no observer is called.
// Observers must not call Update.
func (s *Store) Update(fn func(*Snapshot) error) (Snapshot, error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	prev := clone(s.snap)
	next := clone(s.snap)
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return prev, err
	}
	s.snap = clone(next)
	observers := s.orderedObservers()
	s.mu.Unlock()

	for _, o := range observers {
		o(prev, clone(next))
	}

	return next, nil
}

// Subscribe registers o and returns a function removing it
func (s *Store) Subscribe(o Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = o

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

func (s *Store) orderedObservers() []Observer {
	out := make([]Observer, 0, len(s.observers))
	for id := 0; id < s.nextID; id++ {
		if o, ok := s.observers[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

func clone(s Snapshot) Snapshot {
	if s.Discovered != nil {
		d := *s.Discovered
		s.Discovered = &d
	}
	return s
}
