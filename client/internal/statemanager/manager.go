// Package statemanager persists small named JSON states, such as the selected
// update channel, in a single file.
package statemanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"

	nberrors "github.com/netbirdio/updater/client/errors"
	"github.com/netbirdio/updater/util"
)

const (
	errStateNotRegistered = "state %s not registered"

	defaultSaveInterval = 10 * time.Second
	writeTimeout        = 5 * time.Second
)

// State is implemented by every persisted state type
type State interface {
	Name() string
}

// Manager keeps registered states in memory and writes changed ones out periodically
type Manager struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	clock        clockwork.Clock
	saveInterval time.Duration
	filePath     string

	states map[string]State
	// states found in the file that nobody registered; written back unchanged
	foreign    map[string]json.RawMessage
	dirty      map[string]struct{}
	stateTypes map[string]reflect.Type
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the clock driving periodic saves
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithSaveInterval sets how often dirty states are written out
func WithSaveInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.saveInterval = d
	}
}

// New creates a manager for the state file at filePath
func New(filePath string, opts ...Option) *Manager {
	m := &Manager{
		clock:        clockwork.NewRealClock(),
		saveInterval: defaultSaveInterval,
		filePath:     filePath,
		states:       make(map[string]State),
		foreign:      make(map[string]json.RawMessage),
		dirty:        make(map[string]struct{}),
		stateTypes:   make(map[string]reflect.Type),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start starts the periodic save routine
func (m *Manager) Start() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	var ctx context.Context
	ctx, m.cancel = context.WithCancel(context.Background())
	m.done = make(chan struct{})

	go m.periodicStateSave(ctx)
}

// Stop ends the save routine and writes out any pending change
func (m *Manager) Stop(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
	}

	return m.PersistState(ctx)
}

// RegisterState registers the type of state. Pass an uninitialized state.
func (m *Manager) RegisterState(state State) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name := state.Name()
	if _, ok := m.states[name]; !ok {
		m.states[name] = nil
	}
	m.stateTypes[name] = reflect.TypeOf(state).Elem()
}

// GetState returns the current value of the state, nil if unset
func (m *Manager) GetState(state State) State {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.states[state.Name()]
}

// UpdateState replaces the state and marks it for the next save
func (m *Manager) UpdateState(state State) error {
	if m == nil {
		return nil
	}

	return m.setState(state.Name(), state)
}

// DeleteState removes the state and marks it for the next save
func (m *Manager) DeleteState(state State) error {
	if m == nil {
		return nil
	}

	return m.setState(state.Name(), nil)
}

func (m *Manager) setState(name string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.stateTypes[name]; !exists {
		return fmt.Errorf(errStateNotRegistered, name)
	}

	m.states[name] = state
	m.dirty[name] = struct{}{}

	return nil
}

// LoadAll reads every state in the file. Registered states that fail to decode
// are reported together; unregistered ones are kept and written back as they were.
func (m *Manager) LoadAll() error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rawStates, err := m.loadStateFile()
	if err != nil {
		return err
	}

	var merr *multierror.Error
	for name, raw := range rawStates {
		if _, registered := m.stateTypes[name]; !registered {
			m.foreign[name] = raw
			continue
		}
		loaded, err := m.loadSingleRawState(name, raw)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		m.states[name] = loaded
	}

	return nberrors.FormatErrorOrNil(merr)
}

func (m *Manager) periodicStateSave(ctx context.Context) {
	ticker := m.clock.NewTicker(m.saveInterval)
	defer ticker.Stop()
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := m.PersistState(ctx); err != nil {
				log.Errorf("failed to persist state: %v", err)
			}
		}
	}
}

// PersistState writes the states out if any changed since the last save
func (m *Manager) PersistState(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.dirty) == 0 {
		return nil
	}

	out := make(map[string]any, len(m.states)+len(m.foreign))
	for name, raw := range m.foreign {
		out[name] = raw
	}
	for name, state := range m.states {
		if state != nil {
			out[name] = state
		}
	}

	bs, err := marshalWithPanicRecovery(out)
	if err != nil {
		return fmt.Errorf("marshal states: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	start := m.clock.Now()
	if err := util.WriteBytesWithRestrictedPermission(ctx, m.filePath, bs); err != nil {
		return err
	}

	log.Debugf("persisted states: %v, took %v", maps.Keys(m.dirty), m.clock.Since(start))
	clear(m.dirty)

	return nil
}

func (m *Manager) loadStateFile() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debugf("state file %s does not exist", m.filePath)
			return nil, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var rawStates map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawStates); err != nil {
		m.backupCorrupted()
		return nil, fmt.Errorf("unmarshal states: %w", err)
	}

	return rawStates, nil
}

func (m *Manager) backupCorrupted() {
	log.Warn("state file appears to be corrupted, attempting to back it up")

	backupPath := fmt.Sprintf("%s.corrupted.%d", m.filePath, m.clock.Now().UnixNano())
	if err := os.Rename(m.filePath, backupPath); err != nil {
		log.Errorf("failed to backup corrupted state file: %v", err)
		return
	}

	log.Infof("created backup of corrupted state file at: %s", backupPath)
}

func (m *Manager) loadSingleRawState(name string, raw json.RawMessage) (State, error) {
	stateType, ok := m.stateTypes[name]
	if !ok {
		return nil, fmt.Errorf(errStateNotRegistered, name)
	}

	if string(raw) == "null" {
		return nil, nil //nolint:nilnil
	}

	statePtr := reflect.New(stateType).Interface().(State)
	if err := json.Unmarshal(raw, statePtr); err != nil {
		return nil, fmt.Errorf("unmarshal state %s: %w", name, err)
	}

	return statePtr, nil
}

func marshalWithPanicRecovery(v any) (bs []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during marshal: %v", r)
		}
	}()
	return json.Marshal(v)
}
