// Package updatemanager orchestrates checking for, downloading and installing
// application updates across the update channels.
package updatemanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	nberrors "github.com/netbirdio/updater/client/errors"
	"github.com/netbirdio/updater/client/internal/statemanager"
	"github.com/netbirdio/updater/client/internal/telemetry"
	"github.com/netbirdio/updater/client/internal/updatemanager/channel"
	"github.com/netbirdio/updater/client/internal/updatemanager/checker"
	"github.com/netbirdio/updater/client/internal/updatemanager/downloader"
	"github.com/netbirdio/updater/client/internal/updatemanager/events"
	"github.com/netbirdio/updater/client/internal/updatemanager/forced"
	"github.com/netbirdio/updater/client/internal/updatemanager/installer"
	"github.com/netbirdio/updater/client/internal/updatemanager/state"
)

const (
	installTriggerUser      = "user"
	installTriggerCountdown = "countdown"
	installTriggerQuit      = "quit"
)

// Config holds the tunables of the orchestrator
type Config struct {
	CurrentVersion string
	// CheckInterval between periodic checks; zero disables them
	CheckInterval         time.Duration
	GracePeriod           time.Duration
	ForceInstallCountdown time.Duration
	// AutoDownload starts a download as soon as a check discovers an update
	AutoDownload bool
	// SkipStartupCheck disables the check run by Start
	SkipStartupCheck bool
}

// Dependencies are the collaborators of the orchestrator. Registry, Checker,
// Downloader and Installer are required.
type Dependencies struct {
	Registry   *channel.Registry
	Checker    checker.Checker
	Downloader downloader.Downloader
	Installer  installer.Installer
	States     *statemanager.Manager
	Metrics    *telemetry.Metrics
	Clock      clockwork.Clock
	Bus        *events.Bus
}

// DownloadResult is the outcome of a download
type DownloadResult struct {
	Success bool
	Version string
}

// Manager owns the update state of the process
type Manager struct {
	cfg        Config
	registry   *channel.Registry
	checker    checker.Checker
	downloader downloader.Downloader
	installer  installer.Installer
	states     *statemanager.Manager
	metrics    *telemetry.Metrics
	clock      clockwork.Clock

	store   *state.Store
	bus     *events.Bus
	tracker *downloader.Tracker
	timer   *forced.Timer
	watcher *installOnQuitWatcher

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the orchestrator and restores the persisted channel selection
func New(cfg Config, deps Dependencies) (*Manager, error) {
	if deps.Registry == nil || deps.Checker == nil || deps.Downloader == nil || deps.Installer == nil {
		return nil, errors.New("registry, checker, downloader and installer are required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus(deps.Clock, 0)
	}

	m := &Manager{
		cfg:        cfg,
		registry:   deps.Registry,
		checker:    deps.Checker,
		downloader: deps.Downloader,
		installer:  deps.Installer,
		states:     deps.States,
		metrics:    deps.Metrics,
		clock:      deps.Clock,
		bus:        deps.Bus,
		ctx:        context.Background(),
	}

	selected := loadSelectedChannel(deps.States, deps.Registry, cfg.CurrentVersion)
	log.Infof("running version %s, update channel %s", cfg.CurrentVersion, selected)

	m.store = state.NewStore(state.Snapshot{
		CurrentVersion:  cfg.CurrentVersion,
		SelectedChannel: selected.ID(),
	})

	m.tracker = downloader.NewTracker(m.setDownloadPercent)

	m.timer = forced.NewTimer(
		forced.Config{GracePeriod: cfg.GracePeriod, Countdown: cfg.ForceInstallCountdown},
		deps.Clock,
		func() (time.Time, bool) {
			s := m.store.Snapshot()
			return s.DownloadedAt, s.Installing
		},
		m.onForcedInstall,
	)
	m.timer.OnChange(func(forced.Status) { m.publishState() })

	m.watcher = newInstallOnQuitWatcher(deps.Registry, deps.Installer)
	m.watcher.evaluate(m.store.Snapshot())

	// the watcher runs first so published views carry its result
	m.store.Subscribe(m.watcher.observe)
	m.store.Subscribe(func(state.Snapshot, state.Snapshot) { m.publishState() })

	return m, nil
}

// Start announces the running version, runs the startup check and starts the
// periodic check and forced-update loops
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		log.Errorf("update manager already started")
		return
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	runCtx := m.ctx
	m.mu.Unlock()

	m.bus.Publish(events.Event{Type: events.CurrentVersion, Version: m.cfg.CurrentVersion})

	m.wg.Add(2)
	go m.checkLoop(runCtx)
	go func() {
		defer m.wg.Done()
		m.timer.Run(runCtx)
	}()
}

// Stop ends the background loops and installs the downloaded update if
// install on quit is enabled
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	var quitErr error
	snap := m.store.Snapshot()
	if snap.DownloadedVersion != "" && !snap.Installing && m.watcher.Enabled() {
		m.metrics.CountInstall(installTriggerQuit)
		quitErr = m.installer.OnQuit()
	}

	var persistErr error
	if m.states != nil {
		persistErr = m.states.PersistState(ctx)
	}

	return nberrors.Collect(quitErr, persistErr)
}

// Bus returns the event bus of the manager
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// Registry returns the channel registry
func (m *Manager) Registry() *channel.Registry {
	return m.registry
}

// Snapshot returns the current state
func (m *Manager) Snapshot() state.Snapshot {
	return m.store.Snapshot()
}

// View returns the state as seen by UI processes
func (m *Manager) View() state.View {
	return state.NewView(m.store.Snapshot(), m.watcher.Enabled(), m.timer.Status())
}

// SelectedChannel returns the channel checks start from
func (m *Manager) SelectedChannel() *channel.Channel {
	return m.registry.ResolveOrDefault(string(m.store.Snapshot().SelectedChannel), m.cfg.CurrentVersion)
}

// SetSelectedChannel changes and persists the channel selection
func (m *Manager) SetSelectedChannel(ctx context.Context, id string) (*channel.Channel, error) {
	ch, err := m.registry.Resolve(id)
	if err != nil {
		return nil, err
	}

	if _, err := m.store.Update(func(s *state.Snapshot) error {
		s.SelectedChannel = ch.ID()
		return nil
	}); err != nil {
		return nil, err
	}

	if m.states != nil {
		if err := m.states.UpdateState(&channelPreference{Channel: string(ch.ID())}); err != nil {
			log.Errorf("failed to store update channel: %v", err)
		} else if err := m.states.PersistState(ctx); err != nil {
			log.Errorf("failed to persist update channel: %v", err)
		}
	}

	log.Infof("update channel set to %s", ch)
	m.bus.Publish(events.Event{Type: events.SelectedChannelChange, Channel: ch.ID()})
	return ch, nil
}

// ResetSelectedChannel forgets the stored selection and returns to the default
// channel of the running version
func (m *Manager) ResetSelectedChannel(ctx context.Context) (*channel.Channel, error) {
	ch := m.registry.DefaultFor(m.cfg.CurrentVersion)

	if _, err := m.store.Update(func(s *state.Snapshot) error {
		s.SelectedChannel = ch.ID()
		return nil
	}); err != nil {
		return nil, err
	}

	if err := resetSelectedChannel(ctx, m.states); err != nil {
		log.Errorf("failed to reset stored update channel: %v", err)
	}

	log.Infof("update channel reset to %s", ch)
	m.bus.Publish(events.Event{Type: events.SelectedChannelChange, Channel: ch.ID()})
	return ch, nil
}

// CheckForUpdates runs the channel cascade from the selected channel. Only one
// check runs at a time; a second call returns ErrCheckInProgress.
func (m *Manager) CheckForUpdates(ctx context.Context, source events.Source) (CheckResult, error) {
	snap, err := m.store.Update(func(s *state.Snapshot) error {
		if s.Checking {
			return ErrCheckInProgress
		}
		s.Checking = true
		return nil
	})
	if err != nil {
		return CheckResult{}, err
	}

	m.metrics.CountCheck(string(source))
	m.bus.Publish(events.Event{Type: events.CheckingForUpdates, Source: source})

	start := m.registry.ResolveOrDefault(string(snap.SelectedChannel), m.cfg.CurrentVersion)
	res := m.cascade(ctx, start)
	cancelled := !res.Found && ctx.Err() != nil

	next, _ := m.store.Update(func(s *state.Snapshot) error {
		s.Checking = false
		if cancelled {
			return nil
		}
		if !res.Found {
			// the downloaded update stays, a failed or empty check does not
			// move the forced-update deadline
			s.Discovered = nil
			return nil
		}
		s.Discovered = &state.Discovered{Version: res.Version, Channel: res.Channel}
		if s.DownloadedVersion != "" && s.DownloadedVersion != res.Version {
			log.Infof("downloaded update %s is superseded by %s", s.DownloadedVersion, res.Version)
			s.DownloadedVersion = ""
			s.DownloadedChannel = ""
			s.DownloadedAt = time.Time{}
			s.DownloadPercent = 0
		}
		return nil
	})

	if cancelled {
		log.Debugf("update check cancelled after %v", res.Attempts)
		return res, ctx.Err()
	}

	if !res.Found {
		log.Infof("no updates available, checked %v", res.Attempts)
		m.bus.Publish(events.Event{Type: events.NoUpdatesAvailable, Source: source})
		return res, nil
	}

	log.WithFields(log.Fields{"version": res.Version, "channel": res.Channel}).Infof("update discovered")
	m.metrics.CountDiscovery(string(res.Channel))
	m.bus.Publish(events.Event{Type: events.UpdateWasDiscovered, Version: res.Version, Channel: res.Channel})

	if m.cfg.AutoDownload && next.DownloadedVersion != res.Version && !next.Downloading && !next.Installing {
		m.autoDownload()
	}

	return res, nil
}

// DownloadUpdate downloads the discovered update. A failed download is
// reported through the result, not as an error.
func (m *Manager) DownloadUpdate(ctx context.Context) (DownloadResult, error) {
	snap, err := m.store.Update(func(s *state.Snapshot) error {
		switch {
		case s.Installing:
			return ErrAlreadyInstalling
		case s.Downloading:
			return ErrDownloadInProgress
		case s.Discovered == nil:
			return ErrNoUpdateDiscovered
		}
		s.Downloading = true
		return nil
	})
	if err != nil {
		return DownloadResult{}, err
	}
	target := *snap.Discovered

	m.tracker.Reset()
	onProgress, stop := m.tracker.Listen()
	defer stop()

	started := m.clock.Now()
	staged, err := m.downloader.Download(ctx, target.Version, onProgress)
	m.metrics.CountDownload(err == nil, m.clock.Since(started))
	if err != nil {
		log.Errorf("failed to download update %s: %v", target.Version, err)
		_, _ = m.store.Update(func(s *state.Snapshot) error {
			s.Downloading = false
			return nil
		})
		m.bus.Publish(events.Event{Type: events.UpdateDownloadFailed, Version: target.Version, Channel: target.Channel})
		return DownloadResult{Success: false, Version: target.Version}, nil
	}

	now := m.clock.Now()
	superseded := false
	_, _ = m.store.Update(func(s *state.Snapshot) error {
		s.Downloading = false
		if s.Discovered != nil && s.Discovered.Version != target.Version {
			superseded = true
			return nil
		}
		if s.DownloadedVersion != target.Version {
			s.DownloadedAt = now
		}
		s.DownloadedVersion = target.Version
		s.DownloadedChannel = target.Channel
		return nil
	})
	if superseded {
		log.Infof("update %s was superseded while downloading", target.Version)
		return DownloadResult{Success: false, Version: target.Version}, nil
	}
	m.installer.Stage(staged)

	m.bus.Publish(events.Event{Type: events.UpdateDownloaded, Version: target.Version, Channel: target.Channel})
	return DownloadResult{Success: true, Version: target.Version}, nil
}

// InstallUpdate installs the downloaded update now and restarts the process
func (m *Manager) InstallUpdate() error {
	return m.install(installTriggerUser)
}

func (m *Manager) install(trigger string) error {
	snap, err := m.store.Update(func(s *state.Snapshot) error {
		if s.Installing {
			return ErrAlreadyInstalling
		}
		if s.DownloadedVersion == "" {
			return ErrNoUpdateDiscovered
		}
		s.Installing = true
		return nil
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{"version": snap.DownloadedVersion, "trigger": trigger}).Infof("installing update")
	m.metrics.CountInstall(trigger)
	m.bus.Publish(events.Event{
		Type:    events.StartInstallingUpdate,
		Version: snap.DownloadedVersion,
		Channel: snap.DownloadedChannel,
	})

	// the install either replaces this process or fails; the state stays
	// installing either way so the countdown does not fire again
	if err := m.installer.QuitAndInstall(); err != nil {
		return fmt.Errorf("install update %s: %w", snap.DownloadedVersion, err)
	}
	return nil
}

func (m *Manager) onForcedInstall() {
	if err := m.install(installTriggerCountdown); err != nil && !errors.Is(err, ErrAlreadyInstalling) {
		log.Errorf("forced update install failed: %v", err)
	}
}

func (m *Manager) autoDownload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		log.Debugf("update manager is not running, skipping automatic download")
		return
	}
	ctx := m.ctx

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.DownloadUpdate(ctx); err != nil {
			log.Debugf("automatic download skipped: %v", err)
		}
	}()
}

func (m *Manager) checkLoop(ctx context.Context) {
	defer m.wg.Done()

	if !m.cfg.SkipStartupCheck {
		m.runCheck(ctx, events.SourceStartup)
	}
	if m.cfg.CheckInterval <= 0 {
		return
	}

	ticker := m.clock.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.runCheck(ctx, events.SourcePeriodic)
		}
	}
}

func (m *Manager) runCheck(ctx context.Context, source events.Source) {
	if _, err := m.CheckForUpdates(ctx, source); err != nil {
		if errors.Is(err, ErrCheckInProgress) || errors.Is(err, context.Canceled) {
			log.Debugf("skipping %s update check: %v", source, err)
			return
		}
		log.Errorf("%s update check failed: %v", source, err)
	}
}

func (m *Manager) setDownloadPercent(percent int) {
	_, _ = m.store.Update(func(s *state.Snapshot) error {
		s.DownloadPercent = percent
		return nil
	})
}

func (m *Manager) publishState() {
	view := m.View()
	m.bus.Publish(events.Event{Type: events.StateChanged, State: &view})
}
