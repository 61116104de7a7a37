// Package forced implements the forced-update deadline: after a grace period a
// downloaded update must be installed, and a countdown installs it if the user
// does not.
package forced

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// Phase of the forced-update state machine
type Phase string

const (
	Idle                   Phase = "idle"
	Downloaded             Phase = "downloaded"
	MustInstallImmediately Phase = "must-install-immediately"
	Installing             Phase = "installing"
)

const tickInterval = time.Second

// Config holds the durations of the state machine
type Config struct {
	GracePeriod time.Duration
	Countdown   time.Duration
}

// Status is the evaluated state at one instant
type Status struct {
	Phase Phase
	// SecondsRemaining counts down to zero while Phase is MustInstallImmediately
	SecondsRemaining int
	// Started is false when Phase is Installing only because the countdown ran out
	// and nobody has started the install yet
	Started bool
}

// Evaluate derives the phase from wall-clock values only, so a large clock jump
// lands directly in the right phase. countdownStart is when the countdown was
// first observed; a zero value means it begins now.
func (c Config) Evaluate(now, downloadedAt, countdownStart time.Time, installing bool) Status {
	if installing {
		return Status{Phase: Installing, Started: true}
	}
	if downloadedAt.IsZero() {
		return Status{Phase: Idle}
	}
	if now.Sub(downloadedAt) < c.GracePeriod {
		return Status{Phase: Downloaded}
	}

	if countdownStart.IsZero() {
		countdownStart = now
	}
	remaining := c.Countdown - now.Sub(countdownStart)
	if remaining <= 0 {
		return Status{Phase: Installing}
	}

	return Status{
		Phase:            MustInstallImmediately,
		SecondsRemaining: int((remaining + time.Second - 1) / time.Second),
	}
}

// StateFunc reports the download timestamp and whether an install already started
type StateFunc func() (downloadedAt time.Time, installing bool)

// Timer drives the countdown. It never stores state itself; every read evaluates
// the current application state against the clock.
type Timer struct {
	cfg    Config
	clock  clockwork.Clock
	state  StateFunc
	expire func()
	notify func(Status)

	last Status

	mu sync.Mutex
	// countdownStart is when MustInstallImmediately was first observed for
	// the download at countdownFor
	countdownStart time.Time
	countdownFor   time.Time
}

// NewTimer creates a timer. expire is called when the countdown reaches zero
// without an install having started; it must be safe to call more than once.
func NewTimer(cfg Config, clock clockwork.Clock, state StateFunc, expire func()) *Timer {
	return &Timer{
		cfg:    cfg,
		clock:  clock,
		state:  state,
		expire: expire,
	}
}

// OnChange registers fn to be called from Run whenever the phase or the countdown changes
func (t *Timer) OnChange(fn func(Status)) {
	t.notify = fn
}

// Status evaluates the state machine now. The first read past the grace
// period starts the countdown, so waking from a long sleep still shows all of it.
func (t *Timer) Status() Status {
	downloadedAt, installing := t.state()
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if !downloadedAt.Equal(t.countdownFor) {
		t.countdownFor = downloadedAt
		t.countdownStart = time.Time{}
	}
	if !installing && !downloadedAt.IsZero() && t.countdownStart.IsZero() && now.Sub(downloadedAt) >= t.cfg.GracePeriod {
		t.countdownStart = now
	}

	return t.cfg.Evaluate(now, downloadedAt, t.countdownStart, installing)
}

// Check evaluates the state machine and starts the install when the countdown ran out
func (t *Timer) Check() Status {
	status := t.Status()
	if status.Phase == Installing && !status.Started {
		log.Infof("forced update countdown elapsed, installing update")
		t.expire()
		status = t.Status()
	}
	return status
}

// Run checks the timer every second until ctx is done
func (t *Timer) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			status := t.Check()
			if status != t.last {
				t.last = status
				if t.notify != nil {
					t.notify(status)
				}
			}
		}
	}
}
