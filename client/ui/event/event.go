package event

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/updater/client/api"
	"github.com/netbirdio/updater/client/internal/updatemanager/events"
)

type Handler func(api.Event)

// Notifier shows a desktop notification
type Notifier interface {
	Notify(title, body string)
}

// AppNotifier sends notifications through the desktop notification center of the app
type AppNotifier struct {
	App fyne.App
}

func (n AppNotifier) Notify(title, body string) {
	n.App.SendNotification(fyne.NewNotification(title, body))
}

// Stream is an open event subscription
type Stream interface {
	Recv(ctx context.Context) (api.Event, error)
	Close() error
}

// Subscriber opens a stream; since is nil on the first connect
type Subscriber func(ctx context.Context, since *uint64) (Stream, error)

// ClientSubscriber subscribes through the daemon API client
func ClientSubscriber(client *api.Client) Subscriber {
	return func(ctx context.Context, since *uint64) (Stream, error) {
		stream, err := client.SubscribeEvents(ctx, since)
		if err != nil {
			return nil, err
		}
		return stream, nil
	}
}

type Manager struct {
	subscribe Subscriber
	notifier  Notifier
	mirror    *Mirror
	// initialInterval of the reconnect backoff
	initialInterval time.Duration

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	enabled  bool
	handlers []Handler
}

func NewManager(subscribe Subscriber, notifier Notifier) *Manager {
	return &Manager{
		subscribe: subscribe,
		notifier:  notifier,
		mirror:    NewMirror(),
		enabled:   true,

		initialInterval: time.Second,
	}
}

// Mirror returns the replicated daemon state
func (e *Manager) Mirror() *Mirror {
	return e.mirror
}

// Start streams events until ctx is done, reconnecting with backoff and
// resuming after the last event seen
func (e *Manager) Start(ctx context.Context) {
	e.mu.Lock()
	e.ctx, e.cancel = context.WithCancel(ctx)
	ctx = e.ctx
	e.mu.Unlock()

	expBackOff := backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     e.initialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, ctx)

	if err := backoff.Retry(e.streamEvents, expBackOff); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("event stream ended: %v", err)
	}
}

func (e *Manager) streamEvents() error {
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()

	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}

	since, resumed := e.mirror.LastSeq()
	var sincePtr *uint64
	if resumed {
		sincePtr = &since
	}

	stream, err := e.subscribe(ctx, sincePtr)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	log.Infof("subscribed to daemon events since %d", since)
	defer func() {
		if err := stream.Close(); err != nil {
			log.Debugf("failed to close event stream: %v", err)
		}
		log.Info("unsubscribed from daemon events")
	}()

	first := true
	for {
		event, err := stream.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("error receiving event: %w", err)
		}
		if first {
			e.mirror.Baseline(event)
			first = false
		} else {
			e.mirror.Apply(event)
		}
		e.handleEvent(event)
	}
}

func (e *Manager) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Manager) SetNotificationsEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

func (e *Manager) handleEvent(event api.Event) {
	e.mu.Lock()
	enabled := e.enabled
	handlers := slices.Clone(e.handlers)
	e.mu.Unlock()

	// a failed download is always shown
	if (enabled || event.Type == events.UpdateDownloadFailed) && e.notifier != nil {
		if title, body, ok := notification(event); ok {
			e.notifier.Notify(title, body)
		}
	}

	// handlers run in order so they observe state changes in sequence
	for _, handler := range handlers {
		handler(event)
	}
}

func (e *Manager) AddHandler(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

func notification(event api.Event) (title, body string, ok bool) {
	switch event.Type {
	case events.UpdateWasDiscovered:
		return "Update available", fmt.Sprintf("Version %s is available on the %s channel", event.Version, event.Channel), true
	case events.UpdateDownloaded:
		return "Update ready", fmt.Sprintf("Version %s was downloaded. Restart to update.", event.Version), true
	case events.UpdateDownloadFailed:
		return "Update failed", fmt.Sprintf("Version %s could not be downloaded", event.Version), true
	case events.StartInstallingUpdate:
		return "Installing update", fmt.Sprintf("Installing version %s", event.Version), true
	default:
		return "", "", false
	}
}
