// Package server exposes the update orchestrator of the daemon to UI and CLI
// processes over HTTP, with a websocket stream for status events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/updater/client/api"
	"github.com/netbirdio/updater/client/internal/updatemanager"
	"github.com/netbirdio/updater/client/internal/updatemanager/channel"
	"github.com/netbirdio/updater/client/internal/updatemanager/events"
	"github.com/netbirdio/updater/client/internal/updatemanager/state"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Orchestrator is the part of the update manager the server serves
type Orchestrator interface {
	Bus() *events.Bus
	Registry() *channel.Registry
	View() state.View
	SelectedChannel() *channel.Channel
	SetSelectedChannel(ctx context.Context, id string) (*channel.Channel, error)
	ResetSelectedChannel(ctx context.Context) (*channel.Channel, error)
	CheckForUpdates(ctx context.Context, source events.Source) (updatemanager.CheckResult, error)
	DownloadUpdate(ctx context.Context) (updatemanager.DownloadResult, error)
	InstallUpdate() error
}

// Option configures the server
type Option func(*Server)

// WithMetricsHandler serves h on /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// Server for service control.
type Server struct {
	orchestrator Orchestrator
	metrics      http.Handler

	// done is closed on Stop so open event streams end
	done     chan struct{}
	stopOnce sync.Once

	mutex      sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	socketPath string
}

// New server instance constructor.
func New(o Orchestrator, opts ...Option) *Server {
	s := &Server{
		orchestrator: o,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router of the API
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc(api.PathState, s.getState).Methods(http.MethodGet)
	router.HandleFunc(api.PathCheck, s.checkForUpdates).Methods(http.MethodPost)
	router.HandleFunc(api.PathDownload, s.downloadUpdate).Methods(http.MethodPost)
	router.HandleFunc(api.PathInstall, s.installUpdate).Methods(http.MethodPost)
	router.HandleFunc(api.PathChannel, s.getChannel).Methods(http.MethodGet)
	router.HandleFunc(api.PathChannel, s.setChannel).Methods(http.MethodPut)
	router.HandleFunc(api.PathChannel, s.resetChannel).Methods(http.MethodDelete)
	router.HandleFunc(api.PathChannels, s.listChannels).Methods(http.MethodGet)
	router.HandleFunc(api.PathEvents, s.streamEvents).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle(api.PathMetrics, s.metrics).Methods(http.MethodGet)
	}
	return router
}

// Listen opens the daemon address, [unix|tcp]://[path|host:port]
func (s *Server) Listen(addr string) (net.Listener, error) {
	split := strings.Split(addr, "://")
	if len(split) != 2 {
		return nil, fmt.Errorf("invalid daemon address %q, expected [unix|tcp]://[path|host:port]", addr)
	}

	switch split[0] {
	case "unix":
		// a socket left behind by a crashed daemon blocks listening
		if err := os.Remove(split[1]); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("failed to remove stale socket %s: %v", split[1], err)
		}
		lis, err := net.Listen("unix", split[1])
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		if err := os.Chmod(split[1], 0666); err != nil {
			log.Errorf("failed setting daemon permissions: %v", err)
		}
		s.mutex.Lock()
		s.socketPath = split[1]
		s.mutex.Unlock()
		return lis, nil
	case "tcp":
		lis, err := net.Listen("tcp", split[1])
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		return lis, nil
	default:
		return nil, fmt.Errorf("unsupported daemon address protocol %q", split[0])
	}
}

// Serve listens on addr and serves the API until ctx is done or Stop is called
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := s.Listen(addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves the API on lis until ctx is done or Stop is called
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mutex.Lock()
	s.httpServer = httpServer
	s.listener = lis
	s.mutex.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()

	log.Infof("daemon API listening on %s", lis.Addr())
	if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve daemon API: %w", err)
	}
	return nil
}

// Stop ends open event streams and shuts the HTTP server down
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)

		s.mutex.Lock()
		httpServer, socketPath := s.httpServer, s.socketPath
		s.mutex.Unlock()

		if httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				log.Warnf("failed to shut down daemon API: %v", err)
			}
		}
		if socketPath != "" {
			if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Debugf("failed to remove socket %s: %v", socketPath, err)
			}
		}
	})
}
