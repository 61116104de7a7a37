package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/updater/client/api"
	"github.com/netbirdio/updater/client/internal/updatemanager/events"
)

const writeTimeout = 10 * time.Second

// streamEvents sends a state-changed snapshot first, then the retained events
// after the since query parameter, then live events. Without since nothing is
// replayed.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	bus := s.orchestrator.Bus()

	head := bus.LastSeq()
	since := head
	if raw := r.URL.Query().Get(api.QuerySince); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeErrorResponse("invalid since parameter", http.StatusBadRequest, w)
			return
		}
		since = parsed
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Errorf("event stream upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	defer func() {
		if err := conn.CloseNow(); err != nil {
			log.Debugf("failed to close event stream: %v", err)
		}
	}()

	// the stream is one way; CloseRead handles control frames and cancels ctx
	// when the client goes away
	ctx := conn.CloseRead(r.Context())

	subscription := bus.Subscribe(since)
	defer func() {
		bus.Unsubscribe(subscription)
		log.Debug("client unsubscribed from events")
	}()
	log.Debugf("client subscribed to events since %d", since)

	view := s.orchestrator.View()
	snapshot := events.Event{
		ID:    uuid.New().String(),
		Seq:   head,
		Type:  events.StateChanged,
		Time:  time.Now(),
		State: &view,
	}
	if err := writeEvent(ctx, conn, snapshot); err != nil {
		log.Debugf("failed to send state snapshot: %v", err)
		return
	}

	for {
		select {
		case event, ok := <-subscription.Events():
			if !ok {
				if subscription.Overflowed() {
					log.Warnf("event stream client %s fell behind, closing", r.RemoteAddr)
					_ = conn.Close(websocket.StatusTryAgainLater, "subscriber fell behind")
				}
				return
			}
			if err := writeEvent(ctx, conn, event); err != nil {
				log.Warnf("error sending event %d to %s: %v", event.Seq, r.RemoteAddr, err)
				return
			}
		case <-s.done:
			_ = conn.Close(websocket.StatusGoingAway, "daemon stopping")
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}
