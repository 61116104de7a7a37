package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/updater/client/api"
	"github.com/netbirdio/updater/client/internal/updatemanager"
	"github.com/netbirdio/updater/client/internal/updatemanager/channel"
	"github.com/netbirdio/updater/client/internal/updatemanager/events"
)

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	writeJSONObject(r.Context(), w, http.StatusOK, s.orchestrator.View())
}

func (s *Server) checkForUpdates(w http.ResponseWriter, r *http.Request) {
	var req api.CheckRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeErrorResponse("couldn't parse JSON request", http.StatusBadRequest, w)
		return
	}

	source, ok := userSource(req.Source)
	if !ok {
		writeErrorResponse("invalid check source", http.StatusUnprocessableEntity, w)
		return
	}

	// a check started by a user finishes even if the requesting process goes away
	res, err := s.orchestrator.CheckForUpdates(context.WithoutCancel(r.Context()), source)
	if err != nil {
		writeError(r.Context(), err, w)
		return
	}

	writeJSONObject(r.Context(), w, http.StatusOK, api.CheckResponse{
		UpdateWasDiscovered: res.Found,
		Version:             res.Version,
		Channel:             res.Channel,
		Attempts:            res.Attempts,
	})
}

func (s *Server) downloadUpdate(w http.ResponseWriter, r *http.Request) {
	res, err := s.orchestrator.DownloadUpdate(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(r.Context(), err, w)
		return
	}

	writeJSONObject(r.Context(), w, http.StatusOK, api.DownloadResponse{
		DownloadWasSuccessful: res.Success,
		Version:               res.Version,
	})
}

// installUpdate answers before the install starts since a successful install
// replaces the daemon process
func (s *Server) installUpdate(w http.ResponseWriter, r *http.Request) {
	view := s.orchestrator.View()
	switch {
	case view.Installing:
		writeError(r.Context(), updatemanager.ErrAlreadyInstalling, w)
		return
	case view.DownloadedVersion == "":
		writeError(r.Context(), updatemanager.ErrNoUpdateDiscovered, w)
		return
	}

	writeJSONObject(r.Context(), w, http.StatusAccepted, api.EmptyObject{})

	go func() {
		if err := s.orchestrator.InstallUpdate(); err != nil {
			log.Errorf("failed to install update %s: %v", view.DownloadedVersion, err)
		}
	}()
}

func (s *Server) getChannel(w http.ResponseWriter, r *http.Request) {
	ch := s.orchestrator.SelectedChannel()
	writeJSONObject(r.Context(), w, http.StatusOK, api.NewChannelInfo(ch, ch.ID()))
}

func (s *Server) setChannel(w http.ResponseWriter, r *http.Request) {
	var req api.ChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse("couldn't parse JSON request", http.StatusBadRequest, w)
		return
	}

	ch, err := s.orchestrator.SetSelectedChannel(r.Context(), req.Channel)
	if err != nil {
		writeError(r.Context(), err, w)
		return
	}

	writeJSONObject(r.Context(), w, http.StatusOK, api.NewChannelInfo(ch, ch.ID()))
}

func (s *Server) resetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.orchestrator.ResetSelectedChannel(r.Context())
	if err != nil {
		writeError(r.Context(), err, w)
		return
	}

	writeJSONObject(r.Context(), w, http.StatusOK, api.NewChannelInfo(ch, ch.ID()))
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	selected := s.orchestrator.SelectedChannel().ID()

	resp := api.ChannelsResponse{}
	for _, ch := range s.orchestrator.Registry().All() {
		resp.Channels = append(resp.Channels, api.NewChannelInfo(ch, selected))
	}
	writeJSONObject(r.Context(), w, http.StatusOK, resp)
}

// userSource accepts the sources a client may report; startup and periodic
// checks belong to the daemon
func userSource(src events.Source) (events.Source, bool) {
	switch src {
	case "":
		return events.SourceCLI, true
	case events.SourceTray, events.SourceMenu, events.SourceCLI:
		return src, true
	default:
		return "", false
	}
}

func decodeOptionalBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSONObject(ctx context.Context, w http.ResponseWriter, status int, obj interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		log.WithContext(ctx).Errorf("failed to encode response: %v", err)
	}
}

func writeErrorResponse(errMsg string, httpStatus int, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	w.WriteHeader(httpStatus)
	err := json.NewEncoder(w).Encode(&api.ErrorResponse{
		Message: errMsg,
		Code:    httpStatus,
	})
	if err != nil {
		http.Error(w, "failed handling request", http.StatusInternalServerError)
	}
}

// writeError maps orchestrator errors to status codes
func writeError(ctx context.Context, err error, w http.ResponseWriter) {
	httpStatus := http.StatusInternalServerError
	msg := "internal server error"

	switch {
	case errors.Is(err, updatemanager.ErrCheckInProgress),
		errors.Is(err, updatemanager.ErrDownloadInProgress),
		errors.Is(err, updatemanager.ErrAlreadyInstalling):
		httpStatus = http.StatusConflict
		msg = err.Error()
	case errors.Is(err, updatemanager.ErrNoUpdateDiscovered):
		httpStatus = http.StatusNotFound
		msg = err.Error()
	case errors.Is(err, channel.ErrUnknownChannel):
		httpStatus = http.StatusUnprocessableEntity
		msg = err.Error()
	default:
		log.WithContext(ctx).Errorf("got a handler error: %v", err)
	}

	writeErrorResponse(msg, httpStatus, w)
}
