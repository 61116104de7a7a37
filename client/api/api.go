// Package api holds the request and response bodies exchanged between the
// daemon and its UI and CLI clients.
package api

import (
	"fmt"

	"github.com/netbirdio/updater/client/internal/updatemanager/channel"
	"github.com/netbirdio/updater/client/internal/updatemanager/events"
	"github.com/netbirdio/updater/client/internal/updatemanager/state"
)

const (
	PathState    = "/v1/state"
	PathCheck    = "/v1/check"
	PathDownload = "/v1/download"
	PathInstall  = "/v1/install"
	PathChannel  = "/v1/channel"
	PathChannels = "/v1/channels"
	PathEvents   = "/v1/events"
	PathMetrics  = "/metrics"

	// QuerySince is the events query parameter carrying the last sequence number seen
	QuerySince = "since"
)

// State is the replicated view of the orchestrator
type State = state.View

// Event is a single status event on the stream
type Event = events.Event

// CheckRequest asks the daemon to run the channel cascade
type CheckRequest struct {
	Source events.Source `json:"source"`
}

// CheckResponse is the outcome of a check
type CheckResponse struct {
	UpdateWasDiscovered bool         `json:"updateWasDiscovered"`
	Version             string       `json:"version,omitempty"`
	Channel             channel.ID   `json:"channel,omitempty"`
	Attempts            []channel.ID `json:"attempts"`
}

// DownloadResponse is the outcome of a download
type DownloadResponse struct {
	DownloadWasSuccessful bool   `json:"downloadWasSuccessful"`
	Version               string `json:"version,omitempty"`
}

// ChannelRequest selects the channel checks start from
type ChannelRequest struct {
	Channel string `json:"channel"`
}

// ChannelInfo describes one registered channel
type ChannelInfo struct {
	ID         channel.ID `json:"id"`
	Label      string     `json:"label"`
	MoreStable channel.ID `json:"moreStable,omitempty"`
	Selected   bool       `json:"selected"`
}

// ChannelsResponse lists the channels from least to most stable
type ChannelsResponse struct {
	Channels []ChannelInfo `json:"channels"`
}

// EmptyObject is returned by requests without a body in the response
type EmptyObject struct {
}

// ErrorResponse is the body of every non 2xx response
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NewChannelInfo describes c
func NewChannelInfo(c *channel.Channel, selected channel.ID) ChannelInfo {
	info := ChannelInfo{
		ID:       c.ID(),
		Label:    c.Label(),
		Selected: c.ID() == selected,
	}
	if next := c.MoreStable(); next != nil {
		info.MoreStable = next.ID()
	}
	return info
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Code, e.Message)
}
