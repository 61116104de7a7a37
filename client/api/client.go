package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/netbirdio/updater/client/internal/updatemanager/events"
)

// unixHost is the placeholder host of requests sent over a unix socket
const unixHost = "unix"

// Client talks to the daemon API on a [unix|tcp]://[path|host:port] address
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
}

// NewClient creates a client for the daemon at addr
func NewClient(addr string) (*Client, error) {
	split := strings.Split(addr, "://")
	if len(split) != 2 {
		return nil, fmt.Errorf("invalid daemon address %q, expected [unix|tcp]://[path|host:port]", addr)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	host := split[1]

	switch split[0] {
	case "unix":
		path := split[1]
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		}
		host = unixHost
	case "tcp":
	default:
		return nil, fmt.Errorf("unsupported daemon address protocol %q", split[0])
	}

	return &Client{
		baseURL: "http://" + host,
		wsURL:   "ws://" + host,
		// requests are bounded by their context; websocket.Dial rejects clients with a timeout
		httpClient: &http.Client{Transport: transport},
	}, nil
}

// State returns the orchestrator state
func (c *Client) State(ctx context.Context) (State, error) {
	var s State
	err := c.do(ctx, http.MethodGet, PathState, nil, &s)
	return s, err
}

// Check asks the daemon to look for an update
func (c *Client) Check(ctx context.Context, source events.Source) (CheckResponse, error) {
	var resp CheckResponse
	err := c.do(ctx, http.MethodPost, PathCheck, CheckRequest{Source: source}, &resp)
	return resp, err
}

// Download downloads the discovered update and waits for the outcome
func (c *Client) Download(ctx context.Context) (DownloadResponse, error) {
	var resp DownloadResponse
	err := c.do(ctx, http.MethodPost, PathDownload, nil, &resp)
	return resp, err
}

// Install starts installing the downloaded update. The daemon restarts afterwards.
func (c *Client) Install(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, PathInstall, nil, nil)
}

// Channel returns the selected channel
func (c *Client) Channel(ctx context.Context) (ChannelInfo, error) {
	var info ChannelInfo
	err := c.do(ctx, http.MethodGet, PathChannel, nil, &info)
	return info, err
}

// SetChannel selects the channel checks start from
func (c *Client) SetChannel(ctx context.Context, id string) (ChannelInfo, error) {
	var info ChannelInfo
	err := c.do(ctx, http.MethodPut, PathChannel, ChannelRequest{Channel: id}, &info)
	return info, err
}

// ResetChannel drops the stored selection, the default channel of the running version applies
func (c *Client) ResetChannel(ctx context.Context) (ChannelInfo, error) {
	var info ChannelInfo
	err := c.do(ctx, http.MethodDelete, PathChannel, nil, &info)
	return info, err
}

// Channels lists the registered channels
func (c *Client) Channels(ctx context.Context) (ChannelsResponse, error) {
	var resp ChannelsResponse
	err := c.do(ctx, http.MethodGet, PathChannels, nil, &resp)
	return resp, err
}

// EventStream is an open event subscription
type EventStream struct {
	conn *websocket.Conn
}

// SubscribeEvents opens the event stream. With since set, retained events
// after it are replayed; the first event is always a state snapshot.
func (c *Client) SubscribeEvents(ctx context.Context, since *uint64) (*EventStream, error) {
	url := c.wsURL + PathEvents
	if since != nil {
		url += "?" + QuerySince + "=" + strconv.FormatUint(*since, 10)
	}

	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: c.httpClient})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe to events: %w", err)
	}
	return &EventStream{conn: conn}, nil
}

// Recv blocks until the next event arrives
func (s *EventStream) Recv(ctx context.Context) (Event, error) {
	var e Event
	if err := wsjson.Read(ctx, s.conn, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Close ends the subscription
func (s *EventStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		errResp := &ErrorResponse{Code: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(errResp); err != nil || errResp.Message == "" {
			errResp.Message = http.StatusText(resp.StatusCode)
		}
		return errResp
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// StatusCode returns the HTTP status of a daemon error, or 0 for other errors
func StatusCode(err error) int {
	var errResp *ErrorResponse
	if errors.As(err, &errResp) {
		return errResp.Code
	}
	return 0
}
