package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netbirdio/updater/client/api"
	"github.com/netbirdio/updater/client/internal/updatemanager/events"
)

var (
	sinceFlag  int64
	followFlag bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "prints update status events as they happen",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := initClientCommand(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		SetupCloseHandler(ctx, cancel)

		var since *uint64
		if sinceFlag >= 0 {
			v := uint64(sinceFlag)
			since = &v
		}

		streamOnce := func() error {
			last, err := streamEvents(ctx, client, since, cmd.OutOrStdout())
			if last != nil {
				since = last
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}

		if !followFlag {
			err = streamOnce()
		} else {
			err = backoff.RetryNotify(streamOnce, backoff.WithContext(newFollowBackOff(), ctx), func(err error, duration time.Duration) {
				log.Warnf("event stream lost, reconnecting in %v: %v", duration, err)
			})
		}
		if errors.Is(err, context.Canceled) || closedByDaemon(err) {
			return nil
		}
		if err != nil {
			return daemonError("events", err)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().Int64Var(&sinceFlag, "since", -1, "replay retained events after this sequence number")
	eventsCmd.Flags().BoolVarP(&followFlag, "follow", "f", false, "reconnect and resume when the stream is lost")
}

// newFollowBackOff never gives up, a followed stream lives as long as the command
func newFollowBackOff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
}

// closedByDaemon reports a stream the daemon ended on purpose, e.g. on shutdown
func closedByDaemon(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

// streamEvents prints events until the stream ends and returns the last sequence seen
func streamEvents(ctx context.Context, client *api.Client, since *uint64, w io.Writer) (*uint64, error) {
	stream, err := client.SubscribeEvents(ctx, since)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Debugf("failed to close event stream: %v", err)
		}
	}()

	var last *uint64
	for {
		e, err := stream.Recv(ctx)
		if err != nil {
			return last, err
		}
		seq := e.Seq
		last = &seq
		fmt.Fprintln(w, formatEvent(e))
	}
}

func formatEvent(e api.Event) string {
	prefix := fmt.Sprintf("%s #%d %s", e.Time.Local().Format(time.RFC3339), e.Seq, e.Type)

	switch e.Type {
	case events.StateChanged:
		if e.State == nil {
			return prefix
		}
		b, err := json.Marshal(e.State)
		if err != nil {
			return prefix
		}
		return prefix + " " + string(b)
	case events.CheckingForUpdates, events.NoUpdatesAvailable:
		return fmt.Sprintf("%s source=%s", prefix, e.Source)
	case events.SelectedChannelChange:
		return fmt.Sprintf("%s channel=%s", prefix, e.Channel)
	case events.CurrentVersion:
		return fmt.Sprintf("%s version=%s", prefix, e.Version)
	default:
		if e.Channel != "" {
			return fmt.Sprintf("%s version=%s channel=%s", prefix, e.Version, e.Channel)
		}
		return fmt.Sprintf("%s version=%s", prefix, e.Version)
	}
}
