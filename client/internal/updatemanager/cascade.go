package updatemanager

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/updater/client/internal/updatemanager/channel"
	"github.com/netbirdio/updater/client/internal/updatemanager/checker"
)

// CheckResult is the outcome of a full check
type CheckResult struct {
	Found   bool
	Version string
	Channel channel.ID
	// Attempts lists the channels checked, in order
	Attempts []channel.ID
}

// cascade checks start and then each more stable channel, one at a time, until
// one reports an update. A failing channel is logged and treated as empty.
func (m *Manager) cascade(ctx context.Context, start *channel.Channel) CheckResult {
	var res CheckResult

	channel.Walk(start, func(ch *channel.Channel) bool {
		if ctx.Err() != nil {
			log.Debugf("update check cancelled before channel %s", ch)
			return false
		}

		res.Attempts = append(res.Attempts, ch.ID())
		opts := checker.Options{
			AllowDowngrade: m.registry.AllowDowngrade(m.cfg.CurrentVersion, ch),
		}

		found, err := m.checker.CheckForUpdates(ctx, ch, opts)
		if err != nil {
			log.WithFields(log.Fields{"channel": ch.ID()}).Warnf("failed to check for updates: %v", err)
			m.metrics.CountChannelCheck(string(ch.ID()), "error")
			return true
		}
		if !found.UpdateWasDiscovered {
			m.metrics.CountChannelCheck(string(ch.ID()), "not_found")
			return true
		}

		m.metrics.CountChannelCheck(string(ch.ID()), "found")
		res.Found = true
		res.Version = found.Version
		res.Channel = ch.ID()
		return false
	})

	return res
}
