package updatemanager

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/updater/client/internal/statemanager"
	"github.com/netbirdio/updater/client/internal/updatemanager/channel"
)

// channelPreference is the persisted channel selection. The id is kept as a
// plain string and resolved against the registry on load.
type channelPreference struct {
	Channel string `json:"channel"`
}

func (channelPreference) Name() string {
	return "update_channel"
}

// resetSelectedChannel drops the stored selection so the version default applies again
func resetSelectedChannel(ctx context.Context, states *statemanager.Manager) error {
	if states == nil {
		return nil
	}
	if err := states.DeleteState(&channelPreference{}); err != nil {
		return fmt.Errorf("delete update channel preference: %w", err)
	}
	return states.PersistState(ctx)
}

// loadSelectedChannel returns the stored selection, or the default channel of
// the running version when nothing valid is stored
func loadSelectedChannel(states *statemanager.Manager, registry *channel.Registry, runningVersion string) *channel.Channel {
	if states == nil {
		return registry.DefaultFor(runningVersion)
	}

	states.RegisterState(&channelPreference{})
	if err := states.LoadAll(); err != nil {
		log.Warnf("failed to load update channel preference: %v", err)
	}

	stored := ""
	if pref, ok := states.GetState(&channelPreference{}).(*channelPreference); ok && pref != nil {
		stored = pref.Channel
	}

	selected := registry.ResolveOrDefault(stored, runningVersion)
	if stored != "" && string(selected.ID()) != stored {
		log.Infof("stored update channel %q is unknown, using %s", stored, selected)
	}
	return selected
}
