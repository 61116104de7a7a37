package updatemanager

import (
	"sync/atomic"

	"github.com/netbirdio/updater/client/internal/updatemanager/channel"
	"github.com/netbirdio/updater/client/internal/updatemanager/installer"
	"github.com/netbirdio/updater/client/internal/updatemanager/state"
)

// installOnQuitWatcher keeps the installer's install-on-quit flag in line with
// the selected channel and the origin of the discovered update.
type installOnQuitWatcher struct {
	registry  *channel.Registry
	installer installer.Installer
	enabled   atomic.Bool
}

func newInstallOnQuitWatcher(registry *channel.Registry, inst installer.Installer) *installOnQuitWatcher {
	return &installOnQuitWatcher{
		registry:  registry,
		installer: inst,
	}
}

// observe is a state.Observer
func (w *installOnQuitWatcher) observe(prev, next state.Snapshot) {
	if prev.SelectedChannel == next.SelectedChannel && prev.DiscoveredChannel() == next.DiscoveredChannel() {
		return
	}
	w.evaluate(next)
}

// evaluate enables install on quit when the discovered update comes from the
// selected channel or from one more stable than it
func (w *installOnQuitWatcher) evaluate(s state.Snapshot) {
	enabled := false
	if s.Discovered != nil {
		selected, okSelected := w.registry.Get(s.SelectedChannel)
		origin, okOrigin := w.registry.Get(s.Discovered.Channel)
		enabled = okSelected && okOrigin && w.registry.InStableClosure(selected, origin)
	}

	w.enabled.Store(enabled)
	w.installer.SetAutoInstallOnQuit(enabled)
}

func (w *installOnQuitWatcher) Enabled() bool {
	return w.enabled.Load()
}
