package main

import (
	"fmt"

	"github.com/netbirdio/updater/client/api"
	"github.com/netbirdio/updater/client/internal/updatemanager/forced"
)

// menuState is what the tray shows for one replicated state
type menuState struct {
	status string

	checkTitle   string
	checkEnabled bool

	downloadTitle   string
	downloadVisible bool
	downloadEnabled bool

	installTitle   string
	installVisible bool
	installEnabled bool

	channelsEnabled bool
	updateIcon      bool
}

func buildMenu(s api.State, connected bool) menuState {
	m := menuState{
		checkTitle:      "Check for updates",
		checkEnabled:    true,
		downloadTitle:   "Download update",
		installTitle:    "Restart to update",
		channelsEnabled: true,
	}

	if !connected {
		m.status = "Updater service is not running"
		m.checkEnabled = false
		m.channelsEnabled = false
		return m
	}

	switch {
	case s.Installing:
		m.status = fmt.Sprintf("Installing %s", s.DownloadedVersion)
		m.checkEnabled = false
		m.channelsEnabled = false
		m.installVisible = true
		m.installTitle = "Installing update..."
		m.updateIcon = true
		return m
	case s.DownloadedVersion != "":
		m.status = fmt.Sprintf("Version %s is ready to install", s.DownloadedVersion)
		m.installVisible = true
		m.installEnabled = true
		m.updateIcon = true
		if s.ForcedPhase == forced.MustInstallImmediately {
			m.status = fmt.Sprintf("Update required, installing in %s", formatCountdown(s.SecondsUntilForcedInstall))
			m.installTitle = "Restart to update now"
		}
	case s.Downloading:
		m.status = fmt.Sprintf("Downloading update (%d%%)", s.DownloadPercent)
		if s.Discovered != nil {
			m.status = fmt.Sprintf("Downloading %s (%d%%)", s.Discovered.Version, s.DownloadPercent)
		}
		m.downloadVisible = true
		m.downloadTitle = fmt.Sprintf("Downloading... %d%%", s.DownloadPercent)
		m.updateIcon = true
	case s.Discovered != nil:
		m.status = fmt.Sprintf("Version %s is available (%s)", s.Discovered.Version, s.Discovered.Channel)
		m.downloadVisible = true
		m.downloadEnabled = true
		m.downloadTitle = fmt.Sprintf("Download %s", s.Discovered.Version)
		m.updateIcon = true
	default:
		m.status = fmt.Sprintf("Up to date (%s)", s.CurrentVersion)
	}

	if s.Checking {
		m.checkTitle = "Checking for updates..."
		m.checkEnabled = false
	}
	return m
}

func formatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
