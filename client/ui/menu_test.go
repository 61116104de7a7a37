package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/netbirdio/updater/client/api"
	"github.com/netbirdio/updater/client/internal/updatemanager/channel"
	"github.com/netbirdio/updater/client/internal/updatemanager/forced"
	"github.com/netbirdio/updater/client/internal/updatemanager/state"
)

func TestBuildMenu(t *testing.T) {
	discovered := &state.Discovered{Version: "1.2.0-beta.1", Channel: channel.Beta}

	tests := []struct {
		name      string
		state     api.State
		connected bool
		want      menuState
	}{
		{
			name:      "daemon down",
			connected: false,
			want: menuState{
				status:        "Updater service is not running",
				checkTitle:    "Check for updates",
				downloadTitle: "Download update",
				installTitle:  "Restart to update",
			},
		},
		{
			name:      "up to date",
			state:     api.State{CurrentVersion: "1.1.0"},
			connected: true,
			want: menuState{
				status:          "Up to date (1.1.0)",
				checkTitle:      "Check for updates",
				checkEnabled:    true,
				downloadTitle:   "Download update",
				installTitle:    "Restart to update",
				channelsEnabled: true,
			},
		},
		{
			name:      "checking disables check",
			state:     api.State{CurrentVersion: "1.1.0", Checking: true},
			connected: true,
			want: menuState{
				status:          "Up to date (1.1.0)",
				checkTitle:      "Checking for updates...",
				downloadTitle:   "Download update",
				installTitle:    "Restart to update",
				channelsEnabled: true,
			},
		},
		{
			name:      "discovered",
			state:     api.State{Discovered: discovered},
			connected: true,
			want: menuState{
				status:          "Version 1.2.0-beta.1 is available (beta)",
				checkTitle:      "Check for updates",
				checkEnabled:    true,
				downloadTitle:   "Download 1.2.0-beta.1",
				downloadVisible: true,
				downloadEnabled: true,
				installTitle:    "Restart to update",
				channelsEnabled: true,
				updateIcon:      true,
			},
		},
		{
			name:      "downloading",
			state:     api.State{Discovered: discovered, Downloading: true, DownloadPercent: 42},
			connected: true,
			want: menuState{
				status:          "Downloading 1.2.0-beta.1 (42%)",
				checkTitle:      "Check for updates",
				checkEnabled:    true,
				downloadTitle:   "Downloading... 42%",
				downloadVisible: true,
				installTitle:    "Restart to update",
				channelsEnabled: true,
				updateIcon:      true,
			},
		},
		{
			name: "forced countdown",
			state: api.State{
				Discovered:                discovered,
				DownloadedVersion:         "1.2.0-beta.1",
				ForcedPhase:               forced.MustInstallImmediately,
				SecondsUntilForcedInstall: 65,
			},
			connected: true,
			want: menuState{
				status:          "Update required, installing in 1:05",
				checkTitle:      "Check for updates",
				checkEnabled:    true,
				downloadTitle:   "Download update",
				installTitle:    "Restart to update now",
				installVisible:  true,
				installEnabled:  true,
				channelsEnabled: true,
				updateIcon:      true,
			},
		},
		{
			name:      "installing",
			state:     api.State{DownloadedVersion: "1.2.0", Installing: true},
			connected: true,
			want: menuState{
				status:         "Installing 1.2.0",
				checkTitle:     "Check for updates",
				downloadTitle:  "Download update",
				installTitle:   "Installing update...",
				installVisible: true,
				updateIcon:     true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildMenu(tt.state, tt.connected))
		})
	}
}

func TestFormatCountdown(t *testing.T) {
	assert.Equal(t, "0:00", formatCountdown(-3))
	assert.Equal(t, "0:59", formatCountdown(59))
	assert.Equal(t, "10:00", formatCountdown(600))
}
