package statemanager

import (
	"os"
	"path/filepath"
	"runtime"
)

// GetDefaultStatePath returns the path of the updater state file for the
// operating system, or an empty string if it cannot be determined.
func GetDefaultStatePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("PROGRAMDATA"), "Updater", "state.json")
	case "darwin", "linux":
		return "/var/lib/updater/state.json"
	case "freebsd", "openbsd", "netbsd", "dragonfly":
		return "/var/db/updater/state.json"
	}

	return ""
}
