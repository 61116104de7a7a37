// Package installer replaces the running executable with a downloaded release
// and restarts the process.
package installer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/creativeprojects/go-selfupdate/update"
	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/updater/client/internal/updatemanager/downloader"
)

// ErrNothingStaged is returned when install is requested before a download finished
var ErrNothingStaged = errors.New("no downloaded update to install")

// Installer is the install boundary of the orchestrator
type Installer interface {
	// Stage remembers the downloaded release to install
	Stage(staged downloader.Staged)
	// SetAutoInstallOnQuit toggles silently installing the staged release on quit
	SetAutoInstallOnQuit(enabled bool)
	// QuitAndInstall installs the staged release and restarts the process.
	// It only returns on failure.
	QuitAndInstall() error
	// OnQuit installs the staged release when auto install on quit is enabled
	OnQuit() error
}

// SelfUpdate installs through go-selfupdate's apply
type SelfUpdate struct {
	exePath string
	results *ResultHandler
	restart func(exe string) error
	now     func() time.Time

	mu            sync.Mutex
	staged        *downloader.Staged
	installOnQuit bool
}

// New creates an installer replacing the running executable. Results are
// written to resultDir.
func New(resultDir string) (*SelfUpdate, error) {
	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	return NewWithTarget(exe, resultDir), nil
}

// NewWithTarget creates an installer replacing exePath
func NewWithTarget(exePath, resultDir string) *SelfUpdate {
	return &SelfUpdate{
		exePath: exePath,
		results: NewResultHandler(resultDir),
		restart: restart,
		now:     time.Now,
	}
}

func (i *SelfUpdate) Stage(staged downloader.Staged) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.staged = &staged
}

func (i *SelfUpdate) SetAutoInstallOnQuit(enabled bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.installOnQuit != enabled {
		log.Infof("install on quit: %t", enabled)
	}
	i.installOnQuit = enabled
}

// AutoInstallOnQuit reports the current install-on-quit setting
func (i *SelfUpdate) AutoInstallOnQuit() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.installOnQuit
}

func (i *SelfUpdate) QuitAndInstall() error {
	if err := i.Apply(); err != nil {
		return err
	}
	log.Infof("restarting %s", i.exePath)
	return i.restart(i.exePath)
}

func (i *SelfUpdate) OnQuit() error {
	i.mu.Lock()
	enabled, staged := i.installOnQuit, i.staged
	i.mu.Unlock()

	if !enabled || staged == nil {
		return nil
	}
	log.Infof("installing update %s on quit", staged.Version)
	return i.Apply()
}

// Apply replaces the executable with the staged release and records the result
func (i *SelfUpdate) Apply() (err error) {
	i.mu.Lock()
	staged := i.staged
	i.mu.Unlock()

	if staged == nil {
		return ErrNothingStaged
	}

	defer func() {
		result := Result{Success: err == nil, Version: staged.Version, ExecutedAt: i.now()}
		if err != nil {
			result.Error = err.Error()
		}
		if writeErr := i.results.Write(result); writeErr != nil {
			log.Errorf("failed to write install result: %v", writeErr)
		}
	}()

	f, err := os.Open(staged.Path)
	if err != nil {
		return fmt.Errorf("open staged update: %w", err)
	}
	defer f.Close()

	cmd := strings.TrimSuffix(filepath.Base(i.exePath), ".exe")
	binary, err := selfupdate.DecompressCommand(f, staged.AssetName, cmd, runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return fmt.Errorf("extract %s from %s: %w", cmd, staged.AssetName, err)
	}

	if err := update.Apply(binary, update.Options{TargetPath: i.exePath}); err != nil {
		if rerr := update.RollbackError(err); rerr != nil {
			log.Errorf("failed to roll back after failed update: %v", rerr)
		}
		return fmt.Errorf("apply update %s: %w", staged.Version, err)
	}

	log.Infof("installed update %s to %s", staged.Version, i.exePath)
	return nil
}

// LastResult returns and clears the result of the install that ran before this process started
func (i *SelfUpdate) LastResult() (Result, bool, error) {
	return i.results.Consume()
}
