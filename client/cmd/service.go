package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/creativeprojects/go-selfupdate"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	nberrors "github.com/netbirdio/updater/client/errors"
	"github.com/netbirdio/updater/client/internal"
	"github.com/netbirdio/updater/client/internal/statemanager"
	"github.com/netbirdio/updater/client/internal/telemetry"
	"github.com/netbirdio/updater/client/internal/updatemanager"
	"github.com/netbirdio/updater/client/internal/updatemanager/channel"
	"github.com/netbirdio/updater/client/internal/updatemanager/checker"
	"github.com/netbirdio/updater/client/internal/updatemanager/downloader"
	"github.com/netbirdio/updater/client/internal/updatemanager/installer"
	"github.com/netbirdio/updater/client/server"
	"github.com/netbirdio/updater/util"
	"github.com/netbirdio/updater/version"
)

const shutdownTimeout = 30 * time.Second

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the Updater daemon service",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "runs the Updater daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		util.SetFlagsFromEnvVars(rootCmd)

		if err := util.InitLog(logLevel, logFile); err != nil {
			return fmt.Errorf("failed initializing log %v", err)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		SetupCloseHandler(ctx, cancel)

		config, err := internal.ReadConfig(configPath)
		if err != nil {
			return fmt.Errorf("read config %s: %w", configPath, err)
		}

		return runDaemon(ctx, config)
	},
}

// runDaemon wires the orchestrator to its boundaries and serves it until ctx is done
func runDaemon(ctx context.Context, config *internal.Config) error {
	currentVersion := version.AppVersion()
	log.Infof("starting updater daemon %s, releases from %s", currentVersion, config.Repository)

	dataDir := filepath.Dir(stateFile)

	states := statemanager.New(stateFile)
	states.Start()

	var metrics *telemetry.Metrics
	if config.MetricsEnabled {
		var err error
		metrics, err = telemetry.New(ctx)
		if err != nil {
			log.Errorf("failed to initialize metrics, continuing without: %v", err)
		}
	}

	var validator selfupdate.Validator
	if config.ChecksumFile != "" {
		validator = &selfupdate.ChecksumValidator{UniqueFilename: config.ChecksumFile}
	}

	registry := channel.DefaultRegistry()
	releases, err := checker.NewSelfUpdate(checker.Config{
		Repository:     config.Repository,
		CurrentVersion: currentVersion,
		Registry:       registry,
		Validator:      validator,
	})
	if err != nil {
		return fmt.Errorf("create update checker: %w", err)
	}

	inst, err := installer.New(dataDir)
	if err != nil {
		return fmt.Errorf("create installer: %w", err)
	}
	if result, ok, err := inst.LastResult(); err != nil {
		log.Warnf("failed to read the previous install result: %v", err)
	} else if ok {
		if result.Success {
			log.Infof("update %s was installed at %s", result.Version, result.ExecutedAt)
		} else {
			log.Errorf("installing update %s failed: %s", result.Version, result.Error)
		}
	}

	manager, err := updatemanager.New(updatemanager.Config{
		CurrentVersion:        currentVersion,
		CheckInterval:         config.CheckInterval.Duration,
		GracePeriod:           config.GracePeriod.Duration,
		ForceInstallCountdown: config.ForceInstallCountdown.Duration,
		AutoDownload:          config.AutoDownload != nil && *config.AutoDownload,
	}, updatemanager.Dependencies{
		Registry:   registry,
		Checker:    releases,
		Downloader: downloader.NewSelfUpdate(releases, validator, filepath.Join(dataDir, "downloads")),
		Installer:  inst,
		States:     states,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("create update manager: %w", err)
	}

	var opts []server.Option
	if metrics != nil {
		opts = append(opts, server.WithMetricsHandler(metrics.Handler()))
	}
	srv := server.New(manager, opts...)

	manager.Start(ctx)
	serveErr := srv.Serve(ctx, daemonAddr)
	if serveErr != nil {
		log.Errorf("daemon API stopped: %v", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	srv.Stop()
	stopErr := manager.Stop(shutdownCtx)
	statesErr := states.Stop(shutdownCtx)

	var metricsErr error
	if metrics != nil {
		metricsErr = metrics.Close()
	}

	log.Info("updater daemon stopped")
	return nberrors.Collect(serveErr, stopErr, statesErr, metricsErr)
}
