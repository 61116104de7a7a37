package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netbirdio/updater/client/api"
	"github.com/netbirdio/updater/client/internal/statemanager"
	"github.com/netbirdio/updater/util"
)

const requestTimeout = 10 * time.Second

var (
	configPath           string
	defaultConfigPathDir string
	defaultConfigPath    string
	logLevel             string
	defaultLogFileDir    string
	defaultLogFile       string
	logFile              string
	daemonAddr           string
	stateFile            string
	rootCmd              = &cobra.Command{
		Use:          "updater",
		Short:        "Application update orchestrator",
		Long:         "Checks release channels for updates, downloads and installs them.",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultConfigPathDir = "/etc/updater/"
	defaultLogFileDir = "/var/log/updater/"

	if runtime.GOOS == "windows" {
		defaultConfigPathDir = os.Getenv("PROGRAMDATA") + "\\Updater\\"
		defaultLogFileDir = os.Getenv("PROGRAMDATA") + "\\Updater\\"
	}

	defaultConfigPath = defaultConfigPathDir + "config.json"
	defaultLogFile = defaultLogFileDir + "updater.log"

	defaultDaemonAddr := "unix:///var/run/updater.sock"
	if runtime.GOOS == "windows" {
		defaultDaemonAddr = "tcp://127.0.0.1:41731"
	}

	rootCmd.PersistentFlags().StringVar(&daemonAddr, "daemon-addr", defaultDaemonAddr, "Daemon service address to serve CLI requests [unix|tcp]://[path|host:port]")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Updater config file location")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "sets Updater log level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", defaultLogFile, "sets Updater log path. If console is specified the log will be output to stdout")
	rootCmd.PersistentFlags().StringVar(&stateFile, "state-file", statemanager.GetDefaultStatePath(), "Updater state file location")

	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(channelCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(versionCmd)

	serviceCmd.AddCommand(runCmd)
	channelCmd.AddCommand(channelGetCmd, channelSetCmd, channelListCmd)
}

// SetupCloseHandler handles SIGTERM signal and exits with success
func SetupCloseHandler(ctx context.Context, cancel context.CancelFunc) {
	termCh := make(chan os.Signal, 1)
	signal.Notify(termCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(termCh)
		select {
		case <-ctx.Done():
			return
		case <-termCh:
		}

		log.Info("shutdown signal received")
		cancel()
	}()
}

// initClientCommand prepares logging to the console and a client for the daemon
func initClientCommand(cmd *cobra.Command) (*api.Client, error) {
	util.SetFlagsFromEnvVars(rootCmd)

	if err := util.InitLog(logLevel, "console"); err != nil {
		return nil, fmt.Errorf("failed initializing log %v", err)
	}

	client, err := api.NewClient(daemonAddr)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// daemonError adds a hint when the daemon cannot be reached
func daemonError(action string, err error) error {
	if api.StatusCode(err) != 0 {
		return fmt.Errorf("%s failed: %v", action, err)
	}
	return fmt.Errorf("failed to connect to daemon error: %v\n"+
		"If the daemon is not running please run: "+
		"\nupdater service run\n", err)
}
