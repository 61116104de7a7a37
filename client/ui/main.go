package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/systray"
	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/updater/util"
)

func main() {
	var daemonAddr, logFile, logLevel string

	defaultDaemonAddr := "unix:///var/run/updater.sock"
	if runtime.GOOS == "windows" {
		defaultDaemonAddr = "tcp://127.0.0.1:41731"
	}

	flag.StringVar(
		&daemonAddr, "daemon-addr",
		defaultDaemonAddr,
		"Daemon service address to serve CLI requests [unix|tcp]://[path|host:port]")
	flag.StringVar(&logFile, "log-file", "console", "sets the log file, console to write to stdout")
	flag.StringVar(&logLevel, "log-level", "info", "sets the log level")
	flag.Parse()

	if err := util.InitLog(logLevel, logFile); err != nil {
		fmt.Printf("failed to initialize log: %v\n", err)
		os.Exit(1)
	}

	if err := checkPIDFile(); err != nil {
		log.Error(err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := app.NewWithID("Updater")
	a.SetIcon(fyne.NewStaticResource("updater", iconIdle))

	client, err := newServiceClient(ctx, a, daemonAddr)
	if err != nil {
		log.Fatalf("create service client: %v", err)
	}
	systray.Run(client.onTrayReady, client.onTrayExit)
}

// checkPIDFile exists and return error, or write new.
func checkPIDFile() error {
	pidFile := filepath.Join(os.TempDir(), "updater-ui.pid")
	if piddata, err := os.ReadFile(pidFile); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(piddata))); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("process already exists: %d", pid)
				}
			}
		}
	}

	return os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0o664)
}
