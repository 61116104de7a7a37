package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/netbirdio/updater/client/api"
	"github.com/netbirdio/updater/client/internal/updatemanager/forced"
)

var jsonFlag bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "status of the update orchestrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := initClientCommand(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		s, err := client.State(ctx)
		if err != nil {
			return daemonError("status", err)
		}

		if jsonFlag {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}

		printState(cmd.OutOrStdout(), s)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&jsonFlag, "json", false, "display the state in JSON format")
}

func printState(w io.Writer, s api.State) {
	fmt.Fprintf(w, "Current version: %s\n", s.CurrentVersion)
	fmt.Fprintf(w, "Update channel: %s\n", s.SelectedChannel)

	switch {
	case s.Checking:
		fmt.Fprintln(w, "Status: checking for updates")
	case s.Installing:
		fmt.Fprintf(w, "Status: installing %s\n", s.DownloadedVersion)
	case s.Downloading:
		fmt.Fprintf(w, "Status: downloading (%d%%)\n", s.DownloadPercent)
	case s.DownloadedVersion != "":
		fmt.Fprintln(w, "Status: update ready to install")
	case s.Discovered != nil:
		fmt.Fprintln(w, "Status: update available")
	default:
		fmt.Fprintln(w, "Status: up to date")
	}

	if s.Discovered != nil {
		fmt.Fprintf(w, "Available update: %s (%s)\n", s.Discovered.Version, s.Discovered.Channel)
	}
	if s.DownloadedVersion != "" {
		downloaded := s.DownloadedVersion
		if s.DownloadedAt != nil {
			downloaded += " at " + s.DownloadedAt.Local().Format(time.RFC1123)
		}
		fmt.Fprintf(w, "Downloaded: %s\n", downloaded)
		fmt.Fprintf(w, "Install on quit: %t\n", s.InstallOnQuit)
	}
	if s.ForcedPhase == forced.MustInstallImmediately {
		fmt.Fprintf(w, "Forced install in: %ds\n", s.SecondsUntilForcedInstall)
	}
}
