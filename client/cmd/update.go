package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/netbirdio/updater/client/api"
	"github.com/netbirdio/updater/client/internal/updatemanager/events"
)

// downloads are bounded by the daemon, not by the CLI
const downloadTimeout = time.Hour

var downloadFlag bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "checks the update channels for a new version",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := initClientCommand(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), downloadTimeout)
		defer cancel()

		res, err := client.Check(ctx, events.SourceCLI)
		if err != nil {
			if api.StatusCode(err) == http.StatusConflict {
				cmd.Println("An update check is already running")
				return nil
			}
			return daemonError("check", err)
		}

		if !res.UpdateWasDiscovered {
			cmd.Println("No updates available")
			return nil
		}
		cmd.Printf("Update %s is available on the %s channel\n", res.Version, res.Channel)

		if downloadFlag {
			return download(ctx, cmd, client)
		}
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "downloads the available update",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := initClientCommand(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), downloadTimeout)
		defer cancel()

		return download(ctx, cmd, client)
	},
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "installs the downloaded update and restarts the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := initClientCommand(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		if err := client.Install(ctx); err != nil {
			if api.StatusCode(err) == http.StatusNotFound {
				return errors.New("no downloaded update to install, run: updater download")
			}
			return daemonError("install", err)
		}

		cmd.Println("Installing update, the daemon will restart")
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&downloadFlag, "download", false, "download the update when one is found")
}

func download(ctx context.Context, cmd *cobra.Command, client *api.Client) error {
	res, err := client.Download(ctx)
	if err != nil {
		if api.StatusCode(err) == http.StatusNotFound {
			return errors.New("no update available, run: updater check")
		}
		return daemonError("download", err)
	}

	if !res.DownloadWasSuccessful {
		return errors.New("download of " + res.Version + " was not successful, run: updater check")
	}
	cmd.Printf("Update %s downloaded\n", res.Version)
	return nil
}
