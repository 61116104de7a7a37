package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/netbirdio/updater/client/api"
)

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "manage the update channel",
}

var channelGetCmd = &cobra.Command{
	Use:   "get",
	Short: "prints the selected update channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := initClientCommand(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		info, err := client.Channel(ctx)
		if err != nil {
			return daemonError("get channel", err)
		}
		cmd.Println(info.ID)
		return nil
	},
}

var channelDefaultFlag bool

var channelSetCmd = &cobra.Command{
	Use:   "set <channel>",
	Short: "selects the channel checks start from",
	Args: func(cmd *cobra.Command, args []string) error {
		if channelDefaultFlag {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := initClientCommand(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		if channelDefaultFlag {
			info, err := client.ResetChannel(ctx)
			if err != nil {
				return daemonError("reset channel", err)
			}
			cmd.Printf("Update channel reset to %s\n", info.Label)
			return nil
		}

		info, err := client.SetChannel(ctx, args[0])
		if err != nil {
			if api.StatusCode(err) == http.StatusUnprocessableEntity {
				return unknownChannelError(ctx, client, args[0])
			}
			return daemonError("set channel", err)
		}
		cmd.Printf("Update channel set to %s\n", info.Label)
		return nil
	},
}

func init() {
	channelSetCmd.Flags().BoolVar(&channelDefaultFlag, "default", false, "forget the selection and use the default channel of the running version")
}

var channelListCmd = &cobra.Command{
	Use:   "list",
	Short: "lists the update channels from least to most stable",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := initClientCommand(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		resp, err := client.Channels(ctx)
		if err != nil {
			return daemonError("list channels", err)
		}
		for _, info := range resp.Channels {
			marker := " "
			if info.Selected {
				marker = "*"
			}
			cmd.Printf("%s %-8s %s\n", marker, info.ID, info.Label)
		}
		return nil
	},
}

func unknownChannelError(ctx context.Context, client *api.Client, id string) error {
	resp, err := client.Channels(ctx)
	if err != nil {
		return fmt.Errorf("unknown update channel %q", id)
	}
	known := make([]string, 0, len(resp.Channels))
	for _, info := range resp.Channels {
		known = append(known, string(info.ID))
	}
	return fmt.Errorf("unknown update channel %q, expected one of: %s", id, strings.Join(known, ", "))
}
