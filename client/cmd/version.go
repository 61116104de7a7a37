package cmd

import (
	"github.com/spf13/cobra"

	"github.com/netbirdio/updater/version"
)

var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "prints Updater version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version.AppVersion())
		},
	}
)
