package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. cfgFile is shared by every subcommand.
func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "livesync",
		Short: "Live-synchronized data stores over websockets",
		Long: `livesync serves named stores and lists whose every change is pushed
to the websocket clients subscribed to their channel.

Quick start:
  livesync validate   # Check the configuration
  livesync serve      # Start the websocket and admin servers`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "livesync.yaml", "config file path")

	root.AddCommand(
		newServeCmd(&cfgFile),
		newValidateCmd(&cfgFile),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
