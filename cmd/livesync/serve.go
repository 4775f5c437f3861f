package main

import (
	"os"

	"github.com/artpar/livesync/bootstrap"
	"github.com/spf13/cobra"
)

func newServeCmd(cfgFile *string) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the websocket and admin servers",
		Long: `Start livesync.

The server will:
  - Load configuration from livesync.yaml (or --config)
  - Or load configuration from LIVESYNC_* environment variables
  - Build every declared store and list
  - Open the shared websocket listener and the admin HTTP API

Environment variables:
  LIVESYNC_SERVER_PORT      - Admin API port (default: 8080)
  LIVESYNC_SOCKET_PORT      - Websocket port (default: 9889)
  LIVESYNC_STORAGE_DRIVER   - memory, sqlite or redis
  LIVESYNC_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  livesync serve
  livesync serve --config /etc/livesync/livesync.yaml --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap.New(bootstrap.Options{
				ConfigPath: *cfgFile,
				Watch:      watch && fileExists(*cfgFile),
				Output:     os.Stdout,
			})
			if err != nil {
				return err
			}
			return app.Run()
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", true, "reload logging settings when the config file changes")
	return cmd
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
