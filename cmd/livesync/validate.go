package main

import (
	"fmt"
	"io"
	"os"

	"github.com/artpar/livesync/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed, color.Bold)
	cyan  = color.New(color.FgCyan)
)

func newValidateCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration before deployment",
		Long: `Validate the livesync configuration file.

Checks:
  - YAML syntax is valid
  - Ports, storage driver and logging settings are valid
  - Store and list names are unique
  - Every schema uses known validators

Examples:
  livesync validate
  livesync validate --config /etc/livesync/livesync.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), *cfgFile)
		},
	}
}

func runValidate(out io.Writer, path string) error {
	fmt.Fprintf(out, "Validating %s...\n\n", path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		red.Fprintf(out, "  ✗ Config file exists\n")
		return fmt.Errorf("config file not found: %s", path)
	}
	green.Fprintf(out, "  ✓ Config file exists\n")

	cfg, err := config.Load(path)
	if err != nil {
		red.Fprintf(out, "  ✗ Config valid\n")
		return fmt.Errorf("config error: %w", err)
	}
	green.Fprintf(out, "  ✓ Config valid\n")

	fmt.Fprintf(out, "\n  Admin API:  %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "  Websocket:  %s:%d/%s\n", cfg.Socket.Host, cfg.Socket.Port, cfg.Socket.Path)
	fmt.Fprintf(out, "  Storage:    %s\n", cfg.Storage.Driver)

	fmt.Fprintf(out, "\n  Stores (%d):\n", len(cfg.Stores))
	for _, s := range cfg.Stores {
		cyan.Fprintf(out, "    %s", s.Name)
		fmt.Fprintf(out, " %s\n", access(s.Writable))
	}
	fmt.Fprintf(out, "  Lists (%d):\n", len(cfg.Lists))
	for _, l := range cfg.Lists {
		cyan.Fprintf(out, "    %s", l.Name)
		fmt.Fprintf(out, " %s\n", access(l.Writable))
	}

	fmt.Fprintln(out)
	green.Fprintf(out, "Configuration is valid\n")
	return nil
}

func access(writable bool) string {
	if writable {
		return "(read-write)"
	}
	return "(read-only)"
}
