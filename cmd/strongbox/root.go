package main

import (
	"context"

	"github.com/spf13/cobra"
)

// globalCancel cancels whichever use case is currently running, wired up
// by main's signal handler so Ctrl-C triggers the same cooperative
// cancellation path the pipeline and restore packages already support.
var globalCancel context.CancelFunc

var jsonOutput bool
var configPath string

var rootCmd = &cobra.Command{
	Use:   "strongbox",
	Short: "Local backup tool with encryption, compression, and integrity verification",
	Long: `strongbox takes path-safe, optionally encrypted and compressed backups of
local files and directories, with incremental backup chains, per-file
integrity sidecars, and age-based retention cleanup.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to strongbox config file (default: XDG config dir)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON instead of human-readable output")
}

// Execute runs the CLI; version is baked in from main's build-time var.
func Execute(v string) error {
	rootCmd.Version = v
	return rootCmd.Execute()
}

func newCancellableContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	globalCancel = cancel
	return ctx, cancel
}
