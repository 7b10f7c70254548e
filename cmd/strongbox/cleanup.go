package main

import (
	"github.com/spf13/cobra"

	"github.com/larkspurhq/strongbox/internal/runner"
)

var (
	cleanupDays   int
	cleanupDryRun bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove backup entries older than the retention window",
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "override the configured retention window (0 = use config's keep_days)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be deleted without deleting anything")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	r, err := runner.Open(cfg)
	if err != nil {
		return err
	}

	report, err := r.Cleanup(cleanupDays, cleanupDryRun)
	if err != nil {
		return err
	}

	return emitReport(report)
}
