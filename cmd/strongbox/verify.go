package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/larkspurhq/strongbox/internal/runner"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <entry-name>",
	Short: "Verify an entry and its full predecessor chain against their integrity sidecars",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	r, err := runner.Open(cfg)
	if err != nil {
		return err
	}

	report, err := r.Verify(args[0])
	if err != nil {
		return err
	}

	if err := emitReport(report); err != nil {
		return err
	}
	if !report.OK {
		os.Exit(1)
	}
	return nil
}
