package main

import (
	"github.com/spf13/cobra"

	"github.com/larkspurhq/strongbox/internal/runner"
)

var (
	restorePasswordStdin bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore <entry-name> <destination>",
	Short: "Restore a backup entry's predecessor chain into a destination directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runRestoreBackup,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().BoolVarP(&restorePasswordStdin, "password-stdin", "P", false, "read the restore password from stdin instead of prompting")
}

func runRestoreBackup(cmd *cobra.Command, args []string) error {
	entryName, destination := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	r, err := runner.Open(cfg)
	if err != nil {
		return err
	}

	var password []byte
	if restorePasswordStdin {
		pw, err := readPasswordFromStdin()
		if err != nil {
			return err
		}
		password = []byte(pw)
	} else {
		pw, err := readPasswordSecure("Password (leave blank if this entry is unencrypted): ")
		if err != nil {
			return err
		}
		if pw != "" {
			password = []byte(pw)
		}
	}

	ctx, cancel := newCancellableContext()
	defer cancel()

	report, err := r.RestoreBackup(ctx, runner.RestoreRequest{
		EntryName:   entryName,
		Destination: destination,
		Password:    password,
		Sink:        reporterSink(),
	})
	if err != nil {
		return err
	}

	return emitReport(report)
}
