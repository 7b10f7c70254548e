// strongbox is a local backup tool: path-safe, optionally encrypted and
// compressed, with incremental chains, integrity verification, and
// retention cleanup. This binary is a thin cobra front end over
// internal/runner; nearly everything it does lives there.
//
// Copyright (c) strongbox developers
// Released under GPL-3.0-only
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time via -ldflags, defaulting to "dev" for
// local builds.
var version = "dev"

func main() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		if globalCancel != nil {
			globalCancel()
			fmt.Fprintln(os.Stderr, "\ncancelling...")
		} else {
			os.Exit(130)
		}
	}()

	if err := Execute(version); err != nil {
		os.Exit(1)
	}
}
