package main

import (
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/larkspurhq/strongbox/internal/config"
)

// defaultConfigPath mirrors config.Default's destination convention: a
// strongbox subdirectory of the user's XDG config home.
func defaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "strongbox", "config.toml")
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = defaultConfigPath()
	}
	return config.Load(path)
}
