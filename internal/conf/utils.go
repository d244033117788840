package conf

import (
	"os"
	"path/filepath"

	"github.com/tphakala/tricam/internal/errors"
)

const configFileName = "config.yaml"

// configDirs lists the directories searched for config.yaml, most specific
// first: $XDG_CONFIG_HOME/tricam (or ~/.config/tricam), then /etc/tricam.
// When one of them already holds a config file only that directory is
// returned, so the first entry is also where a default config gets written.
func configDirs() ([]string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.New(err).
				Category(errors.CategorySystem).
				Context("operation", "resolve-config-dir").
				Build()
		}
		base = filepath.Join(home, ".config")
	}

	dirs := []string{filepath.Join(base, "tricam"), "/etc/tricam"}
	for _, dir := range dirs {
		if _, err := os.Stat(filepath.Join(dir, configFileName)); err == nil {
			return []string{dir}, nil
		}
	}
	return dirs, nil
}
