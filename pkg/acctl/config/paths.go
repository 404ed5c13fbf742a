package config

import (
	"os"
	"path/filepath"
)

// PathEnv names a config file that replaces the default location.
const PathEnv = "ACCTL_CONFIG"

const configFileName = "config.yaml"

// Dir is where acctl keeps its profiles. Platforms without a user config
// directory get a dot directory in $HOME.
func Dir() string {
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, "acctl")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".acctl")
}

// DefaultConfigPath returns $ACCTL_CONFIG when set, else config.yaml in Dir.
func DefaultConfigPath() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return filepath.Join(Dir(), configFileName)
}
