package app

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	envConfigPath = "CUSTDOC_CONFIG_PATH"
	envHome       = "CUSTDOC_HOME"
)

// Defaults are the locations used when no config file says otherwise.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - CUSTDOC_CONFIG_PATH: config file location (default: ~/.config/custdoc.toml)
//   - CUSTDOC_HOME: base directory for local state (default: ~/.local/share/custdoc)
func GetDefaults() (*Defaults, error) {
	configPath := os.Getenv(envConfigPath)
	baseDir := os.Getenv(envHome)

	if configPath == "" || baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if configPath == "" {
			configPath = filepath.Join(homeDir, ".config", "custdoc.toml")
		}
		if baseDir == "" {
			baseDir = filepath.Join(homeDir, ".local", "share", "custdoc")
		}
	}

	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}
