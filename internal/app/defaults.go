package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// envDefaults are the locations that can be overridden from the environment.
type envDefaults struct {
	ConfigPath string `env:"INTEGRITY_CONFIG_PATH"`
	Home       string `env:"INTEGRITY_HOME"`
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - INTEGRITY_CONFIG_PATH: config file location (default: ~/.config/integrity.toml)
//   - INTEGRITY_HOME: base directory for ledger, backups and logs (default: ~/.local/share/integrity)
func GetDefaults() (map[string]string, error) {
	var d envDefaults
	if err := env.Parse(&d); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if d.ConfigPath == "" || d.Home == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if d.ConfigPath == "" {
			d.ConfigPath = filepath.Join(homeDir, ".config", "integrity.toml")
		}
		if d.Home == "" {
			d.Home = filepath.Join(homeDir, ".local", "share", "integrity")
		}
	}

	return map[string]string{
		"config_path": d.ConfigPath,
		"base_dir":    d.Home,
		"log_dir":     filepath.Join(d.Home, "log"),
	}, nil
}
