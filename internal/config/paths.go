// Package config provides configuration loading and path management.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the directories the bridge reads and writes. The
// bridge keeps no data, cache, or state trees of its own; settings
// live under Config and logs go wherever the log file setting points.
type Paths struct {
	Config string // ~/.config/zed-claude-code
}

const appDir = "zed-claude-code"

// GetPaths returns the standard paths for bridge data.
func GetPaths() *Paths {
	return &Paths{
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), appDir),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	return os.MkdirAll(p.Config, 0755)
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "config.json")
}

// ProjectConfigPath returns the path to the project config file.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, ".zed-claude-code.json")
}
