package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths follow the XDG Base Directory Specification. IMBROKER_CONFIG_DIR
// and IMBROKER_STATE_DIR override them.

// ConfigDir returns the directory holding the configuration file.
func ConfigDir() string {
	if dir := os.Getenv("IMBROKER_CONFIG_DIR"); dir != "" {
		return dir
	}
	// XDG_CONFIG_HOME or ~/.config
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "imbroker")
	}
	return filepath.Join(homeDir(), ".config", "imbroker")
}

// StateDir returns the directory for logs and other runtime state.
func StateDir() string {
	if dir := os.Getenv("IMBROKER_STATE_DIR"); dir != "" {
		return dir
	}
	// XDG_STATE_HOME or ~/.local/state
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		return filepath.Join(xdgState, "imbroker")
	}
	return filepath.Join(homeDir(), ".local", "state", "imbroker")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		if runtime.GOOS == "windows" {
			return os.TempDir()
		}
		return "/tmp"
	}
	return home
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// SupportedConfigFormats lists the recognised configuration extensions.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	// Search order:
	// 1. Current directory
	// 2. Config directory
	searchDirs := []string{
		".",
		ConfigDir(),
	}

	for _, dir := range searchDirs {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	return ""
}
