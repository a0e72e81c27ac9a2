package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755

	// DefaultConfigName is looked up in the working directory, then in ConfigDir
	DefaultConfigName = "searchmeter.yaml"
	// DefaultPluginsDir is the plugin directory relative to the working directory
	DefaultPluginsDir = "./plugins"
)

var (
	// ConfigDir is the global configuration directory (~/.searchmeter)
	ConfigDir string

	// DatabasePath is the SQLite database file for runs and observations
	DatabasePath string

	// LogPath is where the dashboard writes logs while it owns the terminal
	LogPath string

	// GlobalConfigFile is the fallback configuration file
	GlobalConfigFile string
)

// Initialize sets up the configuration directory.
// It creates ~/.searchmeter/ if it doesn't exist
func Initialize() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return InitializeAt(filepath.Join(homeDir, ".searchmeter"))
}

// InitializeAt is Initialize rooted at dir
func InitializeAt(dir string) error {
	ConfigDir = dir
	DatabasePath = filepath.Join(ConfigDir, "searchmeter.db")
	LogPath = filepath.Join(ConfigDir, "searchmeter.log")
	GlobalConfigFile = filepath.Join(ConfigDir, DefaultConfigName)

	if err := os.MkdirAll(ConfigDir, DirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", ConfigDir, err)
	}
	return nil
}

// LocalConfigExists checks if there's a searchmeter.yaml in the working directory
func LocalConfigExists() bool {
	_, err := os.Stat(DefaultConfigName)
	return err == nil
}

// ResolveConfigPath returns the configuration file to load. An explicit path always wins;
// otherwise the local file, then the global one. Empty means built-in defaults.
func ResolveConfigPath(explicit string) string {
	if explicit != "" {
		return ExpandHome(explicit)
	}
	if LocalConfigExists() {
		return DefaultConfigName
	}
	if GlobalConfigFile != "" {
		if _, err := os.Stat(GlobalConfigFile); err == nil {
			return GlobalConfigFile
		}
	}
	return ""
}

// ExpandHome expands a leading ~/ to the home directory
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}

// ResolveRelative makes path relative to the directory of the configuration file
func ResolveRelative(configPath, path string) string {
	if path == "" {
		return ""
	}
	path = ExpandHome(path)
	if filepath.IsAbs(path) || configPath == "" {
		return path
	}
	return filepath.Join(filepath.Dir(configPath), path)
}
