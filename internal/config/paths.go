package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "odavl"

// Config file name.
const configFileName = "config.toml"

// Names of the files persisted under the profile (data) directory.
const (
	vaultFileName = "credentials.enc"
	queueFileName = "offline-queue.json"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/odavl).
// On macOS, uses ~/Library/Application Support/odavl per Apple guidelines.
// Other platforms fall back to ~/.config/odavl.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// linuxConfigDir returns the XDG-compliant config directory for Linux.
func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the platform-specific profile directory for
// application data (the encrypted credential vault and the offline queue).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/odavl).
// On macOS, uses ~/Library/Application Support/odavl (macOS convention
// collapses config and data into one directory).
//
// One client process per profile directory is assumed. There is no
// cross-process locking; concurrent processes sharing a profile directory
// are a caller responsibility.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// linuxDataDir returns the XDG-compliant data directory for Linux.
func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the full path of the config file.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), configFileName)
}

// VaultPath returns the path of the encrypted credentials file under dataDir.
func VaultPath(dataDir string) string {
	return filepath.Join(dataDir, vaultFileName)
}

// QueuePath returns the path of the offline queue file under dataDir.
func QueuePath(dataDir string) string {
	return filepath.Join(dataDir, queueFileName)
}
