package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard paths for agentvaultd's own process state,
// distinct from the vault itself (which is user data rooted at VAULT_PATH).
type Paths struct {
	Data  string // ~/.local/share/agentvaultd
	Cache string // ~/.cache/agentvaultd
	State string // ~/.local/state/agentvaultd
}

// GetPaths returns the standard paths for agentvaultd's process state.
func GetPaths() *Paths {
	return &Paths{
		Data:  filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "agentvaultd"),
		Cache: filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), "agentvaultd"),
		State: filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), "agentvaultd"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}
