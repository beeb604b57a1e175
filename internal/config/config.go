// Package config loads agentvaultd's runtime configuration from the
// environment, following the bundled sample vault when VAULT_PATH is unset.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server's runtime configuration, assembled once at boot.
type Config struct {
	Port              int
	Host              string
	VaultPath         string
	APIKey            string
	CORSOrigins       []string
	MaxMessageBytes   int
	MaxConcurrent     int
	QueueCapacity     int
	QueueRetainCount  int
	PermissionTimeout time.Duration
	SessionIdleWindow time.Duration
}

const (
	defaultPort              = 3333
	defaultHost              = ""
	defaultMaxMessageBytes   = 102_400
	defaultMaxConcurrent     = 1
	defaultQueueCapacity     = 100
	defaultQueueRetainCount  = 50
	defaultPermissionTimeout = 120 * time.Second
	defaultSessionIdleWindow = 30 * time.Minute
)

// Load reads configuration from environment variables, applying each
// knob's documented default when a variable is unset or unparsable.
func Load() *Config {
	cfg := &Config{
		Port:              defaultPort,
		Host:              defaultHost,
		VaultPath:         bundledSampleVault(),
		MaxMessageBytes:   defaultMaxMessageBytes,
		MaxConcurrent:     defaultMaxConcurrent,
		QueueCapacity:     defaultQueueCapacity,
		QueueRetainCount:  defaultQueueRetainCount,
		PermissionTimeout: defaultPermissionTimeout,
		SessionIdleWindow: defaultSessionIdleWindow,
	}

	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("VAULT_PATH"); v != "" {
		cfg.VaultPath = v
	}
	if v := os.Getenv("AGENTVAULT_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("AGENTVAULT_CORS_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
			}
		}
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if v := os.Getenv("AGENTVAULT_MAX_MESSAGE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxMessageBytes = n
		}
	}
	if v := os.Getenv("AGENTVAULT_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrent = n
		}
	}

	return cfg
}

// bundledSampleVault returns the default vault path when VAULT_PATH is unset:
// a "sample-vault" directory alongside the binary's working directory.
func bundledSampleVault() string {
	if wd, err := os.Getwd(); err == nil {
		return wd + "/sample-vault"
	}
	return "./sample-vault"
}
