package shared

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override config values.
const (
	EnvClientID     = "PROXYAUTH_CLIENT_ID"
	EnvClientSecret = "PROXYAUTH_CLIENT_SECRET"
	EnvLogLevel     = "PROXYAUTH_LOG_LEVEL"
	EnvProxyEnabled = "PROXYAUTH_PROXY_ENABLED"
)

// ApplyEnv loads a .env file from the working directory when one exists and applies
// PROXYAUTH_* overrides to config, so secrets can stay out of config.toml.
func ApplyEnv(config *Config, files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return err
		}
	}

	if v := os.Getenv(EnvClientID); v != "" {
		config.Service.ClientID = v
	}
	if v := os.Getenv(EnvClientSecret); v != "" {
		config.Service.ClientSecret = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		config.Log.Level = v
	}
	if v := os.Getenv(EnvProxyEnabled); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Proxy.Enabled = b
		}
	}
	return nil
}
