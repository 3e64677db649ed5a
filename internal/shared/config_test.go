package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Proxy.Enabled {
			t.Error("expected proxy to be disabled by default")
		}
		if !config.Proxy.AutoFailover {
			t.Error("expected auto_failover to default to true")
		}
		if config.Proxy.HealthCheckInterval != 300 {
			t.Errorf("expected health check interval 300, got %d", config.Proxy.HealthCheckInterval)
		}
		if len(config.Proxy.EchoURLs) < 2 {
			t.Errorf("expected at least two echo URLs, got %d", len(config.Proxy.EchoURLs))
		}
		if config.Auth.LocalServerPort != 8080 {
			t.Errorf("expected local server port 8080, got %d", config.Auth.LocalServerPort)
		}
		if config.Service.AuthURL != "https://auth.tidal.com/v1/oauth2" {
			t.Errorf("unexpected auth url %s", config.Service.AuthURL)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.Auth.TokenPath != DefaultConfig().Auth.TokenPath {
			t.Errorf("created config token path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[proxy]
enabled = true
auto_failover = false
max_retries = 5

[[proxy.endpoints]]
name = "primary"
host = "proxy.example.com"
port = 8443
type = "https"
username = "user@domain"
password = "p@ss"
priority = 1

[[proxy.endpoints]]
name = "backup"
host = "10.0.0.2"
port = 1080
type = "socks5"
enabled = false
priority = 2

[service]
client_id = "test_client_id"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if !config.Proxy.Enabled || config.Proxy.AutoFailover {
			t.Errorf("expected enabled=true auto_failover=false, got %v %v", config.Proxy.Enabled, config.Proxy.AutoFailover)
		}
		if config.Proxy.MaxRetries != 5 {
			t.Errorf("expected max_retries 5, got %d", config.Proxy.MaxRetries)
		}
		if config.Proxy.HealthCheckInterval != 300 {
			t.Errorf("expected default health check interval to survive overlay, got %d", config.Proxy.HealthCheckInterval)
		}
		if len(config.Proxy.Endpoints) != 2 {
			t.Fatalf("expected 2 endpoints, got %d", len(config.Proxy.Endpoints))
		}
		if !config.Proxy.Endpoints[0].IsEnabled() {
			t.Error("endpoint without enabled key should default to enabled")
		}
		if config.Proxy.Endpoints[1].IsEnabled() {
			t.Error("endpoint with enabled = false should be disabled")
		}
		if config.Proxy.EnabledEndpoints() != 1 {
			t.Errorf("expected 1 enabled endpoint, got %d", config.Proxy.EnabledEndpoints())
		}
		if config.Service.ClientID != "test_client_id" {
			t.Errorf("expected client_id test_client_id, got %s", config.Service.ClientID)
		}
	})

	t.Run("LoadConfig Invalid", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[proxy\nenabled = "), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		_, err := LoadConfig(configPath)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("LoadConfig Missing", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
		if !errors.Is(err, ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})

	t.Run("SaveConfig", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		config := DefaultConfig()
		config.Proxy.Enabled = true
		config.Proxy.Endpoints = []EndpointConfig{{Name: "one", Host: "proxy.test", Port: 8080, Type: "http"}}

		if err := SaveConfig(configPath, config); err != nil {
			t.Fatalf("failed to save config: %v", err)
		}

		loaded, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to reload config: %v", err)
		}
		if !loaded.Proxy.Enabled || len(loaded.Proxy.Endpoints) != 1 {
			t.Errorf("saved config did not round trip: %+v", loaded.Proxy)
		}
	})
}

func TestApplyEnv(t *testing.T) {
	t.Run("overrides from environment", func(t *testing.T) {
		t.Setenv(EnvClientID, "env_client")
		t.Setenv(EnvClientSecret, "env_secret")
		t.Setenv(EnvProxyEnabled, "true")

		config := DefaultConfig()
		if err := ApplyEnv(config, filepath.Join(t.TempDir(), "missing.env")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if config.Service.ClientID != "env_client" || config.Service.ClientSecret != "env_secret" {
			t.Errorf("expected env credentials, got %q %q", config.Service.ClientID, config.Service.ClientSecret)
		}
		if !config.Proxy.Enabled {
			t.Error("expected proxy to be enabled from env")
		}
	})

	t.Run("loads dotenv file", func(t *testing.T) {
		t.Setenv(EnvLogLevel, "")
		envPath := filepath.Join(t.TempDir(), ".env")
		if err := os.WriteFile(envPath, []byte(EnvLogLevel+"=debug\n"), 0600); err != nil {
			t.Fatalf("failed to write env file: %v", err)
		}
		os.Unsetenv(EnvLogLevel)

		config := DefaultConfig()
		if err := ApplyEnv(config, envPath); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.Log.Level != "debug" {
			t.Errorf("expected log level debug, got %s", config.Log.Level)
		}
	})
}
