package shared

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Log     LogConfig     `toml:"log"`
	Proxy   ProxyConfig   `toml:"proxy"`
	Auth    AuthConfig    `toml:"auth"`
	Service ServiceConfig `toml:"service"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// ProxyConfig contains pool-wide proxy policy and the configured endpoints.
//
// Durations are whole seconds.
type ProxyConfig struct {
	Enabled             bool             `toml:"enabled"`
	AutoFailover        bool             `toml:"auto_failover"`
	TestTimeout         int              `toml:"test_timeout"`
	HealthCheckInterval int              `toml:"health_check_interval"`
	RequestTimeout      int              `toml:"request_timeout"`
	MaxRetries          int              `toml:"max_retries"`
	RetryBackoffFactor  float64          `toml:"retry_backoff_factor"`
	ProbeRate           float64          `toml:"probe_rate"`
	EchoURLs            []string         `toml:"echo_urls"`
	IPEchoURL           string           `toml:"ip_echo_url"`
	CurrentIPURL        string           `toml:"current_ip_url"`
	GeoURLs             []string         `toml:"geo_urls"`
	Endpoints           []EndpointConfig `toml:"endpoints"`
}

// EndpointConfig describes one forward proxy.
type EndpointConfig struct {
	Name      string   `toml:"name"`
	Host      string   `toml:"host"`
	Port      int      `toml:"port"`
	Type      string   `toml:"type"`
	Username  string   `toml:"username"`
	Password  string   `toml:"password"`
	Protocols []string `toml:"protocols"`
	Enabled   *bool    `toml:"enabled"`
	Priority  int      `toml:"priority"`
}

// IsEnabled reports the endpoint's enabled flag, which defaults to true when omitted.
func (e EndpointConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// AuthConfig contains settings for the local callback login flow.
type AuthConfig struct {
	UseLocalServer  bool   `toml:"use_local_server"`
	LocalServerHost string `toml:"local_server_host"`
	LocalServerPort int    `toml:"local_server_port"`
	AuthTimeout     int    `toml:"auth_timeout"`
	BrowserAutoOpen bool   `toml:"browser_auto_open"`
	TokenPath       string `toml:"token_path"`
}

// ServiceConfig contains the remote service's OAuth client and endpoints.
type ServiceConfig struct {
	ClientID        string   `toml:"client_id"`
	ClientSecret    string   `toml:"client_secret"`
	AuthURL         string   `toml:"auth_url"`
	APIURL          string   `toml:"api_url"`
	Scopes          []string `toml:"scopes"`
	PKCERedirectURI string   `toml:"pkce_redirect_uri"`
	UserAgent       string   `toml:"user_agent"`
}

// EnabledEndpoints counts endpoints whose enabled flag is set.
func (p ProxyConfig) EnabledEndpoints() int {
	n := 0
	for _, e := range p.Endpoints {
		if e.IsEnabled() {
			n++
		}
	}
	return n
}

// LoadConfig reads a TOML configuration file from the specified path and overlays it on [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if _, err := toml.Decode(string(data), config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig writes the configuration back to path as TOML.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// May contain proxy passwords and the client secret.
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
