package proxy

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/desertthunder/proxyauth/internal/shared"
)

// Default diagnostic targets.
var (
	DefaultEchoURLs = []string{
		"https://httpbin.org/ip",
		"https://api.ipify.org?format=json",
		"https://ifconfig.me/ip",
	}
	DefaultGeoURLs = []string{
		"https://ipapi.co/%s/json/",
		"http://ip-api.com/json/%s",
		"https://freegeoip.app/json/%s",
	}
)

const (
	DefaultIPEchoURL    = "https://httpbin.org/ip"
	DefaultCurrentIPURL = "https://api.ipify.org?format=json"
	DefaultUserAgent    = "TIDAL-Desktop/2.34.0 (Windows NT 10.0; Win64; x64)"
)

// Settings is pool-wide proxy policy.
type Settings struct {
	Enabled             bool
	AutoFailover        bool
	TestTimeout         time.Duration
	HealthCheckInterval time.Duration
	RequestTimeout      time.Duration
	MaxRetries          int
	RetryBackoffFactor  float64
	// ProbeRate limits probes per second during refreshes; zero disables pacing.
	ProbeRate    float64
	EchoURLs     []string
	IPEchoURL    string
	CurrentIPURL string
	// GeoURLs are fmt templates taking the IP to locate.
	GeoURLs   []string
	UserAgent string
	Endpoints []shared.EndpointConfig
}

// DefaultSettings mirrors the embedded example config.
func DefaultSettings() Settings {
	return Settings{
		AutoFailover:        true,
		TestTimeout:         10 * time.Second,
		HealthCheckInterval: 5 * time.Minute,
		RequestTimeout:      45 * time.Second,
		MaxRetries:          3,
		RetryBackoffFactor:  1.0,
		ProbeRate:           5,
		EchoURLs:            slices.Clone(DefaultEchoURLs),
		IPEchoURL:           DefaultIPEchoURL,
		CurrentIPURL:        DefaultCurrentIPURL,
		GeoURLs:             slices.Clone(DefaultGeoURLs),
		UserAgent:           DefaultUserAgent,
	}
}

// SettingsFromConfig converts the TOML proxy section, falling back to defaults for zero values.
func SettingsFromConfig(cfg *shared.Config) Settings {
	s := DefaultSettings()
	p := cfg.Proxy

	s.Enabled = p.Enabled
	s.AutoFailover = p.AutoFailover
	if p.TestTimeout > 0 {
		s.TestTimeout = time.Duration(p.TestTimeout) * time.Second
	}
	if p.HealthCheckInterval > 0 {
		s.HealthCheckInterval = time.Duration(p.HealthCheckInterval) * time.Second
	}
	if p.RequestTimeout > 0 {
		s.RequestTimeout = time.Duration(p.RequestTimeout) * time.Second
	}
	if p.MaxRetries >= 0 {
		s.MaxRetries = p.MaxRetries
	}
	if p.RetryBackoffFactor >= 0 {
		s.RetryBackoffFactor = p.RetryBackoffFactor
	}
	if p.ProbeRate >= 0 {
		s.ProbeRate = p.ProbeRate
	}
	if len(p.EchoURLs) > 0 {
		s.EchoURLs = slices.Clone(p.EchoURLs)
	}
	if p.IPEchoURL != "" {
		s.IPEchoURL = p.IPEchoURL
	}
	if p.CurrentIPURL != "" {
		s.CurrentIPURL = p.CurrentIPURL
	}
	if len(p.GeoURLs) > 0 {
		s.GeoURLs = slices.Clone(p.GeoURLs)
	}
	if cfg.Service.UserAgent != "" {
		s.UserAgent = cfg.Service.UserAgent
	}
	s.Endpoints = slices.Clone(p.Endpoints)
	return s
}

// Pool is the configured set of endpoints plus [Settings].
//
// Endpoint names are expected to be unique; [Pool.Add] rejects duplicates.
type Pool struct {
	settings  Settings
	mu        sync.RWMutex
	endpoints []*Endpoint
}

// NewPool validates every configured endpoint, failing on the first invalid one.
func NewPool(s Settings) (*Pool, error) {
	p := &Pool{settings: s}
	for i, cfg := range s.Endpoints {
		e, err := NewEndpoint(cfg)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d (%s): %w", i, cfg.Name, err)
		}
		p.endpoints = append(p.endpoints, e)
	}
	p.settings.Endpoints = nil
	return p, nil
}

func (p *Pool) Settings() Settings { return p.settings }
func (p *Pool) Enabled() bool      { return p.settings.Enabled }

// Len counts all endpoints, enabled or not.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.endpoints)
}

// Endpoints returns the endpoints in configuration order.
func (p *Pool) Endpoints() []*Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.endpoints)
}

// EnabledEndpoints returns enabled endpoints ordered by ascending priority, ties kept in configuration order.
func (p *Pool) EnabledEndpoints() []*Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Endpoint, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		if e.Enabled() {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b *Endpoint) int { return a.priority - b.priority })
	return out
}

func (p *Pool) EnabledCount() int {
	return len(p.EnabledEndpoints())
}

// Lookup finds an endpoint by name.
func (p *Pool) Lookup(name string) (*Endpoint, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.endpoints {
		if e.name == name {
			return e, true
		}
	}
	return nil, false
}

// Add appends e to the pool.
func (p *Pool) Add(e *Endpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.endpoints {
		if existing.name == e.name {
			return fmt.Errorf("%w: %s", shared.ErrDuplicateEndpoint, e.name)
		}
	}
	p.endpoints = append(p.endpoints, e)
	return nil
}

// Remove deletes the named endpoint and reports whether it existed.
func (p *Pool) Remove(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.endpoints {
		if e.name == name {
			p.endpoints = slices.Delete(p.endpoints, i, i+1)
			return true
		}
	}
	return false
}
