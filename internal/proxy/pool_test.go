package proxy

import (
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/proxyauth/internal/shared"
)

func disabled() *bool {
	v := false
	return &v
}

func TestPool(t *testing.T) {
	t.Run("NewPool fails fast on invalid endpoints", func(t *testing.T) {
		s := DefaultSettings()
		s.Endpoints = []shared.EndpointConfig{
			{Name: "ok", Host: "proxy.test", Port: 8080, Type: "http"},
			{Name: "bad", Host: "proxy.test", Port: 70000, Type: "http"},
		}
		if _, err := NewPool(s); !errors.Is(err, shared.ErrInvalidEndpoint) {
			t.Errorf("expected ErrInvalidEndpoint, got %v", err)
		}
	})

	t.Run("EnabledEndpoints orders by priority", func(t *testing.T) {
		s := DefaultSettings()
		s.Endpoints = []shared.EndpointConfig{
			{Name: "c", Host: "c.test", Port: 1, Type: "http", Priority: 3},
			{Name: "a", Host: "a.test", Port: 1, Type: "http", Priority: 1},
			{Name: "off", Host: "off.test", Port: 1, Type: "http", Priority: 0, Enabled: disabled()},
			{Name: "b1", Host: "b.test", Port: 1, Type: "http", Priority: 2},
			{Name: "b2", Host: "b.test", Port: 2, Type: "http", Priority: 2},
		}
		p, err := NewPool(s)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var names []string
		for _, e := range p.EnabledEndpoints() {
			names = append(names, e.Name())
		}
		want := []string{"a", "b1", "b2", "c"}
		if len(names) != len(want) {
			t.Fatalf("expected %v, got %v", want, names)
		}
		for i := range want {
			if names[i] != want[i] {
				t.Errorf("position %d: expected %s, got %s", i, want[i], names[i])
			}
		}
		if p.Len() != 5 || p.EnabledCount() != 4 {
			t.Errorf("expected 5 total and 4 enabled, got %d and %d", p.Len(), p.EnabledCount())
		}
	})

	t.Run("Add, Lookup and Remove", func(t *testing.T) {
		p, _ := NewPool(DefaultSettings())
		e, _ := NewEndpoint(shared.EndpointConfig{Name: "x", Host: "x.test", Port: 80, Type: "http"})

		if err := p.Add(e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := p.Add(e); !errors.Is(err, shared.ErrDuplicateEndpoint) {
			t.Errorf("expected ErrDuplicateEndpoint, got %v", err)
		}
		if got, ok := p.Lookup("x"); !ok || got != e {
			t.Error("expected to find endpoint x")
		}
		if !p.Remove("x") {
			t.Error("expected Remove to report success")
		}
		if p.Remove("x") {
			t.Error("removing twice should report false")
		}
		if p.Len() != 0 {
			t.Errorf("expected empty pool, got %d", p.Len())
		}
	})
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := shared.DefaultConfig()
	cfg.Proxy.Enabled = true
	cfg.Proxy.TestTimeout = 3
	cfg.Proxy.HealthCheckInterval = 60
	cfg.Proxy.EchoURLs = []string{"http://echo.test/ip"}
	cfg.Service.UserAgent = "agent/1.0"
	cfg.Proxy.Endpoints = []shared.EndpointConfig{{Host: "proxy.test", Port: 8080, Type: "http"}}

	s := SettingsFromConfig(cfg)
	if !s.Enabled {
		t.Error("expected enabled")
	}
	if s.TestTimeout != 3*time.Second {
		t.Errorf("expected 3s test timeout, got %s", s.TestTimeout)
	}
	if s.HealthCheckInterval != time.Minute {
		t.Errorf("expected 1m interval, got %s", s.HealthCheckInterval)
	}
	if len(s.EchoURLs) != 1 || s.EchoURLs[0] != "http://echo.test/ip" {
		t.Errorf("unexpected echo urls %v", s.EchoURLs)
	}
	if s.UserAgent != "agent/1.0" {
		t.Errorf("unexpected user agent %s", s.UserAgent)
	}
	if len(s.Endpoints) != 1 {
		t.Errorf("expected one endpoint, got %d", len(s.Endpoints))
	}
}
