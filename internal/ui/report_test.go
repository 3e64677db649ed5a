package ui

import (
	"strings"
	"testing"

	"github.com/desertthunder/proxyauth/internal/proxy"
	"github.com/desertthunder/proxyauth/internal/shared"
)

func TestStatus(t *testing.T) {
	t.Run("config derived", func(t *testing.T) {
		out := Status(proxy.Status{Enabled: true, State: "unconfigured", TotalProxies: 3, EnabledProxies: 2})
		for _, want := range []string{"Proxy status", "2 enabled of 3", "no session created"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}
	})

	t.Run("active with location", func(t *testing.T) {
		out := Status(proxy.Status{
			Enabled: true, State: "active", SessionCreated: true,
			ActiveProxy: "nl-1", ProxyType: "http", ProxyHost: "proxy.test", ProxyPort: 8080,
			LocationMasking: true,
			LocationInfo:    &proxy.LocationInfo{IP: "203.0.113.1", Country: "Netherlands"},
		})
		for _, want := range []string{"nl-1 (http://proxy.test:8080)", "203.0.113.1", "Netherlands"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}
		if strings.Contains(out, "no session created") {
			t.Error("unexpected config note")
		}
	})
}

func TestLocation(t *testing.T) {
	out := Location(false, proxy.LocationInfo{IP: "1.2.3.4", DirectIP: "1.2.3.4", Error: "proxy not working - same IP detected"})
	if !strings.Contains(out, "same IP detected") {
		t.Errorf("expected reason in output:\n%s", out)
	}
	if strings.Contains(out, "not a guarantee") {
		t.Error("caveat only applies to positive results")
	}
}

func TestProbes(t *testing.T) {
	out := Probes(map[string]proxy.ProbeResult{
		"b": {Err: "connection refused"},
		"a": {OK: true, LatencyMS: 42},
	})
	okAt, failAt := strings.Index(out, "42ms"), strings.Index(out, "connection refused")
	if okAt < 0 || failAt < 0 {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if okAt > failAt {
		t.Error("expected results sorted by name")
	}

	if !strings.Contains(Probes(nil), "no enabled endpoints") {
		t.Error("expected empty notice")
	}
}

func TestEndpoints(t *testing.T) {
	off := false
	e, err := proxy.NewEndpoint(shared.EndpointConfig{
		Name: "secret", Host: "proxy.test", Port: 3128, Type: "http", Username: "u", Password: "hunter2", Enabled: &off,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := Endpoints([]*proxy.Endpoint{e})
	if strings.Contains(out, "hunter2") {
		t.Errorf("password leaked:\n%s", out)
	}
	if !strings.Contains(out, "(disabled)") || !strings.Contains(out, "proxy.test:3128") {
		t.Errorf("unexpected output:\n%s", out)
	}
}
