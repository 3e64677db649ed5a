package session

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/proxyauth/internal/proxy"
	"github.com/desertthunder/proxyauth/internal/shared"
	tu "github.com/desertthunder/proxyauth/internal/testing"
	"golang.org/x/oauth2"
)

func staticProber(ok bool) proxy.Prober {
	return func(context.Context, *proxy.Endpoint, time.Duration, []string) proxy.ProbeResult {
		if ok {
			return proxy.ProbeResult{OK: true, LatencyMS: 5}
		}
		return proxy.ProbeResult{Err: "connection refused"}
	}
}

// proxiedSetup places the fake service behind a forward proxy double and routes a session through it.
func proxiedSetup(t *testing.T, reachable bool) (*Facade, *tu.ForwardProxy, *fakeService) {
	t.Helper()
	fs := &fakeService{}
	fwd := tu.NewForwardProxy(t, fs.handler())
	router := routerVia(t, fwd, staticProber(reachable), "nl-1")
	sess := New(serviceConfig("http://api.test"), Direct(time.Second), nil)
	return NewFacade(sess, router, nil), fwd, fs
}

// routerVia builds a router whose endpoints, in priority order, all point at fwd.
func routerVia(t *testing.T, fwd *tu.ForwardProxy, prober proxy.Prober, names ...string) *proxy.Router {
	t.Helper()
	s := proxy.DefaultSettings()
	s.Enabled = true
	s.ProbeRate = 0
	s.MaxRetries = 0
	s.RetryBackoffFactor = 0
	s.RequestTimeout = 5 * time.Second
	s.IPEchoURL = "http://api.test/ip"
	s.CurrentIPURL = "http://api.test/ip"
	s.GeoURLs = nil
	for i, name := range names {
		s.Endpoints = append(s.Endpoints, shared.EndpointConfig{
			Name: name, Host: fwd.Host(), Port: fwd.Port(), Type: "http", Username: "u", Password: "p", Priority: i + 1,
		})
	}
	pool, err := proxy.NewPool(s)
	if err != nil {
		t.Fatalf("failed to build pool: %v", err)
	}
	return proxy.NewRouter(pool, proxy.RouterOpts{
		Prober:       prober,
		DirectClient: &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("offline"))},
	})
}

func TestLoginWithProxyPreference(t *testing.T) {
	t.Run("routes the whole flow through the proxy", func(t *testing.T) {
		f, fwd, _ := proxiedSetup(t, true)

		var printed []string
		if err := f.LoginWithProxyPreference(context.Background(), func(msg string) { printed = append(printed, msg) }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !strings.HasSuffix(printed[0], "(via proxy: nl-1)") {
			t.Errorf("expected annotated link, got %q", printed[0])
		}
		if !f.Session().Transport().Proxied() {
			t.Error("expected a proxy-bound session")
		}
		if f.Session().SessionID() != "s-1" {
			t.Errorf("expected verified session, got %q", f.Session().SessionID())
		}

		var sawToken, sawSessions bool
		for _, u := range fwd.Requests() {
			sawToken = sawToken || strings.HasSuffix(u, "/v1/oauth2/token")
			sawSessions = sawSessions || strings.HasSuffix(u, "/v1/sessions")
		}
		if !sawToken || !sawSessions {
			t.Errorf("expected token and session requests via proxy, got %v", fwd.Requests())
		}
	})

	t.Run("fails when no endpoint answers", func(t *testing.T) {
		f, fwd, _ := proxiedSetup(t, false)

		err := f.LoginWithProxyPreference(context.Background(), func(string) {})
		if !errors.Is(err, shared.ErrRoutingUnavailable) {
			t.Fatalf("expected ErrRoutingUnavailable, got %v", err)
		}
		if f.Session().Token() != nil {
			t.Error("no token should be applied")
		}
		if len(fwd.Requests()) != 0 {
			t.Errorf("expected no traffic, got %v", fwd.Requests())
		}
	})

	t.Run("warns when the stale selection missed the connectivity test", func(t *testing.T) {
		fs := &fakeService{}
		fwd := tu.NewForwardProxy(t, fs.handler())
		var mu sync.Mutex
		calls := 0
		// The health refresh finds nothing healthy; the connectivity test then sees only nl-2 answer.
		prober := func(_ context.Context, e *proxy.Endpoint, _ time.Duration, _ []string) proxy.ProbeResult {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls > 2 && e.Name() == "nl-2" {
				return proxy.ProbeResult{OK: true, LatencyMS: 5}
			}
			return proxy.ProbeResult{Err: "connection refused"}
		}
		var logs bytes.Buffer
		sess := New(serviceConfig("http://api.test"), Direct(time.Second), nil)
		f := NewFacade(sess, routerVia(t, fwd, prober, "nl-1", "nl-2"), shared.NewLogger(&logs))

		var printed []string
		if err := f.LoginWithProxyPreference(context.Background(), func(msg string) { printed = append(printed, msg) }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasSuffix(printed[0], "(via proxy: nl-1)") {
			t.Errorf("expected the degraded selection to be used, got %q", printed[0])
		}
		out := logs.String()
		if !strings.Contains(out, "selected proxy did not answer the connectivity test") || !strings.Contains(out, "nl-2") {
			t.Errorf("expected a warning naming the answering endpoint, got %s", out)
		}
	})

	t.Run("without a router runs on the session transport", func(t *testing.T) {
		sess, _ := directSession(t)
		f := NewFacade(sess, nil, nil)

		var printed []string
		if err := f.LoginWithProxyPreference(context.Background(), func(msg string) { printed = append(printed, msg) }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(printed[0], "via proxy") {
			t.Errorf("unexpected annotation %q", printed[0])
		}
		if sess.Transport().Proxied() {
			t.Error("session should stay direct")
		}
	})
}

func TestLoginPKCEWithProxy(t *testing.T) {
	f, _, fs := proxiedSetup(t, true)

	var printed []string
	input := strings.NewReader("https://service.test/login/auth?code=CODE\n")
	if err := f.LoginPKCEWithProxy(context.Background(), func(msg string) { printed = append(printed, msg) }, input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if printed[0] != "READ CAREFULLY! (via proxy: nl-1)" {
		t.Errorf("unexpected first line %q", printed[0])
	}
	if fs.lastForm().Get("grant_type") != "authorization_code" {
		t.Errorf("unexpected last form %v", fs.lastForm())
	}
	if !f.Session().IsPKCE() {
		t.Error("expected pkce session")
	}
}

func TestRefreshWithProxyValidation(t *testing.T) {
	t.Run("unreachable pool still refreshes through the proxy", func(t *testing.T) {
		f, fwd, _ := proxiedSetup(t, false)
		ctx := context.Background()
		if err := f.EnableProxy(ctx, f.Router()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		f.Session().ApplyToken(&oauth2.Token{AccessToken: "a", RefreshToken: "r"})

		if err := f.RefreshWithProxyValidation(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.Session().Token().AccessToken != "refreshed" {
			t.Errorf("unexpected token %+v", f.Session().Token())
		}
		if n := len(fwd.Requests()); n != 1 {
			t.Errorf("expected the refresh to go through the proxy, got %d requests", n)
		}
	})

	t.Run("binds a fresh session before refreshing", func(t *testing.T) {
		f, fwd, _ := proxiedSetup(t, true)
		f.Session().ApplyToken(&oauth2.Token{AccessToken: "a", RefreshToken: "r"})

		if err := f.RefreshWithProxyValidation(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reqs := fwd.Requests(); len(reqs) != 1 || reqs[0] != "http://api.test/v1/oauth2/token" {
			t.Errorf("expected the refresh via the proxy, got %v", reqs)
		}
		if !f.Session().Transport().Proxied() {
			t.Error("expected a proxy-bound session")
		}
	})
}

func TestBindProxy(t *testing.T) {
	t.Run("moves a direct session onto the router", func(t *testing.T) {
		f, _, _ := proxiedSetup(t, true)
		if f.Session().Transport().Proxied() {
			t.Fatal("session should start direct")
		}
		if err := f.BindProxy(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !f.Session().Transport().Proxied() {
			t.Error("expected a proxy-bound session")
		}
	})

	t.Run("no selectable endpoint leaves the session untouched", func(t *testing.T) {
		f, _, _ := proxiedSetup(t, true)
		ctx := context.Background()
		if err := f.Router().Disable(ctx, "nl-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		before := f.Session().Transport()

		if err := f.BindProxy(ctx); !errors.Is(err, shared.ErrRoutingUnavailable) {
			t.Fatalf("expected ErrRoutingUnavailable, got %v", err)
		}
		if f.Session().Transport() != before {
			t.Error("transport should not change")
		}
	})

	t.Run("without a router is a no-op", func(t *testing.T) {
		sess, _ := directSession(t)
		if err := NewFacade(sess, nil, nil).BindProxy(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sess.Transport().Proxied() {
			t.Error("session should stay direct")
		}
	})
}

func TestToggleProxy(t *testing.T) {
	f, _, _ := proxiedSetup(t, true)
	ctx := context.Background()
	router := f.Router()
	f.Session().ApplyToken(&oauth2.Token{AccessToken: "keep", RefreshToken: "r"})

	f.DisableProxy()
	if f.Router() != nil || f.Session().Transport().Proxied() {
		t.Error("expected a direct session")
	}
	if f.ProxyStatus(ctx).Enabled {
		t.Error("status should be disabled without a router")
	}
	if len(f.TestConnectivity(ctx)) != 0 {
		t.Error("expected no results without a router")
	}

	if err := f.EnableProxy(ctx, router); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Session().Transport().Proxied() {
		t.Error("expected a proxy-bound session")
	}
	if f.Session().Token().AccessToken != "keep" {
		t.Error("credentials must survive toggling")
	}
	if res := f.TestConnectivity(ctx); !res["nl-1"].OK {
		t.Errorf("unexpected connectivity %v", res)
	}
}
