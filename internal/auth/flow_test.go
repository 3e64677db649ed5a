package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/proxyauth/internal/proxy"
	"github.com/desertthunder/proxyauth/internal/server"
	"github.com/desertthunder/proxyauth/internal/session"
	"github.com/desertthunder/proxyauth/internal/shared"
	tu "github.com/desertthunder/proxyauth/internal/testing"
)

// tokenService is a token endpoint double that records exchange forms.
type tokenService struct {
	mu    sync.Mutex
	forms []url.Values
}

func (s *tokenService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/token") {
		http.NotFound(w, r)
		return
	}
	r.ParseForm()
	s.mu.Lock()
	s.forms = append(s.forms, r.PostForm)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.PostForm.Get("code") != "CODE" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": "access", "refresh_token": "refresh", "token_type": "Bearer", "expires_in": 7200,
	})
}

func (s *tokenService) lastForm() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.forms) == 0 {
		return nil
	}
	return s.forms[len(s.forms)-1]
}

var plainClient = &http.Client{Transport: &http.Transport{}, Timeout: 5 * time.Second}

// deliver plays the browser: it follows the authorization URL's redirect_uri with the given query.
func deliver(t *testing.T, authURL string, query func(state string) url.Values) {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Errorf("bad authorization url %q: %v", authURL, err)
		return
	}
	q := u.Query()
	target := q.Get("redirect_uri") + "?" + query(q.Get("state")).Encode()
	resp, err := plainClient.Get(target)
	if err != nil {
		t.Errorf("callback delivery failed: %v", err)
		return
	}
	resp.Body.Close()
}

func withCode(code string) func(string) url.Values {
	return func(state string) url.Values {
		return url.Values{"code": {code}, "state": {state}}
	}
}

func proxiedRouter(t *testing.T, upstream http.Handler) (*proxy.Router, *tu.ForwardProxy) {
	t.Helper()
	fwd := tu.NewForwardProxy(t, upstream)
	s := proxy.DefaultSettings()
	s.Enabled = true
	s.ProbeRate = 0
	s.MaxRetries = 0
	s.RetryBackoffFactor = 0
	s.RequestTimeout = 5 * time.Second
	s.Endpoints = []shared.EndpointConfig{{Name: "nl-1", Host: fwd.Host(), Port: fwd.Port(), Type: "http", Priority: 1}}
	pool, err := proxy.NewPool(s)
	if err != nil {
		t.Fatalf("failed to build pool: %v", err)
	}
	router := proxy.NewRouter(pool, proxy.RouterOpts{
		Prober: func(context.Context, *proxy.Endpoint, time.Duration, []string) proxy.ProbeResult {
			return proxy.ProbeResult{OK: true}
		},
	})
	return router, fwd
}

func service() shared.ServiceConfig {
	return shared.ServiceConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      "http://auth.test/v1/oauth2",
		APIURL:       "http://api.test/v1",
		Scopes:       []string{"r_usr"},
	}
}

func TestRun(t *testing.T) {
	t.Run("times out without a callback", func(t *testing.T) {
		srv := server.NewCallbackServer("127.0.0.1", 0, nil)
		fc := NewFlowController(nil, FlowOpts{Server: srv, Service: service(), Timeout: time.Second})
		sess := session.New(service(), nil, nil)

		start := time.Now()
		err := fc.Run(context.Background(), sess)
		elapsed := time.Since(start)

		if !errors.Is(err, shared.ErrAuthTimeout) {
			t.Fatalf("expected ErrAuthTimeout, got %v", err)
		}
		if elapsed < time.Second || elapsed > 2500*time.Millisecond {
			t.Errorf("expected to return after about a second, took %s", elapsed)
		}
		if srv.Running() {
			t.Error("server should be stopped")
		}
		if sess.Token() != nil {
			t.Error("no token should be applied")
		}
	})

	t.Run("caller cancellation ends the wait", func(t *testing.T) {
		srv := server.NewCallbackServer("127.0.0.1", 0, nil)
		fc := NewFlowController(nil, FlowOpts{Server: srv, Service: service(), Timeout: time.Minute})

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		if err := fc.Run(ctx, session.New(service(), nil, nil)); !errors.Is(err, shared.ErrAuthTimeout) {
			t.Errorf("expected ErrAuthTimeout, got %v", err)
		}
		if srv.Running() {
			t.Error("server should be stopped")
		}
	})

	t.Run("exchanges the code through the proxy", func(t *testing.T) {
		tokens := &tokenService{}
		router, fwd := proxiedRouter(t, tokens)
		srv := server.NewCallbackServer("127.0.0.1", 0, nil)

		var printed []string
		fc := NewFlowController(router, FlowOpts{
			Server:   srv,
			Service:  service(),
			Timeout:  5 * time.Second,
			AutoOpen: true,
			OpenBrowser: func(u string) error {
				deliver(t, u, withCode("CODE"))
				return nil
			},
			Print: func(msg string) { printed = append(printed, msg) },
		})
		sess := session.New(service(), nil, nil)

		if err := fc.Run(context.Background(), sess); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		tok := sess.Token()
		if tok == nil || tok.AccessToken != "access" || tok.RefreshToken != "refresh" {
			t.Fatalf("unexpected token %+v", tok)
		}
		if until := time.Until(tok.Expiry); until < time.Hour || until > 2*time.Hour {
			t.Errorf("expected expiry from expires_in, got %s", until)
		}
		if !sess.Transport().Proxied() {
			t.Error("session should stay on the proxy path")
		}

		form := tokens.lastForm()
		if form.Get("grant_type") != "authorization_code" || form.Get("client_secret") != "secret" {
			t.Errorf("unexpected exchange form %v", form)
		}
		if !strings.HasPrefix(form.Get("redirect_uri"), "http://127.0.0.1:") || !strings.HasSuffix(form.Get("redirect_uri"), "/callback") {
			t.Errorf("unexpected redirect_uri %q", form.Get("redirect_uri"))
		}
		if reqs := fwd.Requests(); len(reqs) != 1 || reqs[0] != "http://auth.test/v1/oauth2/token" {
			t.Errorf("expected the exchange via proxy, got %v", reqs)
		}
		if len(printed) != 1 || !strings.Contains(printed[0], "Opened your browser") {
			t.Errorf("unexpected output %v", printed)
		}
		if srv.Running() {
			t.Error("server should be stopped")
		}
	})

	t.Run("prints the url when the browser fails", func(t *testing.T) {
		tokens := &tokenService{}
		router, _ := proxiedRouter(t, tokens)

		var printed []string
		fc := NewFlowController(router, FlowOpts{
			Server:      server.NewCallbackServer("127.0.0.1", 0, nil),
			Service:     service(),
			Timeout:     5 * time.Second,
			AutoOpen:    true,
			OpenBrowser: func(string) error { return errors.New("no display") },
		})
		fc.print = func(msg string) {
			printed = append(printed, msg)
			if strings.HasPrefix(msg, "http://auth.test/") {
				deliver(t, msg, withCode("CODE"))
			}
		}

		if err := fc.Run(context.Background(), session.New(service(), nil, nil)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		authURL, err := url.Parse(printed[len(printed)-1])
		if err != nil {
			t.Fatalf("bad url: %v", err)
		}
		q := authURL.Query()
		if authURL.Path != "/v1/oauth2/authorize" || q.Get("response_type") != "code" || q.Get("client_id") != "client" || q.Get("scope") != "r_usr" {
			t.Errorf("unexpected authorization url %s", authURL)
		}
		if len(q.Get("state")) < 43 {
			t.Errorf("state too short: %q", q.Get("state"))
		}
	})

	t.Run("provider error", func(t *testing.T) {
		tokens := &tokenService{}
		router, _ := proxiedRouter(t, tokens)
		fc := NewFlowController(router, FlowOpts{
			Server:   server.NewCallbackServer("127.0.0.1", 0, nil),
			Service:  service(),
			Timeout:  5 * time.Second,
			AutoOpen: true,
			OpenBrowser: func(u string) error {
				deliver(t, u, func(state string) url.Values {
					return url.Values{"error": {"access_denied"}, "error_description": {"user said no"}, "state": {state}}
				})
				return nil
			},
		})
		sess := session.New(service(), nil, nil)

		err := fc.Run(context.Background(), sess)
		if !errors.Is(err, shared.ErrAuthFailed) || !strings.Contains(err.Error(), "access_denied") {
			t.Fatalf("expected ErrAuthFailed, got %v", err)
		}
		if sess.Token() != nil || tokens.lastForm() != nil {
			t.Error("no exchange should happen")
		}
	})

	t.Run("rejected code", func(t *testing.T) {
		tokens := &tokenService{}
		router, _ := proxiedRouter(t, tokens)
		fc := NewFlowController(router, FlowOpts{
			Server:   server.NewCallbackServer("127.0.0.1", 0, nil),
			Service:  service(),
			Timeout:  5 * time.Second,
			AutoOpen: true,
			OpenBrowser: func(u string) error {
				deliver(t, u, withCode("WRONG"))
				return nil
			},
		})
		sess := session.New(service(), nil, nil)

		if err := fc.Run(context.Background(), sess); !errors.Is(err, shared.ErrTokenExchange) {
			t.Fatalf("expected ErrTokenExchange, got %v", err)
		}
		if sess.Token() != nil {
			t.Error("no token should be applied")
		}
	})

	t.Run("missing client id fails before the server starts", func(t *testing.T) {
		svc := service()
		svc.ClientID = ""
		srv := server.NewCallbackServer("127.0.0.1", tu.FreePort(t), nil)
		fc := NewFlowController(nil, FlowOpts{Server: srv, Service: svc})

		err := fc.Run(context.Background(), session.New(svc, nil, nil))
		if !errors.Is(err, shared.ErrMissingCredentials) {
			t.Fatalf("expected ErrMissingCredentials, got %v", err)
		}
		if srv.Running() {
			t.Error("callback server should not be running")
		}
	})

	t.Run("busy port fails before any network call", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("failed to listen: %v", err)
		}
		defer ln.Close()
		port, _ := strconv.Atoi(strings.TrimPrefix(ln.Addr().String(), "127.0.0.1:"))

		router, fwd := proxiedRouter(t, &tokenService{})
		opened := false
		fc := NewFlowController(router, FlowOpts{
			Server:      server.NewCallbackServer("127.0.0.1", port, nil),
			Service:     service(),
			AutoOpen:    true,
			OpenBrowser: func(string) error { opened = true; return nil },
		})

		err = fc.Run(context.Background(), session.New(service(), nil, nil))
		if !errors.Is(err, shared.ErrServerStart) {
			t.Fatalf("expected ErrServerStart, got %v", err)
		}
		if opened || len(fwd.Requests()) != 0 {
			t.Error("expected no browser hand-off and no traffic")
		}
		if router.Current().State != proxy.Unconfigured {
			t.Errorf("router should not have selected, got %s", router.Current().State)
		}
	})
}
