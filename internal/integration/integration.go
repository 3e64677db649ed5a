// package integration is the single entry point the CLI uses for login, status and diagnostics.
package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/proxyauth/internal/auth"
	"github.com/desertthunder/proxyauth/internal/proxy"
	"github.com/desertthunder/proxyauth/internal/server"
	"github.com/desertthunder/proxyauth/internal/session"
	"github.com/desertthunder/proxyauth/internal/shared"
	"github.com/prometheus/client_golang/prometheus"
)

type Opts struct {
	Logger *log.Logger
	// Registry receives proxy metrics; nil disables them.
	Registry    prometheus.Registerer
	Prober      proxy.Prober
	OpenBrowser shared.BrowserOpener
	// Input supplies the pasted redirect URL for PKCE logins. Defaults to stdin.
	Input io.Reader
	// TokenPath overrides auth.token_path; empty with an empty config value disables persistence.
	TokenPath string
	// DirectClient performs the router's unrouted lookups.
	DirectClient *http.Client
}

// Integration composes the proxy router, service session and login flows from one [shared.Config].
type Integration struct {
	cfg       *shared.Config
	opts      Opts
	logger    *log.Logger
	tokenPath string

	mu      sync.Mutex
	facade  *session.Facade
	router  *proxy.Router
	metrics *proxy.Metrics
}

func New(cfg *shared.Config, opts Opts) *Integration {
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	tokenPath := opts.TokenPath
	if tokenPath == "" {
		tokenPath = cfg.Auth.TokenPath
	}
	return &Integration{
		cfg:       cfg,
		opts:      opts,
		logger:    shared.WithLogger(opts.Logger, "component", "integration"),
		tokenPath: tokenPath,
	}
}

// GetSession builds the router and session on first use and returns the same facade afterwards.
//
// Invalid endpoint configuration fails here, before any network call.
func (i *Integration) GetSession() (*session.Facade, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.facade != nil {
		return i.facade, nil
	}

	settings := proxy.SettingsFromConfig(i.cfg)
	sess := session.New(i.cfg.Service, session.Direct(settings.RequestTimeout), i.opts.Logger)

	if i.opts.Registry != nil && i.metrics == nil {
		i.metrics = proxy.NewMetrics(i.opts.Registry)
	}

	var router *proxy.Router
	if settings.Enabled {
		pool, err := proxy.NewPool(settings)
		if err != nil {
			return nil, err
		}
		router = proxy.NewRouter(pool, i.routerOpts())
		i.logger.Info("proxy routing configured", "endpoints", pool.Len(), "enabled", pool.EnabledCount())
	}

	i.router = router
	i.facade = session.NewFacade(sess, router, i.opts.Logger)
	return i.facade, nil
}

// HasSession reports whether [Integration.GetSession] has run.
func (i *Integration) HasSession() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.facade != nil
}

// LoginOAuth runs the device login, through the proxy when one is configured.
func (i *Integration) LoginOAuth(ctx context.Context, printFn session.PrintFunc) error {
	f, err := i.GetSession()
	if err != nil {
		return err
	}
	if err := f.LoginWithProxyPreference(ctx, printFn); err != nil {
		return err
	}
	return i.persist(f.Session())
}

// LoginPKCE runs the paste-the-redirect PKCE login, through the proxy when one is configured.
func (i *Integration) LoginPKCE(ctx context.Context, printFn session.PrintFunc) error {
	f, err := i.GetSession()
	if err != nil {
		return err
	}
	if err := f.LoginPKCEWithProxy(ctx, printFn, i.opts.Input); err != nil {
		return err
	}
	return i.persist(f.Session())
}

// LoginLocal runs the browser login against the local callback server.
func (i *Integration) LoginLocal(ctx context.Context, printFn session.PrintFunc) error {
	f, err := i.GetSession()
	if err != nil {
		return err
	}

	router := f.Router()
	if router != nil && router.Pool().Enabled() {
		if sel := router.SelectActive(ctx); !sel.Routed() {
			i.logger.Warn("no proxy selectable, using standard local login", "state", sel.State)
			router = nil
		} else if !anyOK(router.TestAll(ctx)) {
			return fmt.Errorf("%w: no working proxies available for local login", shared.ErrRoutingUnavailable)
		}
	} else {
		router = nil
	}

	a := i.cfg.Auth
	fc := auth.NewFlowController(router, auth.FlowOpts{
		Server:      server.NewCallbackServer(a.LocalServerHost, a.LocalServerPort, i.opts.Logger),
		Service:     i.cfg.Service,
		Timeout:     time.Duration(a.AuthTimeout) * time.Second,
		AutoOpen:    a.BrowserAutoOpen,
		OpenBrowser: i.opts.OpenBrowser,
		Print:       printFn,
		Logger:      i.opts.Logger,
	})
	if err := fc.Run(ctx, f.Session()); err != nil {
		return err
	}
	return i.persist(f.Session())
}

// Login tries, in order: the stored token (refreshed when the service rejects it), the local callback
// server when enabled, then the device login.
//
// A routing failure is returned as is; the chain never continues on an unmasked connection.
func (i *Integration) Login(ctx context.Context, printFn session.PrintFunc) error {
	f, err := i.GetSession()
	if err != nil {
		return err
	}

	if ok := i.resume(ctx, f); ok {
		printFn("Using stored login.")
		return nil
	}

	if i.cfg.Auth.UseLocalServer {
		err := i.LoginLocal(ctx, printFn)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, shared.ErrRoutingUnavailable):
			return err
		case errors.Is(err, shared.ErrServerStart), errors.Is(err, shared.ErrAuthTimeout):
			if ctx.Err() != nil {
				return err
			}
			i.logger.Warn("local server login failed, falling back to device login", "error", err)
		default:
			return err
		}
	}

	return i.LoginOAuth(ctx, printFn)
}

// resume restores the stored token and reports whether the service accepts it.
//
// With routing configured every check and refresh goes through the proxy; a failed bind skips the
// stored token instead of using it on a direct path.
func (i *Integration) resume(ctx context.Context, f *session.Facade) bool {
	if i.tokenPath == "" {
		return false
	}
	tf, err := shared.LoadToken(i.tokenPath)
	if err != nil {
		i.logger.Debug("no stored token", "path", i.tokenPath, "error", err)
		return false
	}

	sess := f.Session()
	if err := sess.LoadToken(tf); err != nil {
		return false
	}
	if err := f.BindProxy(ctx); err != nil {
		i.logger.Warn("stored token not checked", "error", err)
		return false
	}
	if ok, err := sess.CheckLogin(ctx); err == nil && ok {
		return true
	}

	if err := f.RefreshWithProxyValidation(ctx); err != nil {
		i.logger.Warn("stored token could not be refreshed", "error", err)
		return false
	}
	if ok, err := sess.CheckLogin(ctx); err != nil || !ok {
		return false
	}
	return i.persist(sess) == nil
}

func (i *Integration) persist(sess *session.Session) error {
	if i.tokenPath == "" {
		return nil
	}
	tf, err := sess.TokenFile()
	if err != nil {
		return err
	}
	if err := shared.SaveToken(i.tokenPath, tf); err != nil {
		return err
	}
	i.logger.Debug("saved token", "path", i.tokenPath)
	return nil
}

// Token returns the current credentials in their persisted form.
func (i *Integration) Token() (*shared.TokenFile, error) {
	if !i.HasSession() {
		if i.tokenPath == "" {
			return nil, shared.ErrNotAuthenticated
		}
		return shared.LoadToken(i.tokenPath)
	}
	f, _ := i.GetSession()
	return f.Session().TokenFile()
}

// VerifyToken loads tf into the session and asks the service whether it is still valid, through the
// proxy when routing is configured.
func (i *Integration) VerifyToken(ctx context.Context, tf *shared.TokenFile) (*session.Session, bool, error) {
	f, err := i.GetSession()
	if err != nil {
		return nil, false, err
	}
	sess := f.Session()
	if err := sess.LoadToken(tf); err != nil {
		return nil, false, err
	}
	if err := f.BindProxy(ctx); err != nil {
		return nil, false, err
	}
	ok, err := sess.CheckLogin(ctx)
	return sess, ok, err
}

// Logout forgets the stored token.
func (i *Integration) Logout() error {
	if i.tokenPath == "" {
		return nil
	}
	return shared.RemoveToken(i.tokenPath)
}

// ProxyStatus reports routing status. Before a session exists it is derived from configuration alone.
func (i *Integration) ProxyStatus(ctx context.Context) proxy.Status {
	if !i.HasSession() {
		return proxy.ConfigStatus(proxy.SettingsFromConfig(i.cfg))
	}
	f, _ := i.GetSession()
	return f.ProxyStatus(ctx)
}

// TestProxyConnectivity probes every enabled endpoint.
func (i *Integration) TestProxyConnectivity(ctx context.Context) (map[string]proxy.ProbeResult, error) {
	f, err := i.GetSession()
	if err != nil {
		return nil, err
	}
	return f.TestConnectivity(ctx), nil
}

// ValidateLocationMasking compares the routed and direct IPs. A positive result is evidence, not proof.
func (i *Integration) ValidateLocationMasking(ctx context.Context) (bool, proxy.LocationInfo, error) {
	f, err := i.GetSession()
	if err != nil {
		return false, proxy.LocationInfo{}, err
	}
	router := f.Router()
	if router == nil {
		return false, proxy.LocationInfo{Error: "proxy not enabled or configured"}, nil
	}
	ok, info := router.ValidateMasking(ctx)
	return ok, info, nil
}

// CurrentIP returns the address the service would see.
func (i *Integration) CurrentIP(ctx context.Context) (string, error) {
	f, err := i.GetSession()
	if err != nil {
		return "", err
	}
	if router := f.Router(); router != nil {
		return router.CurrentIP(ctx)
	}
	settings := proxy.SettingsFromConfig(i.cfg)
	settings.Enabled, settings.Endpoints = false, nil
	direct, err := proxy.NewPool(settings)
	if err != nil {
		return "", err
	}
	return proxy.NewRouter(direct, i.routerOpts()).CurrentIP(ctx)
}

// EnableProxy routes the session through the configured pool, keeping its credentials.
func (i *Integration) EnableProxy(ctx context.Context) error {
	f, err := i.GetSession()
	if err != nil {
		return err
	}

	i.mu.Lock()
	router := i.router
	i.mu.Unlock()
	if router == nil {
		settings := proxy.SettingsFromConfig(i.cfg)
		settings.Enabled = true
		pool, err := proxy.NewPool(settings)
		if err != nil {
			return err
		}
		router = proxy.NewRouter(pool, i.routerOpts())
	}

	if err := f.EnableProxy(ctx, router); err != nil {
		return err
	}
	i.mu.Lock()
	i.router = router
	i.mu.Unlock()
	return nil
}

// DisableProxy sends the session direct, keeping its credentials and the router for re-enabling.
func (i *Integration) DisableProxy() error {
	f, err := i.GetSession()
	if err != nil {
		return err
	}
	f.DisableProxy()
	return nil
}

func (i *Integration) routerOpts() proxy.RouterOpts {
	return proxy.RouterOpts{
		Logger:       i.opts.Logger,
		Prober:       i.opts.Prober,
		Metrics:      i.metrics,
		DirectClient: i.opts.DirectClient,
	}
}

func anyOK(results map[string]proxy.ProbeResult) bool {
	for _, r := range results {
		if r.OK {
			return true
		}
	}
	return false
}
