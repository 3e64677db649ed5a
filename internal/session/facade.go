package session

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/proxyauth/internal/proxy"
	"github.com/desertthunder/proxyauth/internal/shared"
)

// Facade pairs a [Session] with an optional [proxy.Router].
type Facade struct {
	session       *Session
	logger        *log.Logger
	directTimeout time.Duration

	mu     sync.Mutex
	router *proxy.Router
}

// NewFacade wraps sess. A nil router leaves the session on its current transport.
func NewFacade(sess *Session, router *proxy.Router, logger *log.Logger) *Facade {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	f := &Facade{
		session:       sess,
		router:        router,
		logger:        shared.WithLogger(logger, "component", "facade"),
		directTimeout: 45 * time.Second,
	}
	if router != nil {
		f.directTimeout = router.Settings().RequestTimeout
	}
	return f
}

func (f *Facade) Session() *Session { return f.session }

// Router returns the active router, or nil when proxying is off.
func (f *Facade) Router() *proxy.Router {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.router
}

// LoginWithProxyPreference runs the device login through the proxy when one is configured.
//
// Without a router, or with nothing selectable, the login runs on the session's transport unchanged.
// Otherwise every endpoint is probed first and [shared.ErrRoutingUnavailable] is returned when none answers.
// The printed link is annotated with the endpoint in use. A failed masking check is logged only.
func (f *Facade) LoginWithProxyPreference(ctx context.Context, printFn PrintFunc) error {
	return f.routedLogin(ctx, "oauth", printFn, func(p PrintFunc) error {
		return f.session.LoginOAuthSimple(ctx, p)
	}, func(msg string) bool {
		return strings.Contains(msg, "Visit https://") || strings.Contains(msg, "Visit http://")
	})
}

// LoginPKCEWithProxy is [Facade.LoginWithProxyPreference] for the PKCE login.
func (f *Facade) LoginPKCEWithProxy(ctx context.Context, printFn PrintFunc, input io.Reader) error {
	return f.routedLogin(ctx, "pkce", printFn, func(p PrintFunc) error {
		return f.session.LoginPKCE(ctx, p, input)
	}, func(msg string) bool {
		return strings.Contains(msg, "READ CAREFULLY!") || strings.Contains(msg, "You need to open this link")
	})
}

func (f *Facade) routedLogin(ctx context.Context, kind string, printFn PrintFunc, login func(PrintFunc) error, annotate func(string) bool) error {
	router := f.Router()
	if router == nil || !router.Pool().Enabled() {
		f.logger.Warn("no proxy configured, using standard login", "kind", kind)
		return login(printFn)
	}
	if sel := router.SelectActive(ctx); !sel.Routed() {
		f.logger.Warn("no proxy selectable, using standard login", "kind", kind, "state", sel.State)
		return login(printFn)
	}

	f.logger.Info("validating proxy connectivity before login", "kind", kind)
	results := router.TestAll(ctx)
	if !anyReachable(results) {
		return fmt.Errorf("%w: no working proxies available for %s login", shared.ErrRoutingUnavailable, kind)
	}

	t, err := ProxyBound(ctx, router)
	if err != nil {
		return err
	}
	if !t.Proxied() {
		return fmt.Errorf("%w: router returned a direct session", shared.ErrRoutingUnavailable)
	}
	f.session.SetTransport(t)
	name := t.(*proxyTransport).EndpointName()
	f.warnUnanswered(name, results)

	if ok, info := router.ValidateMasking(ctx); ok {
		f.logger.Info("location masking active", "ip", info.IP, "country", info.Country)
	} else {
		f.logger.Warn("location masking validation failed", "reason", info.Error)
	}

	annotated := func(msg string) {
		if annotate(msg) {
			printFn(fmt.Sprintf("%s (via proxy: %s)", msg, name))
			return
		}
		printFn(msg)
	}

	f.logger.Info("starting login through proxy", "kind", kind, "endpoint", name)
	if err := login(annotated); err != nil {
		return err
	}

	ok, err := f.session.CheckLogin(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: session check rejected the new token", shared.ErrLoginFailed)
	}
	f.logger.Info("login successful through proxy", "kind", kind, "session_id", f.session.SessionID())
	return nil
}

// warnUnanswered logs when the routed endpoint failed the connectivity test that another endpoint passed.
// The health cache decides routing, so the stale selection stays in use until its next refresh.
func (f *Facade) warnUnanswered(name string, results map[string]proxy.ProbeResult) {
	if results[name].OK {
		return
	}
	var answered []string
	for n, r := range results {
		if r.OK {
			answered = append(answered, n)
		}
	}
	slices.Sort(answered)
	f.logger.Warn("selected proxy did not answer the connectivity test", "endpoint", name, "answered", answered)
}

// BindProxy moves the session onto the router's current selection before it talks to the service.
//
// Without a router, or with its pool disabled, the session keeps its transport. A selection with no
// endpoint is [shared.ErrRoutingUnavailable] and the session is left untouched.
func (f *Facade) BindProxy(ctx context.Context) error {
	router := f.Router()
	if router == nil || !router.Pool().Enabled() {
		return nil
	}
	t, err := ProxyBound(ctx, router)
	if err != nil {
		return err
	}
	if !t.Proxied() {
		return fmt.Errorf("%w: no proxy endpoint selectable", shared.ErrRoutingUnavailable)
	}
	f.session.SetTransport(t)
	return nil
}

// RefreshWithProxyValidation refreshes the token after checking the proxy still answers.
//
// The session is bound to the router first. An unreachable pool is logged and the refresh still goes
// through the proxy-bound transport; it never switches to a direct path.
func (f *Facade) RefreshWithProxyValidation(ctx context.Context) error {
	if router := f.Router(); router != nil && router.Pool().Enabled() {
		if !anyReachable(router.TestAll(ctx)) {
			f.logger.Warn("no working proxies available for token refresh")
		}
	}
	if err := f.BindProxy(ctx); err != nil {
		return err
	}
	return f.session.RefreshToken(ctx)
}

// EnableProxy binds the session to router without discarding credentials.
func (f *Facade) EnableProxy(ctx context.Context, router *proxy.Router) error {
	t, err := ProxyBound(ctx, router)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.router = router
	f.mu.Unlock()

	f.session.SetTransport(t)
	f.logger.Info("proxy enabled for session", "transport", t.Describe())
	return nil
}

// DisableProxy reverts the session to a direct transport without discarding credentials.
func (f *Facade) DisableProxy() {
	f.mu.Lock()
	f.router = nil
	f.mu.Unlock()

	f.session.SetTransport(Direct(f.directTimeout))
	f.logger.Info("proxy disabled, using direct connection")
}

// ProxyStatus reports the router's status, or a disabled status without a router.
func (f *Facade) ProxyStatus(ctx context.Context) proxy.Status {
	router := f.Router()
	if router == nil {
		return proxy.Status{State: proxy.Unavailable.String(), SessionCreated: true}
	}
	return router.Status(ctx)
}

// TestConnectivity probes every enabled endpoint; it is empty without a router.
func (f *Facade) TestConnectivity(ctx context.Context) map[string]proxy.ProbeResult {
	router := f.Router()
	if router == nil {
		return map[string]proxy.ProbeResult{}
	}
	return router.TestAll(ctx)
}

func anyReachable(results map[string]proxy.ProbeResult) bool {
	for _, r := range results {
		if r.OK {
			return true
		}
	}
	return false
}
