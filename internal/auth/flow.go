// package auth drives one browser login through the local callback server.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/proxyauth/internal/proxy"
	"github.com/desertthunder/proxyauth/internal/server"
	"github.com/desertthunder/proxyauth/internal/session"
	"github.com/desertthunder/proxyauth/internal/shared"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds the wait for the browser callback.
const DefaultTimeout = 5 * time.Minute

type FlowOpts struct {
	Server      *server.CallbackServer
	Service     shared.ServiceConfig
	Timeout     time.Duration
	AutoOpen    bool
	OpenBrowser shared.BrowserOpener
	Print       session.PrintFunc
	Logger      *log.Logger
}

// FlowController runs authorization code logins whose every request goes through the router.
type FlowController struct {
	router  *proxy.Router
	server  *server.CallbackServer
	service shared.ServiceConfig
	timeout time.Duration
	open    bool
	browser shared.BrowserOpener
	print   session.PrintFunc
	logger  *log.Logger
}

// NewFlowController builds a controller. A nil router sends requests over the session's own transport.
func NewFlowController(router *proxy.Router, opts FlowOpts) *FlowController {
	fc := &FlowController{
		router:  router,
		server:  opts.Server,
		service: opts.Service,
		timeout: opts.Timeout,
		open:    opts.AutoOpen,
		browser: opts.OpenBrowser,
		print:   opts.Print,
		logger:  opts.Logger,
	}
	if fc.server == nil {
		fc.server = server.NewCallbackServer("localhost", 8080, opts.Logger)
	}
	if fc.timeout <= 0 {
		fc.timeout = DefaultTimeout
	}
	if fc.browser == nil {
		fc.browser = shared.OpenBrowser
	}
	if fc.print == nil {
		fc.print = func(string) {}
	}
	if fc.logger == nil {
		fc.logger = shared.DiscardLogger()
	}
	fc.logger = shared.WithLogger(fc.logger, "component", "auth")
	return fc
}

func (fc *FlowController) Server() *server.CallbackServer { return fc.server }

// Run performs one login attempt and applies the resulting token to sess.
//
// The callback server is stopped on every return path. Errors wrap [shared.ErrServerStart],
// [shared.ErrAuthTimeout], [shared.ErrAuthFailed] or [shared.ErrTokenExchange]. Cancelling ctx ends the wait
// the same way the timeout does.
func (fc *FlowController) Run(ctx context.Context, sess *session.Session) error {
	logger := shared.WithLogger(fc.logger, "attempt", shared.GenerateID())

	if err := session.RequireClient(fc.service); err != nil {
		return err
	}
	if err := fc.server.Start(); err != nil {
		logger.Error("could not start callback server", "error", err)
		if errors.Is(err, shared.ErrServerStart) {
			return err
		}
		return fmt.Errorf("%w: %v", shared.ErrServerStart, err)
	}
	defer fc.server.Stop()

	state, err := shared.GenerateState()
	if err != nil {
		return err
	}
	outcome := fc.server.Handler().Arm(state)

	transport, err := fc.transport(ctx, sess)
	if err != nil {
		return err
	}

	conf := session.OAuthConfig(fc.service, fc.server.RedirectURI())
	authURL := conf.AuthCodeURL(state)
	logger.Debug("built authorization url", "transport", transport.Describe(), "redirect_uri", conf.RedirectURL)

	fc.handOff(logger, authURL)

	timer := time.NewTimer(fc.timeout)
	defer timer.Stop()

	var result server.Outcome
	select {
	case result = <-outcome:
	case <-timer.C:
		logger.Warn("no callback received", "timeout", fc.timeout)
		return shared.ErrAuthTimeout
	case <-ctx.Done():
		logger.Warn("login cancelled", "error", ctx.Err())
		return fmt.Errorf("%w: %v", shared.ErrAuthTimeout, ctx.Err())
	}

	if err := result.Err(); err != nil {
		logger.Error("authorization denied", "error", err)
		return err
	}

	octx := context.WithValue(ctx, oauth2.HTTPClient, transport.HTTPClient())
	tok, err := conf.Exchange(octx, result.Code)
	if err != nil {
		logger.Error("token exchange failed", "error", err)
		return fmt.Errorf("%w: %v", shared.ErrTokenExchange, err)
	}
	if err := sess.ApplyToken(tok); err != nil {
		return err
	}

	if transport.Proxied() {
		sess.SetTransport(transport)
	}
	logger.Info("login complete", "transport", transport.Describe())
	return nil
}

func (fc *FlowController) transport(ctx context.Context, sess *session.Session) (session.Transport, error) {
	if fc.router == nil {
		return sess.Transport(), nil
	}
	return session.ProxyBound(ctx, fc.router)
}

// handOff shows the authorization URL, in the browser when configured and always as text on failure.
func (fc *FlowController) handOff(logger *log.Logger, authURL string) {
	if fc.open {
		err := fc.browser(authURL)
		if err == nil {
			fc.print("Opened your browser to complete the login.")
			return
		}
		logger.Warn("could not open browser", "error", err)
	}
	fc.print("Open this URL in your browser to log in:")
	fc.print(authURL)
}
