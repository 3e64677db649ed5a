package proxy

import (
	"context"
	"net/http"
)

// Session is an outbound HTTP client plus a description of how it routes.
type Session struct {
	Client *http.Client
	// Proxies maps request scheme to proxy URL; empty for direct sessions. Values carry raw credentials.
	Proxies  map[string]string
	Endpoint *Endpoint
	// Header holds the defaults added to every request, if any.
	Header http.Header
	State  State
}

// Direct reports whether the session bypasses every proxy.
func (s *Session) Direct() bool { return s.Endpoint == nil }

// CreateSession returns a client bound to the active endpoint, or a direct client when the pool is
// disabled or nothing is selectable.
//
// Routing is decided by the endpoint's declared protocols; protocolHint only annotates logs.
// Proxy-bound clients retry GET, HEAD, OPTIONS and POST on connection errors and on 429, 500, 502, 503
// and 504 with exponential backoff.
func (r *Router) CreateSession(ctx context.Context, protocolHint string) (*Session, error) {
	if !r.pool.Enabled() {
		return r.directSession(Unavailable), nil
	}

	sel := r.SelectActive(ctx)
	if !sel.Routed() {
		return r.directSession(sel.State), nil
	}

	t, err := newTransport(sel.Endpoint, true)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("created proxy session", "endpoint", sel.Endpoint.Name(), "hint", protocolHint, "state", sel.State)
	return &Session{
		Client: &http.Client{
			Transport: newRetryTransport(t, r.settings, r.logger),
			Timeout:   r.settings.RequestTimeout,
		},
		Proxies:  sel.Endpoint.ProxyMapping(),
		Endpoint: sel.Endpoint,
		State:    sel.State,
	}, nil
}

// CreateServiceSession is an https session that also sends the native client's identifying headers.
func (r *Router) CreateServiceSession(ctx context.Context) (*Session, error) {
	s, err := r.CreateSession(ctx, SchemeHTTPS)
	if err != nil {
		return nil, err
	}
	s.Header = ServiceHeaders(r.settings.UserAgent)
	s.Client.Transport = &headerTransport{next: s.Client.Transport, header: s.Header}
	return s, nil
}

func (r *Router) directSession(state State) *Session {
	return &Session{
		Client:  &http.Client{Transport: directTransport(), Timeout: r.settings.RequestTimeout},
		Proxies: map[string]string{},
		State:   state,
	}
}
