package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/proxyauth/internal/proxy"
	"github.com/hashicorp/go-cleanhttp"
)

// Transport is the network path a [Session] uses.
type Transport interface {
	HTTPClient() *http.Client
	// Proxied reports whether requests leave through a proxy endpoint.
	Proxied() bool
	Describe() string
}

type directTransport struct {
	client *http.Client
}

// Direct returns an unrouted transport with a fixed request timeout.
func Direct(timeout time.Duration) Transport {
	c := cleanhttp.DefaultPooledClient()
	c.Timeout = timeout
	return &directTransport{client: c}
}

func (d *directTransport) HTTPClient() *http.Client { return d.client }
func (d *directTransport) Proxied() bool            { return false }
func (d *directTransport) Describe() string         { return "direct" }

type proxyTransport struct {
	sess *proxy.Session
}

// ProxyBound returns a transport over the router's service session.
//
// When the router has nothing to select the result is a direct path; check [Transport.Proxied].
func ProxyBound(ctx context.Context, router *proxy.Router) (Transport, error) {
	s, err := router.CreateServiceSession(ctx)
	if err != nil {
		return nil, err
	}
	return &proxyTransport{sess: s}, nil
}

func (p *proxyTransport) HTTPClient() *http.Client { return p.sess.Client }
func (p *proxyTransport) Proxied() bool            { return !p.sess.Direct() }

func (p *proxyTransport) Describe() string {
	if p.sess.Direct() {
		return "direct"
	}
	return fmt.Sprintf("proxy %s (%s)", p.sess.Endpoint.Name(), p.sess.State)
}

// EndpointName is the selected endpoint's name, or "" for a direct path.
func (p *proxyTransport) EndpointName() string {
	if p.sess.Direct() {
		return ""
	}
	return p.sess.Endpoint.Name()
}
