package proxy

import (
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/proxy"
)

const maxRetryWait = 30 * time.Second

var (
	retryMethods  = map[string]bool{http.MethodGet: true, http.MethodHead: true, http.MethodOptions: true, http.MethodPost: true}
	retryStatuses = map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}
)

// newTransport returns a transport that sends traffic through e, or a direct transport when e is nil.
//
// Pooled transports are for long-lived sessions; probes use a non-pooled one so idle connections do not
// outlive the check.
func newTransport(e *Endpoint, pooled bool) (*http.Transport, error) {
	var t *http.Transport
	if pooled {
		t = cleanhttp.DefaultPooledTransport()
	} else {
		t = cleanhttp.DefaultTransport()
	}
	// cleanhttp honours HTTP_PROXY; routing here is explicit.
	t.Proxy = nil

	if e == nil {
		return t, nil
	}

	if e.Scheme() == SchemeSOCKS5 {
		u, err := url.Parse(e.URL())
		if err != nil {
			return nil, fmt.Errorf("invalid socks5 url for %s: %w", e, err)
		}
		forward := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		d, err := proxy.FromURL(u, forward)
		if err != nil {
			return nil, fmt.Errorf("failed to create socks5 dialer for %s: %w", e, err)
		}
		if cd, ok := d.(proxy.ContextDialer); ok {
			t.DialContext = cd.DialContext
		} else {
			t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return d.Dial(network, addr)
			}
		}
		return t, nil
	}

	fn, err := proxyFunc(e.ProxyMapping())
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url for %s: %w", e, err)
	}
	t.Proxy = fn
	return t, nil
}

// proxyFunc routes each request by its URL scheme. Schemes missing from mapping go direct.
//
// Credentials in the proxy URL become the Proxy-Authorization header on plain requests and CONNECT.
func proxyFunc(mapping map[string]string) (func(*http.Request) (*url.URL, error), error) {
	parsed := make(map[string]*url.URL, len(mapping))
	for scheme, raw := range mapping {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		parsed[scheme] = u
	}
	return func(r *http.Request) (*url.URL, error) {
		return parsed[r.URL.Scheme], nil
	}, nil
}

// retryTransport retries idempotent-ish methods through retryablehttp and passes everything else through.
type retryTransport struct {
	base     http.RoundTripper
	retrying *retryablehttp.RoundTripper
}

func newRetryTransport(base http.RoundTripper, s Settings, logger *log.Logger) *retryTransport {
	c := retryablehttp.NewClient()
	c.HTTPClient = &http.Client{Transport: base}
	c.RetryMax = s.MaxRetries
	c.RetryWaitMin = 0
	c.RetryWaitMax = maxRetryWait
	c.Backoff = exponentialBackoff(s.RetryBackoffFactor)
	c.CheckRetry = checkRetry
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = retryLogger{logger}

	return &retryTransport{base: base, retrying: &retryablehttp.RoundTripper{Client: c}}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if retryMethods[req.Method] {
		return t.retrying.RoundTrip(req)
	}
	return t.base.RoundTrip(req)
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return retryStatuses[resp.StatusCode], nil
}

// exponentialBackoff waits factor * 2^attempt seconds, or the server's Retry-After when it sends one.
func exponentialBackoff(factor float64) retryablehttp.Backoff {
	return func(lo, hi time.Duration, attemptNum int, resp *http.Response) time.Duration {
		if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
			if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s >= 0 {
				return min(time.Duration(s)*time.Second, hi)
			}
		}

		wait := time.Duration(factor * math.Pow(2, float64(attemptNum)) * float64(time.Second))
		return max(lo, min(wait, hi))
	}
}

// retryLogger adapts a charmbracelet logger to [retryablehttp.LeveledLogger].
type retryLogger struct {
	l *log.Logger
}

func (r retryLogger) Error(msg string, kv ...any) { r.l.Warn(msg, kv...) }
func (r retryLogger) Warn(msg string, kv ...any)  { r.l.Warn(msg, kv...) }
func (r retryLogger) Info(msg string, kv ...any)  { r.l.Debug(msg, kv...) }
func (r retryLogger) Debug(msg string, kv ...any) { r.l.Debug(msg, kv...) }

// ServiceHeaders are the client-identifying headers sent on every remote service request.
func ServiceHeaders(userAgent string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "application/json")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Connection", "keep-alive")
	return h
}

// headerTransport fills in default headers the request does not already set.
//
// Setting Accept-Encoding by hand turns off net/http's transparent gzip, so responses are decoded here.
type headerTransport struct {
	next   http.RoundTripper
	header http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.header {
		if req.Header.Get(k) == "" {
			req.Header[k] = v
		}
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := decodeBody(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func decodeBody(resp *http.Response) error {
	var r io.Reader
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to decode gzip body: %w", err)
		}
		r = gz
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to decode deflate body: %w", err)
		}
		r = zr
	case "br":
		r = brotli.NewReader(resp.Body)
	default:
		return nil
	}

	resp.Body = &decodedBody{Reader: r, closer: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

type decodedBody struct {
	io.Reader
	closer io.Closer
}

func (d *decodedBody) Close() error { return d.closer.Close() }
