// package testing contains shared testing utilities
package testing

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
)

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
	calls    int
	mu       sync.Mutex
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.response, m.err
}

// Calls returns how many requests reached the round tripper.
func (m *MockRoundTripper) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// EchoHandler answers every request the way httpbin's /ip does.
func EchoHandler(ip string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"origin": ip})
	})
}

// NewEchoServer starts a server reporting ip as the caller's address. It is closed on cleanup.
func NewEchoServer(t *testing.T, ip string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(EchoHandler(ip))
	t.Cleanup(srv.Close)
	return srv
}

// ForwardProxy is an HTTP forward proxy double. Absolute-URI requests are answered in-process by the
// upstream handler instead of being forwarded.
type ForwardProxy struct {
	*httptest.Server
	upstream http.Handler

	mu       sync.Mutex
	requests []string
	auth     []string
}

// NewForwardProxy starts a proxy double that serves upstream. It is closed on cleanup.
func NewForwardProxy(t *testing.T, upstream http.Handler) *ForwardProxy {
	t.Helper()
	p := &ForwardProxy{upstream: upstream}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.Close)
	return p
}

func (p *ForwardProxy) serve(w http.ResponseWriter, r *http.Request) {
	if !r.URL.IsAbs() {
		http.Error(w, "not a proxy request", http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.requests = append(p.requests, r.URL.String())
	p.auth = append(p.auth, r.Header.Get("Proxy-Authorization"))
	p.mu.Unlock()

	p.upstream.ServeHTTP(w, r)
}

// Host returns the proxy's listening host.
func (p *ForwardProxy) Host() string {
	host, _, _ := net.SplitHostPort(p.Listener.Addr().String())
	return host
}

// Port returns the proxy's listening port.
func (p *ForwardProxy) Port() int {
	_, port, _ := net.SplitHostPort(p.Listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Requests returns the absolute URLs the proxy has seen.
func (p *ForwardProxy) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

// ProxyAuth returns the Proxy-Authorization header of each request, in order.
func (p *ForwardProxy) ProxyAuth() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.auth...)
}

// FreePort reserves and releases a loopback port.
func FreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
