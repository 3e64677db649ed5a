package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/proxyauth/internal/shared"
)

const shutdownTimeout = 5 * time.Second

// CallbackServer is a short-lived local listener for one login attempt at a time.
type CallbackServer struct {
	host    string
	port    int
	logger  *log.Logger
	handler *CallbackHandler
	router  *BasicRouter

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

// NewCallbackServer builds a server for host:port. Port 0 picks a free port on [CallbackServer.Start].
func NewCallbackServer(host string, port int, logger *log.Logger) *CallbackServer {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	logger = shared.WithLogger(logger, "component", "callback")

	h := NewCallbackHandler(logger)
	router := NewBasicRouter()
	router.Use(RequestLogger(logger))
	router.Handler(h)

	return &CallbackServer{host: host, port: port, logger: logger, handler: h, router: router}
}

func (s *CallbackServer) Handler() *CallbackHandler { return s.handler }

// Start binds the listener and serves on a background goroutine.
//
// Binding happens before Start returns, so a port held by another process or a concurrent attempt
// fails immediately with [shared.ErrServerStart]. Starting a running server returns [shared.ErrServerRunning].
func (s *CallbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return shared.ErrServerRunning
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrServerStart, err)
	}

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("callback server stopped", "error", err)
		}
	}()

	s.srv, s.ln, s.done = srv, ln, done
	s.logger.Info("started callback server", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the server down and waits up to five seconds for the serving goroutine. Calling it on a
// stopped server does nothing.
func (s *CallbackServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("error shutting down server", "error", err)
		s.srv.Close()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("callback server did not exit in time")
	}

	s.logger.Debug("stopped callback server", "addr", s.ln.Addr().String())
	s.srv, s.ln, s.done = nil, nil, nil
}

// Running reports whether the listener is bound.
func (s *CallbackServer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// Addr returns host:port, using the bound port while running.
func (s *CallbackServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	port := s.port
	if s.ln != nil {
		port = s.ln.Addr().(*net.TCPAddr).Port
	}
	return net.JoinHostPort(s.host, strconv.Itoa(port))
}

// RedirectURI is the callback URL to register with the authorization request.
func (s *CallbackServer) RedirectURI() string {
	return "http://" + s.Addr() + "/callback"
}
