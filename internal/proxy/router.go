package proxy

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/proxyauth/internal/shared"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/time/rate"
)

// State is the router's selection outcome.
type State int

const (
	// Unconfigured means no selection has run yet.
	Unconfigured State = iota
	// Active means the selected endpoint passed its last health check.
	Active
	// Degraded means no enabled endpoint is known healthy and the highest-priority one was returned anyway.
	Degraded
	// Unavailable means the pool is disabled or has no enabled endpoints.
	Unavailable
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Degraded:
		return "degraded"
	case Unavailable:
		return "unavailable"
	default:
		return "unconfigured"
	}
}

// Selection is a tagged result of [Router.SelectActive]. Endpoint is nil unless State is Active or Degraded.
type Selection struct {
	State    State
	Endpoint *Endpoint
}

// Routed reports whether traffic would go through an endpoint.
func (s Selection) Routed() bool { return s.Endpoint != nil }

// HealthRecord is the last known health of one endpoint.
type HealthRecord struct {
	Healthy   bool
	CheckedAt time.Time
	LatencyMS float64
	Err       string
}

// Prober checks one endpoint. [DefaultProber] calls [Endpoint.Probe].
type Prober func(ctx context.Context, e *Endpoint, timeout time.Duration, urls []string) ProbeResult

func DefaultProber(ctx context.Context, e *Endpoint, timeout time.Duration, urls []string) ProbeResult {
	return e.Probe(ctx, timeout, urls)
}

type RouterOpts struct {
	Logger  *log.Logger
	Prober  Prober
	Now     func() time.Time
	Metrics *Metrics
	// DirectClient performs unrouted lookups for masking validation.
	DirectClient *http.Client
}

// Router selects the active endpoint and builds sessions bound to it.
//
// Selection, health refresh and pool mutation are serialized by one mutex.
// Health is refreshed lazily by the next [Router.SelectActive] after the cache expires; there is no
// background timer. Constructing a router makes no network calls.
type Router struct {
	pool     *Pool
	settings Settings
	logger   *log.Logger
	prober   Prober
	now      func() time.Time
	metrics  *Metrics
	direct   *http.Client
	limiter  *rate.Limiter

	mu          sync.Mutex
	health      map[string]HealthRecord
	lastRefresh time.Time
	current     Selection
}

func NewRouter(pool *Pool, opts RouterOpts) *Router {
	r := &Router{
		pool:     pool,
		settings: pool.Settings(),
		logger:   opts.Logger,
		prober:   opts.Prober,
		now:      opts.Now,
		metrics:  opts.Metrics,
		direct:   opts.DirectClient,
		health:   make(map[string]HealthRecord),
	}
	if r.logger == nil {
		r.logger = shared.DiscardLogger()
	}
	r.logger = shared.WithLogger(r.logger, "component", "router")
	if r.prober == nil {
		r.prober = DefaultProber
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.direct == nil {
		r.direct = &http.Client{Transport: directTransport(), Timeout: r.settings.TestTimeout}
	}
	if r.settings.ProbeRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(r.settings.ProbeRate), 1)
	}
	return r
}

func directTransport() *http.Transport {
	t := cleanhttp.DefaultPooledTransport()
	t.Proxy = nil
	return t
}

func (r *Router) Pool() *Pool         { return r.pool }
func (r *Router) Settings() Settings { return r.settings }

// SelectActive returns the endpoint traffic should use, refreshing health first when the cache has expired.
//
// Enabled endpoints are considered in ascending priority. The first healthy one is Active. When none is
// healthy the highest-priority endpoint is returned as Degraded. With auto failover off only the
// highest-priority endpoint is considered. Probe failures are logged, never returned.
func (r *Router) SelectActive(ctx context.Context) Selection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selectLocked(ctx)
}

// Current returns the last selection without refreshing.
func (r *Router) Current() Selection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Health returns a copy of the health cache.
func (r *Router) Health() map[string]HealthRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.health)
}

func (r *Router) selectLocked(ctx context.Context) Selection {
	prev := r.current
	sel := r.choose(ctx)
	r.current = sel
	r.metrics.RecordSelection(sel.State)

	if prev.State != sel.State || prev.Endpoint != sel.Endpoint {
		switch sel.State {
		case Active:
			r.logger.Info("selected proxy", "endpoint", sel.Endpoint.Name())
		case Degraded:
			r.logger.Warn("no healthy proxy available, using highest priority endpoint", "endpoint", sel.Endpoint.Name())
		case Unavailable:
			r.logger.Debug("no proxy available", "pool_enabled", r.pool.Enabled())
		}
	}
	return sel
}

func (r *Router) choose(ctx context.Context) Selection {
	if !r.pool.Enabled() {
		return Selection{State: Unavailable}
	}
	candidates := r.pool.EnabledEndpoints()
	if len(candidates) == 0 {
		return Selection{State: Unavailable}
	}

	if r.staleLocked() {
		r.refreshLocked(ctx, candidates)
	}

	if !r.settings.AutoFailover {
		candidates = candidates[:1]
	}
	for _, e := range candidates {
		if r.health[e.Name()].Healthy {
			return Selection{State: Active, Endpoint: e}
		}
	}
	return Selection{State: Degraded, Endpoint: candidates[0]}
}

func (r *Router) staleLocked() bool {
	return r.lastRefresh.IsZero() || r.now().Sub(r.lastRefresh) >= r.settings.HealthCheckInterval
}

// refreshLocked probes every endpoint in order. A cancelled ctx stops the refresh early, leaving
// unprobed endpoints with their previous record.
func (r *Router) refreshLocked(ctx context.Context, endpoints []*Endpoint) {
	r.logger.Debug("refreshing proxy health", "endpoints", len(endpoints))
	for _, e := range endpoints {
		if err := r.wait(ctx); err != nil {
			r.logger.Warn("health refresh interrupted", "error", err)
			break
		}
		res := r.prober(ctx, e, r.settings.TestTimeout, r.settings.EchoURLs)
		r.health[e.Name()] = HealthRecord{Healthy: res.OK, CheckedAt: r.now(), LatencyMS: res.LatencyMS, Err: res.Err}
		r.metrics.RecordProbe(e.Name(), res)
		if !res.OK {
			r.logger.Warn("proxy health check failed", "endpoint", e.Name(), "error", res.Err)
		}
	}
	r.lastRefresh = r.now()
}

func (r *Router) wait(ctx context.Context) error {
	if r.limiter == nil {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}

// TestAll probes every enabled endpoint regardless of cache age. Results feed metrics but not routing.
func (r *Router) TestAll(ctx context.Context) map[string]ProbeResult {
	out := make(map[string]ProbeResult)
	for _, e := range r.pool.EnabledEndpoints() {
		if err := r.wait(ctx); err != nil {
			out[e.Name()] = ProbeResult{Err: err.Error()}
			continue
		}
		res := r.prober(ctx, e, r.settings.TestTimeout, r.settings.EchoURLs)
		r.metrics.RecordProbe(e.Name(), res)
		out[e.Name()] = res
		r.logger.Debug("tested proxy", "endpoint", e.Name(), "ok", res.OK, "latency_ms", res.LatencyMS)
	}
	return out
}

// Add builds an endpoint from cfg, appends it and reselects.
func (r *Router) Add(ctx context.Context, cfg shared.EndpointConfig) error {
	e, err := NewEndpoint(cfg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.pool.Add(e); err != nil {
		return err
	}
	r.selectLocked(ctx)
	return nil
}

// Remove deletes the named endpoint and its health record, then reselects.
func (r *Router) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pool.Remove(name) {
		return fmt.Errorf("%w: %s", shared.ErrEndpointNotFound, name)
	}
	delete(r.health, name)
	r.metrics.Forget(name)
	r.selectLocked(ctx)
	return nil
}

// Enable marks the named endpoint enabled and reselects.
func (r *Router) Enable(ctx context.Context, name string) error {
	return r.setEnabled(ctx, name, true)
}

// Disable marks the named endpoint disabled and reselects.
func (r *Router) Disable(ctx context.Context, name string) error {
	return r.setEnabled(ctx, name, false)
}

func (r *Router) setEnabled(ctx context.Context, name string, v bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pool.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrEndpointNotFound, name)
	}
	e.setEnabled(v)
	r.selectLocked(ctx)
	return nil
}
