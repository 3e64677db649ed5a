// Package proxy manages a statically configured pool of forward proxies and builds HTTP clients bound to the
// selected one.
//
// # Endpoints and Pools
//
// An [Endpoint] is one proxy (host, port, scheme, optional credentials). Construction through [NewEndpoint]
// validates the scheme, host and port immediately, so an invalid configuration never reaches the router.
// A [Pool] holds the endpoints together with pool-wide policy from [Settings].
//
// # Selection
//
// [Router.SelectActive] filters the pool to enabled endpoints, orders them by priority and returns a tagged
// [Selection]:
//   - [Active]: the endpoint's last health check succeeded
//   - [Degraded]: no endpoint is healthy, the highest priority one is returned anyway
//   - [Unavailable]: the pool is disabled or has no enabled endpoints
//
// Health is refreshed lazily: a call whose cache is older than [Settings.HealthCheckInterval] probes every
// enabled endpoint before selecting. There is no background timer.
//
// # Sessions
//
// [Router.CreateSession] returns a [Session] whose client routes through the active endpoint, restricted to
// the endpoint's declared protocols, with retries on 429/500/502/503/504 for GET, HEAD, OPTIONS and POST.
// [Router.CreateServiceSession] additionally stamps the remote service's client headers onto every request.
// When the pool is disabled the session is a plain direct client with an empty proxy mapping.
//
// # Diagnostics
//
// [Router.TestAll] probes every enabled endpoint without touching the health cache. [Router.ValidateMasking]
// compares the routed and direct external IPs. The comparison is best-effort evidence that traffic leaves
// through the proxy; echo and geolocation services can be unreachable, rate limited, or wrong, so a positive
// result is not a guarantee.
package proxy
