// Package session holds the remote service session and the proxy-aware login paths built on it.
//
// A [Session] carries credentials and identity. Its network path is a [Transport] that can be swapped
// between [Direct] and [ProxyBound] at any time without touching the credentials.
//
// [Facade] pairs a session with a [proxy.Router]. Its login methods verify that at least one endpoint is
// reachable before any credential traffic is sent and fail with [shared.ErrRoutingUnavailable] otherwise,
// rather than falling back to an unmasked connection.
package session
