// Package server provides HTTP routing, middleware, and the local OAuth callback listener.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns, so unknown paths get 404 and
// wrong methods get 405 from the mux itself.
//
// # Callback Handler
//
// [CallbackHandler] terminates one OAuth authorization code redirect per login attempt.
//
// [CallbackHandler.Arm] installs a fresh state token and returns a channel that receives exactly one [Outcome].
// A callback whose state does not match is answered with 400 and leaves the attempt open, so the user can retry.
// The first matching callback wins; later deliveries are shown the stored result and change nothing.
//
// # Callback Server
//
// [CallbackServer] binds the listener synchronously in [CallbackServer.Start] so a busy port fails fast,
// serves on a background goroutine, and tears down in [CallbackServer.Stop], which is safe to call repeatedly.
package server
