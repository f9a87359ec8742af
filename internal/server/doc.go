// Package server provides HTTP routing, middleware, and the handlers of the sync service.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Routes
//
//	GET  /healthz             liveness probe
//	GET  /metrics             Prometheus metrics
//	POST /sync/{user}         run a sync for one user and return its result
//	GET  /users/{user}/state  the user's watermark, last error and run marker
//
// A sync request runs to completion before the response is written. A run already
// in progress for the same user answers 409.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
