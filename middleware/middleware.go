// Package middleware implements the onion-model middleware chain around a
// connection.ApiHandler.
//
// Middleware wraps the business handler to add cross-cutting concerns
// (logging, timeout, rate limiting, retry) without modifying the handler
// itself.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
//
// Each middleware can:
//   - Do pre-processing (before calling next)
//   - Call next(call) to pass to the next layer
//   - Do post-processing (after next returns)
//   - Short-circuit by returning early without calling next (e.g., rate limiting)
//
// This sits alongside, not instead of, connection.Flows: Flows are
// per-Connection hooks (preCallApi, postConnect, ...), while a
// middleware.Chain is a Server-side decorator stack an operator assembles
// around the handlers it registers, composing cross-cutting concerns
// before dispatch.
package middleware

import "duplexrpc/connection"

// Middleware takes a handler and returns a new handler that wraps it.
type Middleware func(next connection.ApiHandler) connection.ApiHandler

// Chain composes multiple middlewares into a single middleware. It builds
// the chain from right to left so that the first middleware in the list is
// the outermost layer (executed first on request, last on response).
//
// Example:
//
//	chain := Chain(Logging, Timeout, RateLimit)
//	handler := chain(businessHandler)
//	// Execution: Logging → Timeout → RateLimit → businessHandler → RateLimit → Timeout → Logging
func Chain(middlewares ...Middleware) Middleware {
	return func(next connection.ApiHandler) connection.ApiHandler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
