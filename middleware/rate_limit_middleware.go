package middleware

import (
	"fmt"

	"golang.org/x/time/rate"

	"duplexrpc/connection"
)

// RateLimitMiddleware creates a rate limiter using the token bucket
// algorithm.
//
// Token bucket: tokens are added at rate r per second, up to a burst size.
// Each request consumes one token. If the bucket is empty, the request is
// rejected. Unlike a leaky bucket (constant drain rate), token bucket
// allows short bursts of traffic.
//
// The limiter is created in the outer closure (once per middleware
// creation), not in the inner handler function, so it is shared across all
// requests the returned Middleware ever wraps.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next connection.ApiHandler) connection.ApiHandler {
		return func(call *connection.ApiCall) error {
			if !limiter.Allow() {
				return fmt.Errorf("middleware: rate limit exceeded for %s", call.ApiName)
			}
			return next(call)
		}
	}
}
