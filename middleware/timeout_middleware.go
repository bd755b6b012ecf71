package middleware

import (
	"fmt"
	"time"

	"duplexrpc/connection"
)

// TimeoutMiddleware enforces a maximum duration for each call. If the
// handler doesn't complete within the timeout, it returns an error
// immediately; apicall.go's dispatcher turns that error into a Fail reply
// the same way it does for any other handler error.
//
// Note: the handler goroutine is NOT cancelled — it continues running in
// the background. The timeout only controls when the caller gives up
// waiting.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next connection.ApiHandler) connection.ApiHandler {
		return func(call *connection.ApiCall) error {
			done := make(chan error, 1) // buffered: prevent goroutine leak if timeout fires
			go func() { done <- next(call) }()

			select {
			case err := <-done:
				return err
			case <-time.After(timeout):
				return fmt.Errorf("middleware: %s timed out after %s", call.ApiName, timeout)
			}
		}
	}
}
