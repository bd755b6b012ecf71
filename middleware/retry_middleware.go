package middleware

import (
	"strings"
	"time"

	"duplexrpc/connection"
)

// RetryMiddleware re-invokes the handler on a transient error, up to
// maxRetries times with exponential backoff. It does not check whether the
// handler already replied: apicall.go never lets a handler reply twice, so
// when a handler that already called Succ or Fail returns a retryable error,
// the retry's reply is rejected by that guard, the same way a second reply
// from any other source is rejected.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next connection.ApiHandler) connection.ApiHandler {
		return func(call *connection.ApiCall) error {
			err := next(call)
			for i := 0; i < maxRetries; i++ {
				if err == nil {
					return nil
				}
				if !isRetryable(err) {
					return err
				}
				time.Sleep(baseDelay * time.Duration(1<<i))
				err = next(call)
			}
			return err
		}
	}
}

func isRetryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "connection refused")
}
