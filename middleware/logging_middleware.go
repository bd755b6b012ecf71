package middleware

import (
	"time"

	"go.uber.org/zap"

	"duplexrpc/connection"
)

// LoggingMiddleware records the api name, sn, duration, and any error for
// each call. It captures the start time before calling next, and logs the
// elapsed time after next returns.
func LoggingMiddleware(logger *zap.SugaredLogger) Middleware {
	return func(next connection.ApiHandler) connection.ApiHandler {
		return func(call *connection.ApiCall) error {
			start := time.Now()
			err := next(call)
			logger.Infow("api call", "api", call.ApiName, "sn", call.Sn, "duration", time.Since(start), "err", err)
			return err
		}
	}
}
