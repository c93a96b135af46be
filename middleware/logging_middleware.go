package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"workerproxy/logging"
	"workerproxy/message"
)

// LoggingMiddleware logs every call with its duration. Failed calls are logged at warn.
// A nil logger uses the shared logger.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			log := logging.Or(logger)
			start := time.Now()
			resp := next(ctx, req)

			fields := []zap.Field{
				zap.Uint32("seq", req.ID),
				zap.String("member", req.Member),
				zap.Int("args", len(req.Args)),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Failed() {
				log.Warn("call failed", append(fields, zap.String("error", resp.Error))...)
				return resp
			}
			log.Debug("call", fields...)
			return resp
		}
	}
}
