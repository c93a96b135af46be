package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"workerproxy/message"
)

// RateLimitMiddleware rejects calls beyond r per second (token bucket with the given burst).
// Rejected calls fail immediately; the proxy never retries them.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.Failure("Error: rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
