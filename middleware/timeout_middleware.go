package middleware

import (
	"context"
	"time"

	"workerproxy/message"
)

// TimeOutMiddleware bounds the worker-side execution of a single call. The handler sees the
// deadline through ctx; if it does not return in time the call fails anyway and its late
// result is dropped.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.Failure("Error: request timed out")
			}
		}
	}
}
