// Package middleware wraps the worker-side dispatch handler.
//
// Chain(A, B, C)(handler) → A(B(C(handler))): A runs first on the way in and last on the
// way out.
package middleware

import (
	"context"

	"workerproxy/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes several middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
