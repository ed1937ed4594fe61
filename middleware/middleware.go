// Package middleware wraps server-side method invocations.
//
// A HandlerFunc runs after the wrapper has decoded every argument of a call
// and before the reply is encoded. Middleware may refuse a call by returning
// an error; since the wire has no error envelope the dispatcher then closes
// the connection.
package middleware

import (
	"context"

	"github.com/pkg/errors"

	"stub-rpc/message"
)

var (
	ErrTimeout     = errors.New("request timed out")
	ErrRateLimited = errors.New("rate limit exceeded")
)

type HandlerFunc func(ctx context.Context, call *message.Call) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件，第一个在最外层
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
