package middleware

import (
	"context"

	"github.com/pkg/errors"

	"stub-rpc/message"
)

// RecoveryMiddleware turns a panicking implementation into an error, which
// closes that one connection instead of the whole server.
func RecoveryMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (reply any, err error) {
			defer func() {
				if r := recover(); r != nil {
					reply, err = nil, errors.Errorf("%s panicked: %v", call.ServiceMethod(), r)
				}
			}()
			return next(ctx, call)
		}
	}
}
