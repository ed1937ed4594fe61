package middleware

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"stub-rpc/message"
)

type result struct {
	reply any
	err   error
}

// TimeOutMiddleware bounds how long an implementation may run. The
// implementation keeps running in the background after the deadline; it
// only sees the cancelled context.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan result, 1)
			go func() {
				// a panic here would escape RecoveryMiddleware
				defer func() {
					if r := recover(); r != nil {
						done <- result{err: errors.Errorf("%s panicked: %v", call.ServiceMethod(), r)}
					}
				}()
				reply, err := next(ctx, call)
				done <- result{reply, err}
			}()

			select {
			case r := <-done:
				return r.reply, r.err
			case <-ctx.Done():
				return nil, errors.Wrapf(ErrTimeout, "%s after %s", call.ServiceMethod(), timeout)
			}
		}
	}
}
