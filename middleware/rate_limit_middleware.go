package middleware

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"stub-rpc/message"
)

// RateLimitMiddleware 令牌桶限流：桶空时等待令牌，ctx 结束则拒绝
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, errors.Wrapf(ErrRateLimited, "%s: %v", call.ServiceMethod(), err)
			}
			return next(ctx, call)
		}
	}
}
