package middleware

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"stub-rpc/message"
)

func LoggingMiddleware(log logrus.FieldLogger) Middleware {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			start := time.Now()
			reply, err := next(ctx, call)
			entry := log.WithFields(logrus.Fields{
				"service":  call.Service,
				"method":   call.Method,
				"remote":   call.Remote,
				"duration": time.Since(start),
			})
			if err != nil {
				entry.WithError(err).Warn("call failed")
			} else {
				entry.Debug("call served")
			}
			return reply, err
		}
	}
}
