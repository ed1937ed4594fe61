package client

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stub-rpc/loadbalance"
	"stub-rpc/registry"
	"stub-rpc/transport"
)

// Resolver turns a service name into a connection: it asks the registry
// for instances, lets the balancer pick one and dials it. Failed dials are
// retried with exponential backoff, picking again each time; calls
// themselves are never retried.
type Resolver struct {
	registry    registry.Registry
	balancer    loadbalance.Balancer
	network     string
	dialTimeout time.Duration
	maxRetries  int
	baseDelay   time.Duration
	log         logrus.FieldLogger
}

type ResolverOption func(*Resolver)

func WithDialTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.dialTimeout = d }
}

// WithDialRetry retries a failed dial up to maxRetries times, sleeping
// baseDelay, 2*baseDelay, 4*baseDelay... in between.
func WithDialRetry(maxRetries int, baseDelay time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.maxRetries = maxRetries
		r.baseDelay = baseDelay
	}
}

func WithNetwork(network string) ResolverOption {
	return func(r *Resolver) { r.network = network }
}

func WithResolverLogger(log logrus.FieldLogger) ResolverOption {
	return func(r *Resolver) { r.log = log }
}

func NewResolver(reg registry.Registry, bal loadbalance.Balancer, opts ...ResolverOption) *Resolver {
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	r := &Resolver{
		registry:    reg,
		balancer:    bal,
		network:     "tcp",
		dialTimeout: 5 * time.Second,
		baseDelay:   50 * time.Millisecond,
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dial connects to an instance of service.
func (r *Resolver) Dial(ctx context.Context, service string) (net.Conn, error) {
	return r.DialKey(ctx, service, "")
}

// DialKey connects to the instance the balancer picks for key; with a
// consistent-hash balancer the same key keeps reaching the same instance.
func (r *Resolver) DialKey(ctx context.Context, service, key string) (net.Conn, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := r.baseDelay * time.Duration(1<<(attempt-1))
			r.log.WithFields(logrus.Fields{
				"service": service,
				"attempt": attempt,
				"delay":   delay,
			}).WithError(lastErr).Info("retrying dial")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "client: dial "+service)
			}
		}

		conn, err := r.dialOnce(ctx, service, key)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if errors.Is(err, registry.ErrNoInstances) && r.maxRetries == 0 {
			break
		}
	}
	return nil, lastErr
}

func (r *Resolver) dialOnce(ctx context.Context, service, key string) (net.Conn, error) {
	instances, err := r.registry.Discover(ctx, service)
	if err != nil {
		return nil, errors.Wrapf(err, "client: discover %s", service)
	}
	inst, err := r.balancer.Pick(key, instances)
	if err != nil {
		return nil, errors.Wrapf(err, "client: %s via %s", service, r.balancer.Name())
	}
	conn, err := transport.Dial(ctx, r.network, inst.Addr, r.dialTimeout)
	if err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"service": service, "addr": inst.Addr}).Debug("dialled")
	return conn, nil
}
