// Package registry lets servers advertise the services they host and lets
// clients find them.
package registry

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNoInstances is returned when a service has no live instance.
var ErrNoInstances = errors.New("registry: no instances available")

type ServiceInstance struct {
	Addr    string
	Weight  int // Weight for load balancing; 0 counts as 1
	Version string
}

type Registry interface {
	// Register advertises instance under serviceName for ttl seconds,
	// renewed until Deregister or until the registry is closed.
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list on every change until ctx ends.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
