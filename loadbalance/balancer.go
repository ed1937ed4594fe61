// Package loadbalance chooses which service instance a client dials.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless services, equal-capacity instances
//   - WeightedRandom:  Heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  Stateful services requiring affinity for a key
package loadbalance

import (
	"github.com/pkg/errors"

	"stub-rpc/registry"
)

var ErrNoInstances = registry.ErrNoInstances

// Balancer is the interface for load balancing strategies.
// The resolver calls Pick() before each dial; implementations must be goroutine-safe.
type Balancer interface {
	// Pick selects one instance. key is only meaningful to key-based
	// strategies and may be empty.
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name: "roundrobin",
// "weightedrandom" or "consistenthash".
func New(name string) (Balancer, error) {
	switch name {
	case "", "roundrobin":
		return &RoundRobinBalancer{}, nil
	case "weightedrandom":
		return &WeightedRandomBalancer{}, nil
	case "consistenthash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, errors.Errorf("loadbalance: unknown strategy %q", name)
}

func weightOf(inst registry.ServiceInstance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
