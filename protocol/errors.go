package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// State is where a connection's dispatch loop stands.
//
//	AwaitingServiceName ──name read──→ Dispatching ──reply flushed──→ AwaitingServiceName
//	        │                               │
//	        └──────── EOF / failure ────────┴──→ Closed
type State int

const (
	AwaitingServiceName State = iota
	Dispatching
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingServiceName:
		return "awaiting-service-name"
	case Dispatching:
		return "dispatching"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Error is a malformed frame: a service name, method name or argument that
// could not be decoded.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol: malformed frame while %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Cause() error { return e.Err }

// UnknownServiceError is a frame naming a service nobody registered.
type UnknownServiceError struct {
	Service string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("protocol: unknown service %q", e.Service)
}

// UnknownMethodError is a frame naming a method the service does not declare.
type UnknownMethodError struct {
	Service string
	Method  string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("protocol: unknown method %q on service %q", e.Method, e.Service)
}

// IsRoutingMiss reports whether err is an unknown service or method.
func IsRoutingMiss(err error) bool {
	var se *UnknownServiceError
	var me *UnknownMethodError
	return errors.As(err, &se) || errors.As(err, &me)
}
