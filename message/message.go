// Package message defines the call record passed through server middleware.
//
// Nothing in this package is written to the wire: a Call is assembled by the
// server wrapper after it has decoded the frame, so interceptors can see what
// is being invoked without knowing the declaration.
package message

import (
	"fmt"
	"strings"
)

// Call describes one decoded invocation.
type Call struct {
	Service string // service name, as registered with the dispatcher
	Method  string // wire method name
	Args    []any  // decoded arguments in declared order
	Remote  string // peer address, empty when the transport has none
}

// ServiceMethod returns "Service.method".
func (c *Call) ServiceMethod() string {
	return c.Service + "." + c.Method
}

func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = fmt.Sprintf("%#v", a)
	}
	return fmt.Sprintf("%s(%s)", c.ServiceMethod(), strings.Join(args, ", "))
}
