package server

import (
	"context"

	"github.com/pkg/errors"

	"stub-rpc/message"
	"stub-rpc/middleware"
	"stub-rpc/protocol"
	"stub-rpc/transport"
)

// Handler serves the remainder of one call frame after the dispatcher has
// read the service name. Server wrappers, generated or reflective, implement
// it.
type Handler interface {
	Handle(ctx context.Context, req *Request) error
}

type HandlerFunc func(ctx context.Context, req *Request) error

func (f HandlerFunc) Handle(ctx context.Context, req *Request) error { return f(ctx, req) }

// MethodFunc decodes one method's arguments and replies.
type MethodFunc func(ctx context.Context, req *Request) error

// Methods maps wire method names to their MethodFunc.
type Methods map[string]MethodFunc

// Registrar is what generated Register<Name> functions register with; both
// Dispatcher and Server satisfy it.
type Registrar interface {
	Register(name string, h Handler) error
}

// Request is one call frame being dispatched.
type Request struct {
	Service string
	Method  string // set by Route

	stream *transport.Stream
	chain  middleware.Middleware
}

func NewRequest(service string, s *transport.Stream, chain middleware.Middleware) *Request {
	if chain == nil {
		chain = middleware.Chain()
	}
	return &Request{Service: service, stream: s, chain: chain}
}

func (r *Request) Stream() *transport.Stream { return r.stream }

// Route reads the method name and hands the frame to its MethodFunc. An
// undeclared method is a *protocol.UnknownMethodError.
func (r *Request) Route(ctx context.Context, methods Methods) error {
	method, err := protocol.ReadMethodName(r.stream)
	if err != nil {
		return err
	}
	r.Method = method
	fn, ok := methods[method]
	if !ok {
		return &protocol.UnknownMethodError{Service: r.Service, Method: method}
	}
	return fn(ctx, r)
}

// Decode reads the next argument of the frame into v.
func (r *Request) Decode(v any) error {
	return protocol.ReadArg(r.stream, v)
}

// Reply runs fn through the middleware chain, then writes and flushes its
// result. args are the decoded arguments, shown to middleware only.
func (r *Request) Reply(ctx context.Context, args []any, fn func(ctx context.Context) (any, error)) error {
	call := &message.Call{
		Service: r.Service,
		Method:  r.Method,
		Args:    args,
		Remote:  r.stream.RemoteAddr(),
	}
	invoke := func(ctx context.Context, _ *message.Call) (any, error) {
		return fn(ctx)
	}
	reply, err := r.chain(invoke)(ctx, call)
	if err != nil {
		return errors.Wrap(err, call.ServiceMethod())
	}
	return protocol.WriteReply(r.stream, reply)
}
