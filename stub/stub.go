// Package stub derives a client proxy and a server wrapper from one
// declaration at run time. Both sides read the same *idl.Declaration, so
// they agree on the method set, the argument order and the argument types
// without any generated code.
//
//	decl := idl.MustDeclare("Echo", idl.Method{Name: "test", Params: []idl.Param{{Name: "s", Type: "string"}}, Returns: "string"})
//	stubs := stub.Generate(decl)
//
//	w, _ := stubs.NewWrapper(echoImpl{})      // server side
//	dispatcher.Register("Echo", w)
//
//	c := stubs.NewClient(conn)                // client side
//	var reply string
//	err := c.Call("test", &reply, "zkr")
//
// Package gen emits the same pair as typed Go source instead.
package stub

import (
	"context"
	"reflect"

	"github.com/pkg/errors"

	"stub-rpc/client"
	"stub-rpc/idl"
	"stub-rpc/server"
	"stub-rpc/transport"
)

var (
	ErrUnknownMethod = errors.New("method not declared")
	ErrArity         = errors.New("wrong number of arguments")
	ErrArgType       = errors.New("argument type mismatch")
	ErrReplyType     = errors.New("reply type mismatch")
)

// CallError is a call rejected before anything was written because it does
// not fit the declaration.
type CallError struct {
	Service string
	Method  string
	Err     error
}

func (e *CallError) Error() string {
	return "stub: " + e.Service + "." + e.Method + ": " + e.Err.Error()
}

func (e *CallError) Unwrap() error { return e.Err }

func (e *CallError) Cause() error { return e.Err }

// Stubs is the client/wrapper pair for one declaration.
type Stubs struct {
	decl *idl.Declaration
}

func Generate(decl *idl.Declaration) *Stubs {
	return &Stubs{decl: decl}
}

func (s *Stubs) Declaration() *idl.Declaration { return s.decl }

// NewClient returns a client that owns t.
func (s *Stubs) NewClient(t transport.Transport, opts ...transport.Option) *Client {
	return &Client{decl: s.decl, proxy: client.NewProxy(t, opts...)}
}

// NewWrapper binds impl to the declaration. impl needs one exported method
// per declared method, named idl.GoName(m.Name).
func (s *Stubs) NewWrapper(impl any) (*Wrapper, error) {
	svc, err := server.NewService(s.decl, impl)
	if err != nil {
		return nil, err
	}
	return &Wrapper{svc: svc}, nil
}

// Register wraps impl and registers it under the declaration's name.
func (s *Stubs) Register(r server.Registrar, impl any) error {
	w, err := s.NewWrapper(impl)
	if err != nil {
		return err
	}
	return r.Register(s.decl.Name(), w)
}

// Client calls the methods of one declaration by name.
type Client struct {
	decl  *idl.Declaration
	proxy *client.Proxy
}

// Call checks method, args and reply against the declaration, then performs
// the round trip. reply must be a non-nil pointer to the declared return
// type.
func (c *Client) Call(method string, reply any, args ...any) error {
	if err := c.check(method, reply, args); err != nil {
		return err
	}
	return c.proxy.Call(c.decl.Name(), method, reply, args...)
}

func (c *Client) check(method string, reply any, args []any) error {
	fail := func(err error) error {
		return &CallError{Service: c.decl.Name(), Method: method, Err: err}
	}
	m, ok := c.decl.Method(method)
	if !ok {
		return fail(ErrUnknownMethod)
	}
	if len(args) != len(m.Params) {
		return fail(errors.Wrapf(ErrArity, "have %d, declared %d", len(args), len(m.Params)))
	}
	for i, p := range m.Params {
		if !idl.TypeMatches(p.Type, reflect.TypeOf(args[i])) {
			return fail(errors.Wrapf(ErrArgType, "%s: declared %s, have %T", p.Name, p.Type, args[i]))
		}
	}
	rv := reflect.ValueOf(reply)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fail(errors.Wrapf(ErrReplyType, "reply must be a non-nil pointer, have %T", reply))
	}
	if !idl.TypeMatches(m.Returns, rv.Type().Elem()) {
		return fail(errors.Wrapf(ErrReplyType, "declared %s, have %T", m.Returns, reply))
	}
	return nil
}

// Err is the failure that made the client unusable, if any.
func (c *Client) Err() error { return c.proxy.Err() }

func (c *Client) Close() error { return c.proxy.Close() }

// Wrapper serves one implementation for the dispatcher.
type Wrapper struct {
	svc *server.Service
}

func (w *Wrapper) Handle(ctx context.Context, req *server.Request) error {
	return w.svc.Handle(ctx, req)
}

func (w *Wrapper) Declaration() *idl.Declaration { return w.svc.Declaration() }

// Methods is the wire method name to MethodFunc table.
func (w *Wrapper) Methods() server.Methods { return w.svc.Methods() }
