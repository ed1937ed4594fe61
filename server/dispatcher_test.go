package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stub-rpc/idl"
	"stub-rpc/message"
	"stub-rpc/middleware"
	"stub-rpc/protocol"
	"stub-rpc/transport"
)

var echoDecl = idl.MustDeclare("Echo",
	idl.Method{Name: "test", Params: []idl.Param{{Name: "s", Type: "string"}}, Returns: "string"},
	idl.Method{Name: "add", Params: []idl.Param{{Name: "a", Type: "int64"}, {Name: "b", Type: "int64"}}, Returns: "int64"},
	idl.Method{Name: "fail", Params: []idl.Param{{Name: "s", Type: "string"}}, Returns: "string", Errors: true},
)

type echoImpl struct{}

func (echoImpl) Test(s string) string { return s }

func (echoImpl) Add(ctx context.Context, a, b int64) (int64, error) { return a + b, nil }

func (echoImpl) Fail(s string) (string, error) { return "", errors.New("refused: " + s) }

// pipeDispatcher serves one end of a pipe and returns a stream on the other.
func pipeDispatcher(t *testing.T, d *Dispatcher) (*transport.Stream, net.Conn, <-chan error) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	done := make(chan error, 1)
	go func() { done <- d.Serve(b) }()
	return transport.NewStream(a), a, done
}

func newEchoDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	d := NewDispatcher(append([]Option{WithLogger(logger)}, opts...)...)
	svc, err := NewService(echoDecl, echoImpl{})
	require.NoError(t, err)
	require.NoError(t, d.Register("Echo", svc))
	return d, hook
}

func call(s *transport.Stream, service, method string, reply any, args ...any) error {
	if err := protocol.WriteCall(s, service, method, args...); err != nil {
		return err
	}
	return protocol.ReadReply(s, reply)
}

func waitServe(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestDispatchEcho(t *testing.T) {
	d, _ := newEchoDispatcher(t)
	cs, conn, done := pipeDispatcher(t, d)

	var reply string
	require.NoError(t, call(cs, "Echo", "test", &reply, "zkr"))
	assert.Equal(t, "zkr", reply)

	require.NoError(t, conn.Close())
	assert.NoError(t, waitServe(t, done))
}

func TestDispatchSequentialCalls(t *testing.T) {
	d, _ := newEchoDispatcher(t)
	cs, conn, done := pipeDispatcher(t, d)

	for _, tc := range []struct{ a, b, want int64 }{{1, 2, 3}, {10, 20, 30}, {-5, 5, 0}} {
		var sum int64
		require.NoError(t, call(cs, "Echo", "add", &sum, tc.a, tc.b))
		assert.Equal(t, tc.want, sum)

		var s string
		require.NoError(t, call(cs, "Echo", "test", &s, "again"))
		assert.Equal(t, "again", s)
	}

	conn.Close()
	assert.NoError(t, waitServe(t, done))
}

func TestDispatchUnknownService(t *testing.T) {
	d, hook := newEchoDispatcher(t)
	cs, conn, done := pipeDispatcher(t, d)

	// a lone service name nobody serves: logged, then the loop carries on
	require.NoError(t, cs.Encode("Nope"))
	require.NoError(t, cs.Flush())

	var reply string
	require.NoError(t, call(cs, "Echo", "test", &reply, "zkr"))
	assert.Equal(t, "zkr", reply)

	conn.Close()
	require.NoError(t, waitServe(t, done))

	var found bool
	for _, e := range hook.AllEntries() {
		var se *protocol.UnknownServiceError
		if err, ok := e.Data[logrus.ErrorKey].(error); ok && errors.As(err, &se) {
			found = true
			assert.Equal(t, "Nope", se.Service)
			assert.Equal(t, logrus.WarnLevel, e.Level)
		}
	}
	assert.True(t, found, "unknown service was not logged")
}

func TestDispatchUnknownMethod(t *testing.T) {
	d, hook := newEchoDispatcher(t)
	cs, conn, done := pipeDispatcher(t, d)

	require.NoError(t, cs.Encode("Echo"))
	require.NoError(t, cs.Encode("nope"))
	require.NoError(t, cs.Flush())

	var reply string
	require.NoError(t, call(cs, "Echo", "test", &reply, "still here"))
	assert.Equal(t, "still here", reply)

	conn.Close()
	require.NoError(t, waitServe(t, done))

	var found bool
	for _, e := range hook.AllEntries() {
		var me *protocol.UnknownMethodError
		if err, ok := e.Data[logrus.ErrorKey].(error); ok && errors.As(err, &me) {
			found = true
			assert.Equal(t, "nope", me.Method)
		}
	}
	assert.True(t, found, "unknown method was not logged")
}

func TestDispatchStrictRouting(t *testing.T) {
	d, _ := newEchoDispatcher(t, WithStrictRouting())
	cs, _, done := pipeDispatcher(t, d)

	require.NoError(t, protocol.WriteCall(cs, "Nope", "test", "zkr"))

	err := waitServe(t, done)
	var se *protocol.UnknownServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Nope", se.Service)
}

func TestDispatchTruncatedServiceName(t *testing.T) {
	d, _ := newEchoDispatcher(t)
	a, b := net.Pipe()
	defer b.Close()
	done := make(chan error, 1)
	go func() { done <- d.Serve(b) }()

	_, err := a.Write([]byte{5, 0, 0})
	require.NoError(t, err)
	a.Close()

	err = waitServe(t, done)
	var pe *protocol.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, protocol.AwaitingServiceName, pe.State)
}

func TestDispatchIdleTimeout(t *testing.T) {
	d, _ := newEchoDispatcher(t, WithStreamOptions(transport.WithIdleTimeout(50*time.Millisecond)))
	_, _, done := pipeDispatcher(t, d)

	// nothing sent: an idle connection ends quietly
	assert.NoError(t, waitServe(t, done))
}

func TestDispatchTimeoutInsideServiceName(t *testing.T) {
	d, _ := newEchoDispatcher(t, WithStreamOptions(transport.WithIdleTimeout(50*time.Millisecond)))
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	done := make(chan error, 1)
	go func() { done <- d.Serve(b) }()

	// three bytes of a length prefix, then silence
	_, err := a.Write([]byte{5, 0, 0})
	require.NoError(t, err)

	err = waitServe(t, done)
	var pe *protocol.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, protocol.AwaitingServiceName, pe.State)
	assert.True(t, transport.IsTimeout(err))
}

func TestDispatchImplementationError(t *testing.T) {
	d, _ := newEchoDispatcher(t)
	a, b := net.Pipe()
	defer a.Close()
	done := make(chan error, 1)
	go func() { done <- d.Serve(b) }()

	cs := transport.NewStream(a)
	clientErr := make(chan error, 1)
	go func() {
		var reply string
		clientErr <- call(cs, "Echo", "fail", &reply, "x")
	}()

	err := waitServe(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Echo.fail")
	assert.Contains(t, err.Error(), "refused: x")

	// no error envelope exists: the client only sees the connection go away
	b.Close()
	var te *transport.Error
	assert.ErrorAs(t, <-clientErr, &te)
}

func TestDispatchMiddleware(t *testing.T) {
	var seen []string
	record := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, c *message.Call) (any, error) {
			seen = append(seen, c.String())
			return next(ctx, c)
		}
	}
	d, _ := newEchoDispatcher(t, WithMiddleware(record))
	cs, conn, done := pipeDispatcher(t, d)

	var reply string
	require.NoError(t, call(cs, "Echo", "test", &reply, "zkr"))
	conn.Close()
	require.NoError(t, waitServe(t, done))

	assert.Equal(t, []string{`Echo.test("zkr")`}, seen)
}

func TestDispatchHandlerFunc(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(WithLogger(logger))
	upper := Methods{
		"shout": func(ctx context.Context, req *Request) error {
			var s string
			if err := req.Decode(&s); err != nil {
				return err
			}
			return req.Reply(ctx, []any{s}, func(ctx context.Context) (any, error) {
				return s + "!", nil
			})
		},
	}
	require.NoError(t, d.Register("Loud", HandlerFunc(func(ctx context.Context, req *Request) error {
		return req.Route(ctx, upper)
	})))

	cs, conn, done := pipeDispatcher(t, d)
	var reply string
	require.NoError(t, call(cs, "Loud", "shout", &reply, "hey"))
	assert.Equal(t, "hey!", reply)
	conn.Close()
	require.NoError(t, waitServe(t, done))
}

func TestDispatchCompressedStream(t *testing.T) {
	d, _ := newEchoDispatcher(t, WithStreamOptions(transport.WithCompression(true)))
	a, b := net.Pipe()
	defer b.Close()
	done := make(chan error, 1)
	go func() { done <- d.Serve(b) }()

	cs := transport.NewStream(a, transport.WithCompression(true))
	var reply string
	require.NoError(t, call(cs, "Echo", "test", &reply, "squeezed"))
	assert.Equal(t, "squeezed", reply)
	a.Close()
	require.NoError(t, waitServe(t, done))
}

func TestDispatcherRegistry(t *testing.T) {
	d := NewDispatcher()
	assert.Error(t, d.Register("", HandlerFunc(nil)))
	assert.Error(t, d.Register("Echo", nil))

	svc, err := NewService(echoDecl, echoImpl{})
	require.NoError(t, err)
	require.NoError(t, d.Register("Echo", svc))
	require.NoError(t, d.Register("Alias", svc))
	require.NoError(t, d.Register("Echo", svc))
	assert.Equal(t, []string{"Alias", "Echo"}, d.Services())

	d.Unregister("Alias")
	assert.Equal(t, []string{"Echo"}, d.Services())
}
