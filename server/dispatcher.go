package server

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stub-rpc/middleware"
	"stub-rpc/protocol"
	"stub-rpc/transport"
)

// Dispatcher routes call frames to registered handlers by service name.
//
// One Dispatcher serves any number of transports, each from its own
// goroutine; frames on a single transport are handled strictly in order.
// Handlers may be registered and replaced while transports are being served.
type Dispatcher struct {
	mu          sync.RWMutex
	services    map[string]Handler
	middlewares []middleware.Middleware
	chain       middleware.Middleware

	log        logrus.FieldLogger
	streamOpts []transport.Option
	strict     bool
}

type Option func(*Dispatcher)

func WithLogger(log logrus.FieldLogger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// WithMiddleware wraps every method invocation, first argument outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(d *Dispatcher) { d.middlewares = append(d.middlewares, mws...) }
}

// WithStreamOptions configures the Stream that Serve builds around a transport.
func WithStreamOptions(opts ...transport.Option) Option {
	return func(d *Dispatcher) { d.streamOpts = append(d.streamOpts, opts...) }
}

// WithStrictRouting closes a connection on an unknown service or method
// instead of logging it and reading on.
//
// Without it the rest of a misrouted frame stays on the stream and is read
// as the next frame, and the caller, which gets no reply, waits until its
// own read timeout. With it the caller sees the connection close.
func WithStrictRouting() Option {
	return func(d *Dispatcher) { d.strict = true }
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		services: make(map[string]Handler),
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.chain = middleware.Chain(d.middlewares...)
	return d
}

// Register binds name to h, replacing any handler already bound to it.
func (d *Dispatcher) Register(name string, h Handler) error {
	if name == "" {
		return errors.New("server: empty service name")
	}
	if h == nil {
		return errors.Errorf("server: nil handler for service %q", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.services[name]; ok {
		d.log.WithField("service", name).Info("replacing service handler")
	}
	d.services[name] = h
	return nil
}

func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.services, name)
}

// Services lists the registered service names, sorted.
func (d *Dispatcher) Services() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.services))
	for name := range d.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Use appends middleware. Frames already being dispatched keep the chain
// they started with.
func (d *Dispatcher) Use(mws ...middleware.Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, mws...)
	d.chain = middleware.Chain(d.middlewares...)
}

func (d *Dispatcher) lookup(name string) (Handler, middleware.Middleware) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.services[name], d.chain
}

// Serve dispatches frames from t until it ends. A clean end of stream
// returns nil. The transport is not closed.
func (d *Dispatcher) Serve(t transport.Transport) error {
	return d.ServeStream(context.Background(), transport.NewStream(t, d.streamOpts...))
}

// ServeStream runs the dispatch loop on an existing stream:
//
//	AwaitingServiceName → Dispatching → AwaitingServiceName → ... → Closed
//
// Unknown services and methods are logged and the loop carries on with the
// next value on the stream, unless strict routing is on. Any other failure
// ends the loop and is returned, since the wire has no way to report it to
// the peer.
func (d *Dispatcher) ServeStream(ctx context.Context, s *transport.Stream) error {
	log := d.log.WithField("remote", s.RemoteAddr())

	for {
		if ctx.Err() != nil {
			log.WithField("state", protocol.Closed).Debug("context done")
			return nil
		}

		service, err := protocol.ReadServiceName(s)
		switch {
		case err == io.EOF:
			log.WithField("state", protocol.Closed).Debug("connection closed by peer")
			return nil
		case transport.IsTimeout(err) && !isFrameError(err):
			log.WithField("state", protocol.Closed).Debug("connection idle")
			return nil
		case err != nil:
			log.WithError(err).WithField("state", protocol.AwaitingServiceName).Error("reading service name")
			return err
		}

		h, chain := d.lookup(service)
		if h == nil {
			err = &protocol.UnknownServiceError{Service: service}
		} else {
			err = h.Handle(ctx, NewRequest(service, s, chain))
		}
		if err == nil {
			continue
		}

		entry := log.WithError(err).WithFields(logrus.Fields{
			"service": service,
			"state":   protocol.Dispatching,
		})
		if protocol.IsRoutingMiss(err) && !d.strict {
			entry.Warn("routing miss")
			continue
		}
		entry.WithField("state", protocol.Closed).Error("closing connection")
		return err
	}
}

func isFrameError(err error) bool {
	var pe *protocol.Error
	return errors.As(err, &pe)
}
