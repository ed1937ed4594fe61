// Package server hosts server wrappers: a Dispatcher that routes call frames
// by service name, and a TCP Server that runs one dispatch loop per
// connection.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection)
//	  → read service name → Handler.Handle
//	    → read method name → decode args → Middleware Chain → implementation → encode reply → flush
//	  → read next service name ...
//
// Calls on one connection are strictly sequential; concurrency comes from
// serving many connections at once.
package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stub-rpc/idl"
	"stub-rpc/middleware"
	"stub-rpc/registry"
	"stub-rpc/transport"
)

// Server is the RPC server that registers services and handles incoming connections.
type Server struct {
	cfg        *Config
	dispatcher *Dispatcher
	log        logrus.FieldLogger

	ctx    context.Context // handed to every handler, cancelled when shutdown gives up waiting
	cancel context.CancelFunc

	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	advertised []string

	wg       sync.WaitGroup // Tracks live connections for graceful shutdown
	shutdown atomic.Bool    // Set during shutdown to suppress Accept errors
}

// NewServer creates a server from cfg; nil means DefaultConfig().
//
// Every call passes through panic recovery and logging, then the
// HandlerTimeout and RateLimit middleware when configured, then anything
// added with Use.
func NewServer(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	mws := []middleware.Middleware{
		middleware.RecoveryMiddleware(),
		middleware.LoggingMiddleware(cfg.Logger),
	}
	if cfg.HandlerTimeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.HandlerTimeout))
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}

	opts := []Option{
		WithLogger(cfg.Logger),
		WithMiddleware(mws...),
		WithStreamOptions(cfg.StreamOptions()...),
	}
	if cfg.StrictRouting {
		opts = append(opts, WithStrictRouting())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		dispatcher: NewDispatcher(opts...),
		log:        cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[net.Conn]struct{}),
	}
}

func (svr *Server) Dispatcher() *Dispatcher { return svr.dispatcher }

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.dispatcher.Use(mw)
}

// Register binds a handler, usually a generated wrapper, to a service name.
// A service registered while the server is running is advertised at once.
func (svr *Server) Register(name string, h Handler) error {
	if err := svr.dispatcher.Register(name, h); err != nil {
		return err
	}
	svr.mu.Lock()
	serving := svr.listener != nil
	svr.mu.Unlock()
	if serving && !svr.shutdown.Load() {
		return svr.advertise(name)
	}
	return nil
}

// RegisterService wraps impl with a reflective wrapper for decl and registers it.
func (svr *Server) RegisterService(decl *idl.Declaration, impl any) error {
	svc, err := NewService(decl, impl)
	if err != nil {
		return err
	}
	return svr.Register(decl.Name(), svc)
}

// Serve listens on the given address and serves until Shutdown.
func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return &transport.Error{Op: "listen", Err: err}
	}
	return svr.ServeListener(listener)
}

// ServeListener advertises every registered service and enters the accept
// loop. It returns nil after Shutdown.
func (svr *Server) ServeListener(listener net.Listener) error {
	if err := svr.bind(listener); err != nil {
		return err
	}
	return svr.acceptLoop(listener)
}

// Start is ServeListener without the wait: the server is listening and its
// services are advertised when Start returns, and the accept loop runs in
// the background until Shutdown.
func (svr *Server) Start(listener net.Listener) error {
	if err := svr.bind(listener); err != nil {
		return err
	}
	go func() {
		if err := svr.acceptLoop(listener); err != nil {
			svr.log.WithError(err).Error("accept loop stopped")
		}
	}()
	return nil
}

func (svr *Server) bind(listener net.Listener) error {
	if err := svr.cfg.check(); err != nil {
		listener.Close()
		return err
	}

	svr.mu.Lock()
	svr.listener = listener
	svr.mu.Unlock()
	svr.log.WithField("addr", listener.Addr().String()).Info("server listening")

	for _, name := range svr.dispatcher.Services() {
		if err := svr.advertise(name); err != nil {
			listener.Close()
			return err
		}
	}
	return nil
}

// Accept loop: one goroutine per connection
func (svr *Server) acceptLoop(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			// listener.Close() during shutdown makes Accept fail on purpose
			if svr.shutdown.Load() {
				return nil
			}
			return &transport.Error{Op: "accept", Err: err}
		}
		svr.track(conn, true)
		svr.wg.Add(1)
		go svr.handleConn(conn)
	}
}

// Addr is the listening address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

func (svr *Server) track(conn net.Conn, add bool) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if add {
		svr.conns[conn] = struct{}{}
	} else {
		delete(svr.conns, conn)
	}
}

func (svr *Server) handleConn(conn net.Conn) {
	defer svr.wg.Done()
	defer svr.track(conn, false)
	defer conn.Close()

	log := svr.log.WithField("conn", conn.RemoteAddr().String())
	log.Debug("connection accepted")

	stream := transport.NewStream(conn, svr.cfg.StreamOptions()...)
	if err := svr.dispatcher.ServeStream(svr.ctx, stream); err != nil && !svr.shutdown.Load() {
		log.WithError(err).Warn("connection dropped")
	}
}

// advertise registers name once; re-registering a handler does not
// advertise it again.
func (svr *Server) advertise(name string) error {
	if svr.cfg.Registry == nil {
		return nil
	}
	svr.mu.Lock()
	for _, n := range svr.advertised {
		if n == name {
			svr.mu.Unlock()
			return nil
		}
	}
	svr.advertised = append(svr.advertised, name)
	svr.mu.Unlock()

	inst := registry.ServiceInstance{Addr: svr.cfg.AdvertiseAddr}
	if err := svr.cfg.Registry.Register(svr.ctx, name, inst, svr.cfg.RegistryTTL); err != nil {
		svr.mu.Lock()
		for i, n := range svr.advertised {
			if n == name {
				svr.advertised = append(svr.advertised[:i:i], svr.advertised[i+1:]...)
				break
			}
		}
		svr.mu.Unlock()
		return errors.Wrapf(err, "server: advertise %s", name)
	}
	svr.log.WithFields(logrus.Fields{"service": name, "addr": inst.Addr}).Info("service advertised")
	return nil
}

// Shutdown performs graceful shutdown:
//  1. Deregister all services (clients stop dialling this server)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for connections to end; when ctx is done, close them
//
// A ctx without deadline is bounded by Config.ShutdownTimeout.
func (svr *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && svr.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, svr.cfg.ShutdownTimeout)
		defer cancel()
	}

	svr.mu.Lock()
	advertised := svr.advertised
	svr.advertised = nil
	listener := svr.listener
	svr.mu.Unlock()

	if svr.cfg.Registry != nil {
		for _, name := range advertised {
			if err := svr.cfg.Registry.Deregister(ctx, name, svr.cfg.AdvertiseAddr); err != nil {
				svr.log.WithError(err).WithField("service", name).Warn("deregister failed")
			}
		}
	}

	svr.shutdown.Store(true)
	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		svr.cancel()
		return nil
	case <-ctx.Done():
	}

	svr.cancel()
	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	<-done
	return errors.Wrap(ctx.Err(), "server: connections still open at shutdown")
}

