package client

import (
	"net"
	"sync"

	"stub-rpc/protocol"
	"stub-rpc/transport"
)

// Proxy performs calls over one transport it owns exclusively.
//
// A round trip holds the proxy's lock from the first byte written to the
// last byte of the reply read, so concurrent callers are served one after
// another and never interleave on the wire. A failed round trip leaves the
// stream in an unknown position, so the proxy refuses further calls; the
// caller decides whether to dial again.
type Proxy struct {
	mu     sync.Mutex
	stream *transport.Stream
	err    error // sticky failure
}

func NewProxy(t transport.Transport, opts ...transport.Option) *Proxy {
	return &Proxy{stream: transport.NewStream(t, opts...)}
}

// Call writes service, method and args in order, flushes, and decodes the
// single reply value into reply.
func (p *Proxy) Call(service, method string, reply any, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	if err := protocol.WriteCall(p.stream, service, method, args...); err != nil {
		p.err = err
		return err
	}
	if err := protocol.ReadReply(p.stream, reply); err != nil {
		p.err = err
		return err
	}
	return nil
}

// Err returns the failure that made the proxy unusable, if any.
func (p *Proxy) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close closes the transport. Calls after Close fail.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = &transport.Error{Op: "write", Err: net.ErrClosed}
	}
	return p.stream.Close()
}
