// Package client holds the client side of a call: Proxy runs round trips
// over one transport, Resolver finds and dials service instances, and
// Client combines the two behind service names.
package client

import (
	"context"
	"sync"

	"stub-rpc/transport"
)

// Client keeps one Proxy per service, dialled through a Resolver on first
// use. A proxy whose round trip failed is dropped, so the next call dials a
// fresh connection; the failed call itself is not repeated.
type Client struct {
	resolver   *Resolver
	streamOpts []transport.Option

	mu      sync.Mutex
	proxies map[string]*Proxy
}

func NewClient(resolver *Resolver, opts ...transport.Option) *Client {
	return &Client{
		resolver:   resolver,
		streamOpts: opts,
		proxies:    make(map[string]*Proxy),
	}
}

// Proxy returns the live proxy for service, dialling one if needed. The
// dial runs without the lock so a slow service does not hold up the others.
func (c *Client) Proxy(ctx context.Context, service string) (*Proxy, error) {
	if p := c.live(service); p != nil {
		return p, nil
	}
	conn, err := c.resolver.Dial(ctx, service)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// 并发拨号时保留先到的那个
	if p, ok := c.proxies[service]; ok && p.Err() == nil {
		conn.Close()
		return p, nil
	}
	p := NewProxy(conn, c.streamOpts...)
	c.proxies[service] = p
	return p, nil
}

func (c *Client) live(service string) *Proxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.proxies[service]; ok && p.Err() == nil {
		return p
	}
	return nil
}

func (c *Client) Call(ctx context.Context, service, method string, reply any, args ...any) error {
	p, err := c.Proxy(ctx, service)
	if err != nil {
		return err
	}
	if err := p.Call(service, method, reply, args...); err != nil {
		c.drop(service, p)
		return err
	}
	return nil
}

func (c *Client) drop(service string, p *Proxy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proxies[service] == p {
		delete(c.proxies, service)
	}
	p.Close()
}

// Close closes every proxy.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for name, p := range c.proxies {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
		delete(c.proxies, name)
	}
	return first
}
