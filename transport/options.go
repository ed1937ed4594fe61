package transport

import (
	"time"

	"stub-rpc/codec"
)

const DefaultBufferSize = 4096

// Options configures a Stream. Both ends of a connection must agree on
// Codec and Compression.
type Options struct {
	Codec        codec.Codec
	ReadTimeout  time.Duration // per value read within a frame
	WriteTimeout time.Duration // per write and flush
	IdleTimeout  time.Duration // waiting for the first byte of the next frame
	Compression  bool          // snappy framing on both directions
	BufferSize   int
}

type Option func(*Options)

func WithCodec(c codec.Codec) Option {
	return func(o *Options) { o.Codec = c }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *Options) { o.WriteTimeout = d }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(o *Options) { o.IdleTimeout = d }
}

// WithCompression wraps the stream in snappy's framing format.
func WithCompression(on bool) Option {
	return func(o *Options) { o.Compression = on }
}

func WithBufferSize(n int) Option {
	return func(o *Options) { o.BufferSize = n }
}

func newOptions(opts []Option) Options {
	o := Options{
		Codec:      &codec.BinaryCodec{},
		BufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Codec == nil {
		o.Codec = &codec.BinaryCodec{}
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	return o
}

func (o Options) hasTimeouts() bool {
	return o.ReadTimeout > 0 || o.WriteTimeout > 0 || o.IdleTimeout > 0
}
