package transport

import (
	"bufio"
	"io"
	"time"

	"github.com/golang/snappy"

	"stub-rpc/codec"
)

// Stream reads and writes whole values over one Transport.
//
// A Stream is not safe for concurrent use. Exactly one conversation runs over
// a transport at a time: the client proxy holds a lock across a round trip,
// and the dispatcher reads frames in a single loop.
type Stream struct {
	t    Transport
	opts Options

	in  *countingReader
	dec codec.Decoder

	bw *bufio.Writer
	sw *snappy.Writer
	w  io.Writer
}

func NewStream(t Transport, opts ...Option) *Stream {
	o := newOptions(opts)
	s := &Stream{t: t, opts: o}

	var src io.Reader = t
	if o.Compression {
		src = snappy.NewReader(src)
	}
	s.in = &countingReader{r: bufio.NewReaderSize(src, o.BufferSize)}
	s.dec = o.Codec.NewDecoder(s.in)

	s.bw = bufio.NewWriterSize(t, o.BufferSize)
	s.w = s.bw
	if o.Compression {
		s.sw = snappy.NewBufferedWriter(s.bw)
		s.w = s.sw
	}
	return s
}

func (s *Stream) Codec() codec.Codec { return s.opts.Codec }

func (s *Stream) Transport() Transport { return s.t }

// RemoteAddr names the peer when the transport knows it.
func (s *Stream) RemoteAddr() string {
	if ra, ok := s.t.(remoteAddresser); ok && ra.RemoteAddr() != nil {
		return ra.RemoteAddr().String()
	}
	return ""
}

// Encode buffers one value. Nothing reaches the peer before Flush.
func (s *Stream) Encode(v any) error {
	b, err := s.opts.Codec.Encode(v)
	if err != nil {
		return err
	}
	s.setWriteDeadline()
	if _, err := s.w.Write(b); err != nil {
		return &Error{Op: "write", Err: err}
	}
	return nil
}

func (s *Stream) Flush() error {
	s.setWriteDeadline()
	if s.sw != nil {
		if err := s.sw.Flush(); err != nil {
			return &Error{Op: "flush", Err: err}
		}
	}
	if err := s.bw.Flush(); err != nil {
		return &Error{Op: "flush", Err: err}
	}
	return nil
}

// Decode reads one value inside a frame. A stream that ends before the value's
// first byte yields io.EOF; one that ends inside it yields a *codec.Error.
func (s *Stream) Decode(v any) error {
	return s.decode(v, s.opts.ReadTimeout)
}

// Await reads the first value of the next frame, waiting at most IdleTimeout
// for it to start.
func (s *Stream) Await(v any) error {
	return s.decode(v, s.opts.IdleTimeout)
}

func (s *Stream) decode(v any, timeout time.Duration) error {
	s.setReadDeadline(timeout)
	s.in.reset()
	err := s.dec.Decode(v)
	if err == nil {
		return nil
	}

	rerr := s.in.err
	switch {
	case rerr == nil:
		return err
	case IsClosed(rerr) && s.in.n == 0:
		return io.EOF
	case IsClosed(rerr):
		if codec.IsTruncated(err) {
			return err
		}
		return &codec.Error{Op: "decode", Err: codec.ErrTruncated}
	}
	return &Error{Op: "read", Err: rerr}
}

// Partial reports whether the last Decode or Await consumed any bytes, so a
// failure after it stopped in the middle of a value.
func (s *Stream) Partial() bool { return s.in.n > 0 }

// Close closes the transport if it can be closed.
func (s *Stream) Close() error {
	c, ok := s.t.(io.Closer)
	if !ok {
		return nil
	}
	if err := c.Close(); err != nil {
		return &Error{Op: "close", Err: err}
	}
	return nil
}

func (s *Stream) setReadDeadline(d time.Duration) {
	dl, ok := s.t.(deadliner)
	if !ok || !s.opts.hasTimeouts() {
		return
	}
	if d > 0 {
		_ = dl.SetReadDeadline(time.Now().Add(d))
	} else {
		_ = dl.SetReadDeadline(time.Time{})
	}
}

func (s *Stream) setWriteDeadline() {
	dl, ok := s.t.(deadliner)
	if !ok || s.opts.WriteTimeout <= 0 {
		return
	}
	_ = dl.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
}

// countingReader records how much of the current value was consumed and how
// the underlying reader failed, if it did.
type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) reset() {
	c.n, c.err = 0, nil
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil {
		c.err = err
	}
	return n, err
}
