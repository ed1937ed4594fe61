// Package transport carries encoded values over a bidirectional byte stream.
//
// A Transport is anything that can be read from and written to in order: a
// TCP connection, a pipe, an in-memory buffer. Closing and deadlines are
// optional capabilities, discovered at run time. A Stream wraps one Transport
// with buffering, an optional snappy compression layer and a codec, and turns
// the transport's failures into *Error values.
//
//	Proxy ──Encode/Flush──→ Stream ──bufio──→ [snappy] ──→ Transport
//	Proxy ←──Decode──────── Stream ←──bufio── [snappy] ←── Transport
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Transport is the minimal capability a Stream needs.
type Transport interface {
	io.Reader
	io.Writer
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

type remoteAddresser interface {
	RemoteAddr() net.Addr
}

// Error is a failure of the underlying byte stream: a broken connection, a
// deadline, a failed dial.
type Error struct {
	Op  string // "read", "write", "flush", "close", "dial"
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Cause() error { return e.Err }

// Timeout reports whether the failure was a deadline expiring.
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// IsClosed reports whether err means the stream has ended: the peer closed
// it, or it was closed locally.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

// IsTimeout reports whether err is a transport deadline expiring.
func IsTimeout(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Timeout()
}

// Dial opens a connection usable as a Transport.
func Dial(ctx context.Context, network, address string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, &Error{Op: "dial", Err: err}
	}
	return conn, nil
}
