// Package protocol frames calls on top of a value stream.
//
// A call is a plain sequence of codec values with no header, no frame length
// and no sequence number. The receiver learns where the frame ends only from
// the declaration of the method being called.
//
//	client → server
//	┌─────────────┬─────────────┬──────┬─────┬──────┐
//	│ service str │ method str  │ arg1 │ ... │ argN │
//	└─────────────┴─────────────┴──────┴─────┴──────┘
//
//	server → client
//	┌───────┐
//	│ value │   the method's return value, no envelope
//	└───────┘
//
// With the binary codec a string is a u64 little-endian length followed by
// its bytes, so Echo.test("zkr") is
//
//	04 00 00 00 00 00 00 00 'E' 'c' 'h' 'o'
//	04 00 00 00 00 00 00 00 't' 'e' 's' 't'
//	03 00 00 00 00 00 00 00 'z' 'k' 'r'
package protocol

import (
	"io"

	"github.com/pkg/errors"

	"stub-rpc/codec"
	"stub-rpc/transport"
)

// Encoder buffers values and pushes them to the peer on Flush.
type Encoder interface {
	Encode(v any) error
	Flush() error
}

// FrameReader reads values; Await is used for the first value of a frame.
type FrameReader interface {
	Await(v any) error
	Decode(v any) error
}

// WriteCall writes one complete call frame and flushes it.
func WriteCall(w Encoder, service, method string, args ...any) error {
	if err := w.Encode(service); err != nil {
		return err
	}
	if err := w.Encode(method); err != nil {
		return err
	}
	for _, arg := range args {
		if err := w.Encode(arg); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteReply writes a reply value and flushes it.
func WriteReply(w Encoder, reply any) error {
	if err := w.Encode(reply); err != nil {
		return err
	}
	return w.Flush()
}

// ReadReply reads the single reply value of a call. A peer that hangs up
// instead of replying is a *transport.Error.
func ReadReply(r FrameReader, reply any) error {
	err := r.Decode(reply)
	if err == io.EOF {
		return &transport.Error{Op: "read", Err: io.ErrUnexpectedEOF}
	}
	return err
}

// partialReader is implemented by readers that know whether the last
// failed read had consumed part of a value.
type partialReader interface {
	Partial() bool
}

// ReadServiceName starts a frame. io.EOF means the peer finished cleanly. A
// read that fails after part of the name arrived is a *Error even when the
// cause is a timeout.
func ReadServiceName(r FrameReader) (string, error) {
	var service string
	if err := r.Await(&service); err != nil {
		if pr, ok := r.(partialReader); ok && pr.Partial() && err != io.EOF {
			return "", &Error{State: AwaitingServiceName, Err: err}
		}
		return "", frameError(AwaitingServiceName, err)
	}
	return service, nil
}

// ReadMethodName reads the second value of a frame.
func ReadMethodName(r FrameReader) (string, error) {
	var method string
	if err := r.Decode(&method); err != nil {
		if err == io.EOF {
			err = &codec.Error{Op: "decode", Err: codec.ErrTruncated}
		}
		return "", frameError(Dispatching, err)
	}
	return method, nil
}

// ReadArg reads one argument of the current frame.
func ReadArg(r FrameReader, v any) error {
	if err := r.Decode(v); err != nil {
		if err == io.EOF {
			err = &codec.Error{Op: "decode", Err: codec.ErrTruncated}
		}
		return frameError(Dispatching, err)
	}
	return nil
}

// frameError passes io.EOF and transport failures through and turns a
// malformed value into a *Error.
func frameError(state State, err error) error {
	if err == io.EOF {
		return err
	}
	var ce *codec.Error
	if errors.As(err, &ce) {
		return &Error{State: state, Err: err}
	}
	return err
}
