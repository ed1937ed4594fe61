package codec

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

var (
	// ErrTruncated means the input ended inside a value.
	ErrTruncated = errors.New("truncated input")
	// ErrUnsupportedType means the value's Go type has no wire representation.
	ErrUnsupportedType = errors.New("unsupported type")
	// ErrLengthTooLarge means a length prefix exceeds the codec's MaxLength.
	ErrLengthTooLarge = errors.New("length prefix too large")
	// ErrTrailingBytes means Decode was handed more bytes than one value occupies.
	ErrTrailingBytes = errors.New("trailing bytes after value")
	// ErrInvalidTarget means Decode was not given a non-nil pointer.
	ErrInvalidTarget = errors.New("decode target must be a non-nil pointer")
)

// Error is a failure to encode or decode a value: the byte stream does not
// match the expected shape, or the value cannot be represented.
type Error struct {
	Op   string // "encode" or "decode"
	Type reflect.Type
	Err  error
}

func (e *Error) Error() string {
	if e.Type != nil {
		return fmt.Sprintf("codec: %s %s: %v", e.Op, e.Type, e.Err)
	}
	return fmt.Sprintf("codec: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Cause lets pkg/errors.Cause reach the underlying sentinel.
func (e *Error) Cause() error { return e.Err }

func encodeError(t reflect.Type, err error) error {
	return &Error{Op: "encode", Type: t, Err: err}
}

func decodeError(t reflect.Type, err error) error {
	return &Error{Op: "decode", Type: t, Err: err}
}

// IsTruncated reports whether err says the input ended inside a value.
func IsTruncated(err error) bool {
	return errors.Is(err, ErrTruncated)
}
