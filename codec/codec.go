// Package codec encodes and decodes single values for the wire.
//
// Both ends agree on a value's shape purely by the order in which values are
// written and read: there are no type tags, no field names and no version byte.
// A call frame is just a sequence of values produced by this package.
package codec

import (
	"io"
	"strings"

	"github.com/pkg/errors"
)

type CodecType byte

const (
	CodecTypeBinary  CodecType = 0
	CodecTypeMsgpack CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeBinary:
		return "binary"
	case CodecTypeMsgpack:
		return "msgpack"
	}
	return "unknown"
}

// ParseCodecType maps a configuration name ("binary", "msgpack") to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(name) {
	case "", "binary":
		return CodecTypeBinary, nil
	case "msgpack":
		return CodecTypeMsgpack, nil
	}
	return 0, errors.Errorf("codec: unknown codec %q", name)
}

// Codec encodes one value to bytes and decodes one value from bytes.
type Codec interface {
	// Encode is deterministic: identical input always yields identical bytes.
	Encode(v any) ([]byte, error)
	// Decode fills the value pointed to by v. Trailing bytes are an error.
	Decode(data []byte, v any) error
	// NewDecoder returns a Decoder reading successive values off r.
	NewDecoder(r io.Reader) Decoder
	Type() CodecType
	Name() string
}

// Decoder reads one value at a time from a stream.
//
// Decode returns io.EOF only when the stream ended before the first byte of
// the value; an end of stream inside a value is reported as a *Error wrapping
// ErrTruncated.
type Decoder interface {
	Decode(v any) error
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeMsgpack {
		return NewMsgpackCodec()
	}

	return &BinaryCodec{}
}

// Marshal encodes v with the default binary codec.
func Marshal(v any) ([]byte, error) {
	return (&BinaryCodec{}).Encode(v)
}

// Unmarshal decodes data into v with the default binary codec.
func Unmarshal(data []byte, v any) error {
	return (&BinaryCodec{}).Decode(data, v)
}
