package codec

import (
	"bytes"
	"io"
	"reflect"

	ugcodec "github.com/ugorji/go/codec"
)

// MsgpackCodec carries values as MessagePack. Structs are written as arrays
// so, like the binary codec, field order is the only schema.
type MsgpackCodec struct {
	handle *ugcodec.MsgpackHandle
}

func NewMsgpackCodec() *MsgpackCodec {
	h := &ugcodec.MsgpackHandle{}
	h.WriteExt = true
	h.RawToString = true
	h.StructToArray = true
	h.Canonical = true
	return &MsgpackCodec{handle: h}
}

func (c *MsgpackCodec) Type() CodecType { return CodecTypeMsgpack }

func (c *MsgpackCodec) Name() string { return "msgpack" }

func (c *MsgpackCodec) Encode(v any) ([]byte, error) {
	var b []byte
	if err := ugcodec.NewEncoderBytes(&b, c.handle).Encode(v); err != nil {
		return nil, encodeError(reflect.TypeOf(v), err)
	}
	return b, nil
}

func (c *MsgpackCodec) Decode(data []byte, v any) error {
	r := bytes.NewReader(data)
	err := c.NewDecoder(r).Decode(v)
	if err == io.EOF {
		return decodeError(reflect.TypeOf(v), ErrTruncated)
	}
	if err != nil {
		return err
	}
	if r.Len() > 0 {
		return decodeError(reflect.TypeOf(v), ErrTrailingBytes)
	}
	return nil
}

func (c *MsgpackCodec) NewDecoder(r io.Reader) Decoder {
	return &msgpackDecoder{r: &trackingReader{r: r}, handle: c.handle}
}

type msgpackDecoder struct {
	r      *trackingReader
	handle *ugcodec.MsgpackHandle
}

func (d *msgpackDecoder) Decode(v any) error {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Ptr || rv.IsNil() {
		return decodeError(reflect.TypeOf(v), ErrInvalidTarget)
	}

	d.r.reset()
	err := ugcodec.NewDecoder(d.r, d.handle).Decode(v)
	switch {
	case err == nil:
		return nil
	case d.r.eof && d.r.n == 0:
		return io.EOF
	case d.r.eof:
		return decodeError(rv.Type().Elem(), ErrTruncated)
	case d.r.err != nil:
		return d.r.err
	}
	return decodeError(rv.Type().Elem(), err)
}

// trackingReader remembers how a decode ended so that the stream's own
// failures are not mistaken for malformed data.
type trackingReader struct {
	r   io.Reader
	n   int
	eof bool
	err error
}

func (t *trackingReader) reset() {
	t.n, t.eof, t.err = 0, false, nil
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.n += n
	if err == io.EOF {
		t.eof = true
	} else if err != nil {
		t.err = err
	}
	return n, err
}
