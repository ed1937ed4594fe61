package codec

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"io"
	"math"
	"reflect"
	"slices"
	"sort"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
)

// DefaultMaxLength bounds any length prefix accepted by the binary codec.
const DefaultMaxLength = 64 << 20

// allocChunk bounds what a length prefix may allocate before the data it
// announces has been read.
const allocChunk = 64 << 10

// BinaryCodec is the default wire format.
//
//	bool                      1 byte, 0 or 1
//	int8..int64, uint8..uint64 fixed width, little-endian (int/uint as 8 bytes)
//	float32/float64           IEEE 754 bits, little-endian
//	string, []byte            u64 length + raw bytes
//	slice                     u64 length + elements
//	array                     elements
//	map                       u64 length + key/value pairs sorted by encoded key
//	struct                    exported fields in order (tag `wire:"-"` skips a field)
//	pointer                   presence byte (0 nil, 1 set) + element
//	proto.Message             u64 length + deterministic protobuf bytes
//	encoding.BinaryMarshaler  u64 length + marshalled bytes
//
// A zero length decodes to a nil slice or map.
type BinaryCodec struct {
	MaxLength uint64 // 0 means DefaultMaxLength
}

var (
	protoMessageType      = reflect.TypeOf((*proto.Message)(nil)).Elem()
	binaryMarshalerType   = reflect.TypeOf((*encoding.BinaryMarshaler)(nil)).Elem()
	binaryUnmarshalerType = reflect.TypeOf((*encoding.BinaryUnmarshaler)(nil)).Elem()
)

func (c *BinaryCodec) Type() CodecType { return CodecTypeBinary }

func (c *BinaryCodec) Name() string { return "binary" }

func (c *BinaryCodec) maxLength() uint64 {
	if c.MaxLength == 0 {
		return DefaultMaxLength
	}
	return c.MaxLength
}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, encodeError(nil, ErrUnsupportedType)
	}
	e := &encodeState{}
	if err := e.encode(reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return e.buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
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

func (c *BinaryCodec) NewDecoder(r io.Reader) Decoder {
	return &binaryDecoder{r: r, max: c.maxLength()}
}

type binaryDecoder struct {
	r   io.Reader
	max uint64
}

func (d *binaryDecoder) Decode(v any) error {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Ptr || rv.IsNil() {
		return decodeError(reflect.TypeOf(v), ErrInvalidTarget)
	}
	s := &decodeState{r: d.r, max: d.max}

	var err error
	if rv.Type().Implements(protoMessageType) {
		err = s.decodeProto(rv)
	} else {
		err = s.decode(rv.Elem())
	}
	if err == nil || err == io.EOF {
		return err
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	if err == ErrTruncated {
		return decodeError(rv.Type().Elem(), ErrTruncated)
	}
	// reader failure, handed back untouched for the transport layer
	return err
}

type encodeState struct {
	buf []byte
}

func (e *encodeState) putUint(n uint64, size int) {
	switch size {
	case 1:
		e.buf = append(e.buf, byte(n))
	case 2:
		e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(n))
	case 4:
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(n))
	default:
		e.buf = binary.LittleEndian.AppendUint64(e.buf, n)
	}
}

func (e *encodeState) putBytes(b []byte) {
	e.putUint(uint64(len(b)), 8)
	e.buf = append(e.buf, b...)
}

func (e *encodeState) encode(v reflect.Value) error {
	t := v.Type()

	if t.Kind() == reflect.Ptr && t.Implements(protoMessageType) {
		b, err := proto.MarshalOptions{Deterministic: true}.Marshal(v.Interface().(proto.Message))
		if err != nil {
			return encodeError(t, err)
		}
		e.putBytes(b)
		return nil
	}
	if isBinaryMarshalType(t) {
		b, err := marshalerOf(v).MarshalBinary()
		if err != nil {
			return encodeError(t, err)
		}
		e.putBytes(b)
		return nil
	}

	switch t.Kind() {
	case reflect.Bool:
		if v.Bool() {
			e.putUint(1, 1)
		} else {
			e.putUint(0, 1)
		}
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		e.putUint(uint64(v.Int()), kindSize(t.Kind()))
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		e.putUint(v.Uint(), kindSize(t.Kind()))
	case reflect.Float32:
		e.putUint(uint64(math.Float32bits(float32(v.Float()))), 4)
	case reflect.Float64:
		e.putUint(math.Float64bits(v.Float()), 8)
	case reflect.String:
		e.putUint(uint64(v.Len()), 8)
		e.buf = append(e.buf, v.String()...)
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			e.putBytes(v.Bytes())
			return nil
		}
		e.putUint(uint64(v.Len()), 8)
		for i := 0; i < v.Len(); i++ {
			if err := e.encode(v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := e.encode(v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		return e.encodeMap(v)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if skipField(t.Field(i)) {
				continue
			}
			if err := e.encode(v.Field(i)); err != nil {
				return err
			}
		}
	case reflect.Ptr:
		if v.IsNil() {
			e.putUint(0, 1)
			return nil
		}
		e.putUint(1, 1)
		return e.encode(v.Elem())
	default:
		return encodeError(t, ErrUnsupportedType)
	}
	return nil
}

// encodeMap writes pairs ordered by their encoded key so the output does not
// depend on map iteration order.
func (e *encodeState) encodeMap(v reflect.Value) error {
	type pair struct{ k, v []byte }
	pairs := make([]pair, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		ke, ve := &encodeState{}, &encodeState{}
		if err := ke.encode(iter.Key()); err != nil {
			return err
		}
		if err := ve.encode(iter.Value()); err != nil {
			return err
		}
		pairs = append(pairs, pair{ke.buf, ve.buf})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return bytes.Compare(pairs[i].k, pairs[j].k) < 0
	})
	e.putUint(uint64(len(pairs)), 8)
	for _, p := range pairs {
		e.buf = append(e.buf, p.k...)
		e.buf = append(e.buf, p.v...)
	}
	return nil
}

type decodeState struct {
	r       io.Reader
	max     uint64
	started bool
	scratch [8]byte
}

// read fills b. An end of input before the value's first byte is io.EOF;
// anywhere later it is ErrTruncated.
func (d *decodeState) read(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	_, err := io.ReadFull(d.r, b)
	if err == nil {
		d.started = true
		return nil
	}
	if err == io.EOF && !d.started {
		return io.EOF
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncated
	}
	return err
}

func (d *decodeState) uint(size int) (uint64, error) {
	b := d.scratch[:size]
	if err := d.read(b); err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *decodeState) length(t reflect.Type) (int, error) {
	n, err := d.uint(8)
	if err != nil {
		return 0, err
	}
	if n > d.max {
		return 0, decodeError(t, errors.Wrapf(ErrLengthTooLarge, "%d > %d", n, d.max))
	}
	return int(n), nil
}

func (d *decodeState) bytes(t reflect.Type) ([]byte, error) {
	n, err := d.length(t)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	// grow as the bytes arrive so a bare length prefix cannot force a large
	// allocation
	b := make([]byte, 0, min(n, allocChunk))
	for len(b) < n {
		k := min(n-len(b), allocChunk)
		b = slices.Grow(b, k)[:len(b)+k]
		if err := d.read(b[len(b)-k:]); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// initialCap is how many elements of size elem fit in allocChunk bytes,
// capped at n.
func initialCap(n int, elem uintptr) int {
	if elem == 0 {
		return n
	}
	return max(1, min(n, allocChunk/int(elem)))
}

func (d *decodeState) decodeProto(v reflect.Value) error {
	t := v.Type()
	b, err := d.bytes(t)
	if err != nil {
		return err
	}
	if v.IsNil() {
		v.Set(reflect.New(t.Elem()))
	}
	if err := proto.Unmarshal(b, v.Interface().(proto.Message)); err != nil {
		return decodeError(t, err)
	}
	return nil
}

func (d *decodeState) decode(v reflect.Value) error {
	t := v.Type()

	if t.Kind() == reflect.Ptr && t.Implements(protoMessageType) {
		return d.decodeProto(v)
	}
	if isBinaryMarshalType(t) {
		b, err := d.bytes(t)
		if err != nil {
			return err
		}
		if err := v.Addr().Interface().(encoding.BinaryUnmarshaler).UnmarshalBinary(b); err != nil {
			return decodeError(t, err)
		}
		return nil
	}

	switch t.Kind() {
	case reflect.Bool:
		n, err := d.uint(1)
		if err != nil {
			return err
		}
		if n > 1 {
			return decodeError(t, errors.Errorf("invalid bool byte %#x", n))
		}
		v.SetBool(n == 1)
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		size := kindSize(t.Kind())
		n, err := d.uint(size)
		if err != nil {
			return err
		}
		var i int64
		switch size {
		case 1:
			i = int64(int8(n))
		case 2:
			i = int64(int16(n))
		case 4:
			i = int64(int32(n))
		default:
			i = int64(n)
		}
		if v.OverflowInt(i) {
			return decodeError(t, errors.Errorf("value %d overflows", i))
		}
		v.SetInt(i)
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		n, err := d.uint(kindSize(t.Kind()))
		if err != nil {
			return err
		}
		if v.OverflowUint(n) {
			return decodeError(t, errors.Errorf("value %d overflows", n))
		}
		v.SetUint(n)
	case reflect.Float32:
		n, err := d.uint(4)
		if err != nil {
			return err
		}
		v.SetFloat(float64(math.Float32frombits(uint32(n))))
	case reflect.Float64:
		n, err := d.uint(8)
		if err != nil {
			return err
		}
		v.SetFloat(math.Float64frombits(n))
	case reflect.String:
		b, err := d.bytes(t)
		if err != nil {
			return err
		}
		v.SetString(string(b))
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			b, err := d.bytes(t)
			if err != nil {
				return err
			}
			v.SetBytes(b)
			return nil
		}
		n, err := d.length(t)
		if err != nil {
			return err
		}
		if n == 0 {
			v.Set(reflect.Zero(t))
			return nil
		}
		s := reflect.MakeSlice(t, 0, initialCap(n, t.Elem().Size()))
		for i := 0; i < n; i++ {
			if s.Len() == s.Cap() {
				s = reflect.Append(s, reflect.Zero(t.Elem()))
			} else {
				s = s.Slice(0, s.Len()+1)
			}
			if err := d.decode(s.Index(i)); err != nil {
				return err
			}
		}
		v.Set(s)
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := d.decode(v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		n, err := d.length(t)
		if err != nil {
			return err
		}
		if n == 0 {
			v.Set(reflect.Zero(t))
			return nil
		}
		m := reflect.MakeMapWithSize(t, initialCap(n, t.Key().Size()+t.Elem().Size()))
		for i := 0; i < n; i++ {
			key := reflect.New(t.Key()).Elem()
			if err := d.decode(key); err != nil {
				return err
			}
			val := reflect.New(t.Elem()).Elem()
			if err := d.decode(val); err != nil {
				return err
			}
			m.SetMapIndex(key, val)
		}
		v.Set(m)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if skipField(t.Field(i)) {
				continue
			}
			if err := d.decode(v.Field(i)); err != nil {
				return err
			}
		}
	case reflect.Ptr:
		tag, err := d.uint(1)
		if err != nil {
			return err
		}
		switch tag {
		case 0:
			v.Set(reflect.Zero(t))
		case 1:
			if v.IsNil() {
				v.Set(reflect.New(t.Elem()))
			}
			return d.decode(v.Elem())
		default:
			return decodeError(t, errors.Errorf("invalid presence byte %#x", tag))
		}
	default:
		return decodeError(t, ErrUnsupportedType)
	}
	return nil
}

func kindSize(k reflect.Kind) int {
	switch k {
	case reflect.Int8, reflect.Uint8:
		return 1
	case reflect.Int16, reflect.Uint16:
		return 2
	case reflect.Int32, reflect.Uint32:
		return 4
	}
	return 8
}

func skipField(f reflect.StructField) bool {
	return f.PkgPath != "" || f.Tag.Get("wire") == "-"
}

// isBinaryMarshalType reports whether values of t round-trip through
// encoding.BinaryMarshaler / BinaryUnmarshaler.
func isBinaryMarshalType(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr || t.Kind() == reflect.Interface {
		return false
	}
	pt := reflect.PointerTo(t)
	return pt.Implements(binaryUnmarshalerType) &&
		(t.Implements(binaryMarshalerType) || pt.Implements(binaryMarshalerType))
}

func marshalerOf(v reflect.Value) encoding.BinaryMarshaler {
	if m, ok := v.Interface().(encoding.BinaryMarshaler); ok {
		return m
	}
	if v.CanAddr() {
		return v.Addr().Interface().(encoding.BinaryMarshaler)
	}
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p.Interface().(encoding.BinaryMarshaler)
}
