package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type point struct {
	X, Y  int32
	Label string
	note  string
	Skip  string `wire:"-"`
}

type shape struct {
	Name   string
	Points []point
	Tags   map[string]int
	Origin *point
	When   time.Time
}

func TestBinaryCodecScalars(t *testing.T) {
	c := &BinaryCodec{}

	t.Run("bool", func(t *testing.T) {
		b, err := c.Encode(true)
		require.NoError(t, err)
		assert.Equal(t, []byte{1}, b)
		var v bool
		require.NoError(t, c.Decode(b, &v))
		assert.True(t, v)
	})

	t.Run("little endian ints", func(t *testing.T) {
		b, err := c.Encode(uint32(0x01020304))
		require.NoError(t, err)
		assert.Equal(t, []byte{4, 3, 2, 1}, b)

		b, err = c.Encode(int16(-2))
		require.NoError(t, err)
		assert.Equal(t, []byte{0xfe, 0xff}, b)
		var i int16
		require.NoError(t, c.Decode(b, &i))
		assert.Equal(t, int16(-2), i)
	})

	t.Run("int is eight bytes", func(t *testing.T) {
		b, err := c.Encode(42)
		require.NoError(t, err)
		assert.Len(t, b, 8)
		var v int
		require.NoError(t, c.Decode(b, &v))
		assert.Equal(t, 42, v)
	})

	t.Run("floats", func(t *testing.T) {
		for _, f := range []float64{0, -1.5, 3.141592653589793} {
			b, err := c.Encode(f)
			require.NoError(t, err)
			var v float64
			require.NoError(t, c.Decode(b, &v))
			assert.Equal(t, f, v)
		}
		b, err := c.Encode(float32(2.25))
		require.NoError(t, err)
		assert.Len(t, b, 4)
	})

	t.Run("string", func(t *testing.T) {
		b, err := c.Encode("zkr")
		require.NoError(t, err)
		assert.Equal(t, []byte{3, 0, 0, 0, 0, 0, 0, 0, 'z', 'k', 'r'}, b)
		var s string
		require.NoError(t, c.Decode(b, &s))
		assert.Equal(t, "zkr", s)
	})

	t.Run("empty string", func(t *testing.T) {
		b, err := c.Encode("")
		require.NoError(t, err)
		assert.Equal(t, make([]byte, 8), b)
		s := "stale"
		require.NoError(t, c.Decode(b, &s))
		assert.Equal(t, "", s)
	})
}

func TestBinaryCodecScalarRoundTrip(t *testing.T) {
	c := &BinaryCodec{}
	cases := []struct {
		in   any
		size int
	}{
		{int8(math.MinInt8), 1}, {int8(math.MaxInt8), 1},
		{int16(math.MinInt16), 2}, {int16(math.MaxInt16), 2},
		{int32(math.MinInt32), 4}, {int32(math.MaxInt32), 4},
		{int64(math.MinInt64), 8}, {int64(math.MaxInt64), 8},
		{int(math.MinInt64), 8}, {int(math.MaxInt64), 8},
		{uint8(0), 1}, {uint8(math.MaxUint8), 1},
		{uint16(0), 2}, {uint16(math.MaxUint16), 2},
		{uint32(0), 4}, {uint32(math.MaxUint32), 4},
		{uint64(0), 8}, {uint64(math.MaxUint64), 8},
		{uint(0), 8}, {uint(math.MaxUint64), 8},
		{float32(-2.25), 4}, {float32(math.MaxFloat32), 4}, {float32(math.SmallestNonzeroFloat32), 4},
		{math.MaxFloat64, 8}, {-math.SmallestNonzeroFloat64, 8}, {math.Inf(-1), 8},
		{false, 1}, {true, 1},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%T(%v)", tc.in, tc.in), func(t *testing.T) {
			b, err := c.Encode(tc.in)
			require.NoError(t, err)
			assert.Len(t, b, tc.size)

			out := reflect.New(reflect.TypeOf(tc.in))
			require.NoError(t, c.Decode(b, out.Interface()))
			assert.Equal(t, tc.in, out.Elem().Interface())
		})
	}
}

type wide struct{ A [64]int64 }

// allocated reports the bytes allocated while fn runs.
func allocated(fn func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	fn()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

func TestBinaryCodecLengthPrefixDoesNotPreallocate(t *testing.T) {
	c := &BinaryCodec{}
	prefix := func(n uint64) []byte {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, n)
		return b
	}

	cases := map[string]any{
		"slice": new([]wide),
		"bytes": new([]byte),
		"map":   new(map[int64]wide),
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			var err error
			n := allocated(func() {
				err = c.Decode(prefix(1<<20), target)
			})
			assert.True(t, IsTruncated(err), "got %v", err)
			assert.Less(t, n, uint64(8<<20), "allocated %d bytes for an empty body", n)
		})
	}
}

func TestBinaryCodecLargeValues(t *testing.T) {
	c := &BinaryCodec{}

	ints := make([]int64, 100000)
	for i := range ints {
		ints[i] = int64(i) * 7
	}
	b, err := c.Encode(ints)
	require.NoError(t, err)
	var gotInts []int64
	require.NoError(t, c.Decode(b, &gotInts))
	assert.Equal(t, ints, gotInts)

	raw := bytes.Repeat([]byte("0123456789"), 30000)
	b, err = c.Encode(raw)
	require.NoError(t, err)
	var gotRaw []byte
	require.NoError(t, c.Decode(b, &gotRaw))
	assert.Equal(t, raw, gotRaw)

	m := make(map[int64]string, 5000)
	for i := int64(0); i < 5000; i++ {
		m[i] = fmt.Sprint(i)
	}
	b, err = c.Encode(m)
	require.NoError(t, err)
	var gotMap map[int64]string
	require.NoError(t, c.Decode(b, &gotMap))
	assert.Equal(t, m, gotMap)
}

func TestBinaryCodecComposite(t *testing.T) {
	c := &BinaryCodec{}
	in := shape{
		Name:   "tri",
		Points: []point{{X: 1, Y: 2, Label: "a"}, {X: -3, Y: 4, Label: "b"}},
		Tags:   map[string]int{"z": 26, "a": 1, "m": 13},
		Origin: &point{X: 7},
		When:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	b, err := c.Encode(in)
	require.NoError(t, err)

	var out shape
	require.NoError(t, c.Decode(b, &out))
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Points, out.Points)
	assert.Equal(t, in.Tags, out.Tags)
	assert.Equal(t, in.Origin, out.Origin)
	assert.True(t, in.When.Equal(out.When))
}

func TestBinaryCodecSkipsFields(t *testing.T) {
	c := &BinaryCodec{}
	b, err := c.Encode(point{X: 1, Y: 2, Label: "a", note: "private", Skip: "skipped"})
	require.NoError(t, err)
	// two int32 + one string
	assert.Len(t, b, 4+4+8+1)

	var p point
	require.NoError(t, c.Decode(b, &p))
	assert.Equal(t, point{X: 1, Y: 2, Label: "a"}, p)
}

func TestBinaryCodecDeterministicMaps(t *testing.T) {
	c := &BinaryCodec{}
	m := map[string]int{}
	for i, k := range []string{"q", "w", "e", "r", "t", "y", "u", "i", "o", "p"} {
		m[k] = i
	}
	first, err := c.Encode(m)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := c.Encode(m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBinaryCodecPointers(t *testing.T) {
	c := &BinaryCodec{}

	var nilp *int64
	b, err := c.Encode(nilp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, b)

	v := int64(9)
	b, err = c.Encode(&v)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 9, 0, 0, 0, 0, 0, 0, 0}, b)

	var out *int64
	require.NoError(t, c.Decode(b, &out))
	require.NotNil(t, out)
	assert.Equal(t, int64(9), *out)

	err = c.Decode([]byte{2}, &out)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "decode", ce.Op)
}

func TestBinaryCodecEmptyCollectionsDecodeNil(t *testing.T) {
	c := &BinaryCodec{}
	b, err := c.Encode([]string{})
	require.NoError(t, err)

	out := []string{"stale"}
	require.NoError(t, c.Decode(b, &out))
	assert.Nil(t, out)
}

func TestBinaryCodecProto(t *testing.T) {
	c := &BinaryCodec{}
	in := wrapperspb.String("hello")

	b, err := c.Encode(in)
	require.NoError(t, err)

	t.Run("into message", func(t *testing.T) {
		out := &wrapperspb.StringValue{}
		require.NoError(t, c.Decode(b, out))
		assert.True(t, proto.Equal(in, out))
	})

	t.Run("into nil pointer", func(t *testing.T) {
		var out *wrapperspb.StringValue
		require.NoError(t, c.Decode(b, &out))
		require.NotNil(t, out)
		assert.Equal(t, "hello", out.GetValue())
	})

	t.Run("inside struct", func(t *testing.T) {
		type envelope struct {
			ID  uint16
			Msg *wrapperspb.StringValue
		}
		eb, err := c.Encode(envelope{ID: 3, Msg: in})
		require.NoError(t, err)
		var out envelope
		require.NoError(t, c.Decode(eb, &out))
		assert.Equal(t, uint16(3), out.ID)
		assert.Equal(t, "hello", out.Msg.GetValue())
	})
}

func TestBinaryCodecErrors(t *testing.T) {
	c := &BinaryCodec{}

	t.Run("unsupported", func(t *testing.T) {
		_, err := c.Encode(make(chan int))
		assert.ErrorIs(t, err, ErrUnsupportedType)
		_, err = c.Encode(nil)
		assert.ErrorIs(t, err, ErrUnsupportedType)
	})

	t.Run("truncated", func(t *testing.T) {
		var s string
		err := c.Decode([]byte{5, 0, 0, 0, 0, 0, 0, 0, 'a', 'b'}, &s)
		assert.True(t, IsTruncated(err))
		var ce *Error
		assert.ErrorAs(t, err, &ce)
	})

	t.Run("empty input", func(t *testing.T) {
		var n uint32
		assert.True(t, IsTruncated(c.Decode(nil, &n)))
	})

	t.Run("trailing", func(t *testing.T) {
		var b bool
		assert.ErrorIs(t, c.Decode([]byte{1, 1}, &b), ErrTrailingBytes)
	})

	t.Run("bad bool", func(t *testing.T) {
		var b bool
		var ce *Error
		assert.ErrorAs(t, c.Decode([]byte{7}, &b), &ce)
	})

	t.Run("length limit", func(t *testing.T) {
		small := &BinaryCodec{MaxLength: 4}
		var s string
		err := small.Decode([]byte{5, 0, 0, 0, 0, 0, 0, 0, 'a', 'b', 'c', 'd', 'e'}, &s)
		assert.ErrorIs(t, err, ErrLengthTooLarge)
	})

	t.Run("invalid target", func(t *testing.T) {
		var s string
		assert.ErrorIs(t, c.Decode([]byte{0}, s), ErrInvalidTarget)
	})
}

func TestDecoderStream(t *testing.T) {
	for _, c := range []Codec{&BinaryCodec{}, NewMsgpackCodec()} {
		t.Run(c.Name(), func(t *testing.T) {
			var buf bytes.Buffer
			for _, v := range []any{"svc", "method", int64(12)} {
				b, err := c.Encode(v)
				require.NoError(t, err)
				buf.Write(b)
			}

			dec := c.NewDecoder(&buf)
			var s1, s2 string
			var n int64
			require.NoError(t, dec.Decode(&s1))
			require.NoError(t, dec.Decode(&s2))
			require.NoError(t, dec.Decode(&n))
			assert.Equal(t, "svc", s1)
			assert.Equal(t, "method", s2)
			assert.Equal(t, int64(12), n)

			// nothing left: a clean end of stream
			assert.Equal(t, io.EOF, dec.Decode(&s1))
		})
	}
}

func TestDecoderStreamTruncated(t *testing.T) {
	for _, c := range []Codec{&BinaryCodec{}, NewMsgpackCodec()} {
		t.Run(c.Name(), func(t *testing.T) {
			b, err := c.Encode("a longer string value")
			require.NoError(t, err)

			var s string
			err = c.NewDecoder(bytes.NewReader(b[:len(b)-3])).Decode(&s)
			assert.True(t, IsTruncated(err), "got %v", err)
		})
	}
}

func TestMsgpackCodec(t *testing.T) {
	c := NewMsgpackCodec()
	in := shape{
		Name:   "sq",
		Points: []point{{X: 1, Y: 1, Label: "p"}},
		Tags:   map[string]int{"k": 1},
	}
	b, err := c.Encode(in)
	require.NoError(t, err)

	var out shape
	require.NoError(t, c.Decode(b, &out))
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Points, out.Points)
	assert.Equal(t, in.Tags, out.Tags)

	again, err := c.Encode(in)
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestGetCodec(t *testing.T) {
	assert.Equal(t, CodecTypeBinary, GetCodec(CodecTypeBinary).Type())
	assert.Equal(t, CodecTypeMsgpack, GetCodec(CodecTypeMsgpack).Type())

	ct, err := ParseCodecType("MsgPack")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeMsgpack, ct)

	_, err = ParseCodecType("json")
	assert.Error(t, err)
}
