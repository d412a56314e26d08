package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/slicecache/codec"
	"github.com/unkn0wn-root/slicecache/internal/tree"
)

// Kind tags the logical type of a stored value.
type Kind byte

const (
	KindNull      Kind = 0
	KindInt       Kind = 1
	KindString    Kind = 2
	KindBool      Kind = 3
	KindComposite Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindComposite:
		return "composite"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

const (
	version byte = 1
	hdrLen       = 4 + 1 + 1 + 4
)

var (
	// ErrCorrupt is the serialization error: the bytes are not a value this
	// package wrote. Callers treat it as a miss.
	ErrCorrupt = errors.New("slicecache: corrupt entry")
	magic4     = [...]byte{'S', 'L', 'C', 'E'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Codec frames tagged values: magic(4) | ver(1) | kind(1) | vlen(u32 be) | payload(vlen).
//
//	int       payload = 8 byte big endian two's complement
//	string    payload = raw bytes
//	bool      payload = 0x00 | 0x01
//	null      payload = empty
//	composite payload = Inner encoding of the normalized value
type Codec struct {
	Inner codec.Codec[any]
}

// New returns a Codec; a nil inner codec selects codec.Default().
func New(inner codec.Codec[any]) Codec {
	if inner == nil {
		inner = codec.Default()
	}
	return Codec{Inner: inner}
}

// Classify reports the kind v is stored as.
func Classify(v any) Kind {
	switch tree.Normalize(v).(type) {
	case nil:
		return KindNull
	case int64:
		return KindInt
	case string:
		return KindString
	case bool:
		return KindBool
	}
	return KindComposite
}

func (c Codec) Encode(v any) ([]byte, error) {
	v = tree.Normalize(v)
	var (
		kind    Kind
		payload []byte
	)
	switch x := v.(type) {
	case nil:
		kind = KindNull
	case int64:
		kind = KindInt
		payload = binary.BigEndian.AppendUint64(nil, uint64(x))
	case string:
		kind = KindString
		payload = []byte(x)
	case bool:
		kind = KindBool
		payload = []byte{0}
		if x {
			payload[0] = 1
		}
	default:
		kind = KindComposite
		b, err := c.inner().Encode(x)
		if err != nil {
			return nil, fmt.Errorf("encode composite: %w", err)
		}
		payload = b
	}

	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(byte(kind))
	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])
	buf.Write(payload)
	return buf.Bytes(), nil
}

// Decode returns the stored value, or nil when b is absent or malformed.
// A codec-level miss and an absent key look the same to the caller.
func (c Codec) Decode(b []byte) any {
	v, err := c.DecodeStrict(b)
	if err != nil {
		return nil
	}
	return v
}

// DecodeStrict is Decode with ErrCorrupt for malformed input.
func (c Codec) DecodeStrict(b []byte) (any, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version {
		return nil, ErrCorrupt
	}
	kind := Kind(b[5])
	vlen := int(binary.BigEndian.Uint32(b[6:hdrLen]))
	if vlen != len(b)-hdrLen {
		return nil, ErrCorrupt
	}
	payload := b[hdrLen:]

	switch kind {
	case KindNull:
		if vlen != 0 {
			return nil, ErrCorrupt
		}
		return nil, nil
	case KindInt:
		if vlen != 8 {
			return nil, ErrCorrupt
		}
		return int64(binary.BigEndian.Uint64(payload)), nil
	case KindString:
		return string(payload), nil
	case KindBool:
		if vlen != 1 || payload[0] > 1 {
			return nil, ErrCorrupt
		}
		return payload[0] == 1, nil
	case KindComposite:
		v, err := c.inner().Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return tree.Normalize(v), nil
	}
	return nil, ErrCorrupt
}

func (c Codec) inner() codec.Codec[any] {
	if c.Inner == nil {
		return codec.Default()
	}
	return c.Inner
}
