package codec

import "fmt"

// LimitCodec wraps another codec with size caps on both directions.
// A cap <= 0 disables that direction.
//
// Chunks come from a shared backend; a chunk larger than any slice the
// writer would produce is treated as corrupt and the read degrades to a miss.
type LimitCodec[V any] struct {
	Inner     Codec[V]
	MaxDecode int // bytes
	// MaxEncode rejects oversized chunks before they are queued, which keeps
	// writes under backend value-size limits. 0 disables.
	MaxEncode int
}

func (c LimitCodec[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, fmt.Errorf("payload too large: %d > %d", len(b), c.MaxEncode)
	}
	return b, nil
}

func (c LimitCodec[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
