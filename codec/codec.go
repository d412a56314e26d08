// Package codec holds the serializers used for composite cache payloads
// (records, chunk envelopes, refresh plans). Scalars never reach a codec;
// the wire layer frames them directly.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Default returns the codec used when Options.Codec is nil.
func Default() Codec[any] { return Msgpack[any]{} }
