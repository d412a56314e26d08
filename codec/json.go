package codec

import (
	"bytes"
	"encoding/json"
)

// JSON keeps numbers as json.Number on decode so integers are not widened to
// float64 before tree normalization sees them.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	err := dec.Decode(&v)
	return v, err
}
