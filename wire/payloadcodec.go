package wire

import "encoding/json"

// PayloadCodec serializes typed application payloads into the opaque byte
// strings carried by Frame.Payload. Hosts may plug in any codec; JSONCodec
// below is the reference implementation.
type PayloadCodec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec implements PayloadCodec using encoding/json.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
