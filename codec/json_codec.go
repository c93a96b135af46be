package codec

import (
	"encoding/json"
)

// JSONCodec uses encoding/json for bodies. Arguments and payloads are already JSON,
// so the body is plain JSON all the way down and easy to inspect on the wire.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
