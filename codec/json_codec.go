package codec

import (
	"bytes"
	"encoding/json"
	"errors"
)

// JSONCodec uses the standard library's encoding/json, exactly as the
// teacher's JSONCodec did. No third-party JSON library in the example pack
// offers anything beyond what encoding/json already provides for this
// payload-only encoding job, so the standard library is kept here
// deliberately (see DESIGN.md).
type JSONCodec struct{}

func (c *JSONCodec) EncodeBody(v any, validate bool) ([]byte, error) {
	if validate && v == nil {
		return nil, errors.New("jsoncodec: cannot encode nil payload with validation enabled")
	}
	return json.Marshal(v)
}

// DecodeBody unmarshals data into v. When validate is true, unknown fields
// in the payload are rejected rather than silently ignored — the cheapest
// schema-shape check encoding/json can do without a real schema compiler.
func (c *JSONCodec) DecodeBody(data []byte, v any, validate bool) error {
	if !validate {
		return json.Unmarshal(data, v)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
