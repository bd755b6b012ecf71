package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoStructCodec is the compact binary body codec. Without a schema
// compiler emitting generated .pb.go message types, it cannot assume a
// protobuf Message type exists for every registered API — instead it
// bridges an arbitrary Go value through google.golang.org/protobuf's
// schema-less structpb.Struct and encodes that with proto.Marshal,
// trading a little payload size for not needing generated code.
type ProtoStructCodec struct{}

func (c *ProtoStructCodec) EncodeBody(v any, validate bool) ([]byte, error) {
	asJSON, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protostruct: marshal intermediate json: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(asJSON, &m); err != nil {
		if validate {
			return nil, fmt.Errorf("protostruct: payload must encode to a JSON object: %w", err)
		}
		m = map[string]any{"value": json.RawMessage(asJSON)}
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("protostruct: build struct: %w", err)
	}
	return proto.Marshal(st)
}

func (c *ProtoStructCodec) DecodeBody(data []byte, v any, validate bool) error {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		if validate {
			return fmt.Errorf("protostruct: unmarshal: %w", err)
		}
		return err
	}
	asJSON, err := json.Marshal(st.AsMap())
	if err != nil {
		return fmt.Errorf("protostruct: remarshal struct to json: %w", err)
	}
	return json.Unmarshal(asJSON, v)
}

func (c *ProtoStructCodec) Type() CodecType {
	return CodecTypeProtoStruct
}
