// Package codec provides the body (payload) serialization layer for
// duplexrpc. It is deliberately schema-agnostic: the schema compiler this
// core treats as an out-of-scope collaborator is responsible for knowing
// which Go type a given service's request/response/message is; codec only
// turns an already-typed value into bytes and back.
//
// Two implementations are provided, selected via a Strategy-pattern Codec
// interface:
//   - JSONCodec: human-readable, easy to debug (encoding/json).
//   - ProtoStructCodec: compact binary encoding via google.golang.org/protobuf's
//     structpb, without hand-rolling a length-prefixed field packer.
package codec

// CodecType identifies the serialization format, carried in the envelope's
// codec-type byte so the receiver knows which Codec to use.
type CodecType byte

const (
	CodecTypeJSON        CodecType = 0
	CodecTypeProtoStruct CodecType = 1
)

// Codec (de)serializes a single payload value. v is always a pointer on
// Decode, exactly like encoding/json's contract. validate toggles whatever
// best-effort shape checking a given codec can do without a real schema —
// see each implementation for what it actually enforces.
type Codec interface {
	EncodeBody(v any, validate bool) ([]byte, error)
	DecodeBody(data []byte, v any, validate bool) error
	Type() CodecType
}

// GetCodec is a factory returning the codec for a given wire type.
func GetCodec(t CodecType) Codec {
	if t == CodecTypeProtoStruct {
		return &ProtoStructCodec{}
	}
	return &JSONCodec{}
}
