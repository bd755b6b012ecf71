package codec

import "testing"

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := GetCodec(CodecTypeJSON)
	original := &addArgs{A: 1, B: 2}

	data, err := c.EncodeBody(original, false)
	if err != nil {
		t.Fatalf("EncodeBody failed: %v", err)
	}

	var decoded addArgs
	if err := c.DecodeBody(data, &decoded, false); err != nil {
		t.Fatalf("DecodeBody failed: %v", err)
	}
	if decoded != *original {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, *original)
	}
}

func TestJSONCodecValidateRejectsUnknownFields(t *testing.T) {
	c := GetCodec(CodecTypeJSON)
	data := []byte(`{"a":1,"b":2,"c":3}`)

	var decoded addArgs
	if err := c.DecodeBody(data, &decoded, true); err == nil {
		t.Fatal("expected validate=true to reject unknown field c")
	}
	if err := c.DecodeBody(data, &decoded, false); err != nil {
		t.Fatalf("expected validate=false to tolerate unknown field, got %v", err)
	}
}

func TestProtoStructCodecRoundTrip(t *testing.T) {
	c := GetCodec(CodecTypeProtoStruct)
	original := &addArgs{A: 10, B: 20}

	data, err := c.EncodeBody(original, true)
	if err != nil {
		t.Fatalf("EncodeBody failed: %v", err)
	}

	var decoded addArgs
	if err := c.DecodeBody(data, &decoded, true); err != nil {
		t.Fatalf("DecodeBody failed: %v", err)
	}
	if decoded != *original {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, *original)
	}
}

func TestGetCodecDefaultsToJSON(t *testing.T) {
	c := GetCodec(CodecType(99))
	if c.Type() != CodecTypeJSON {
		t.Fatalf("expected unknown codec type to default to JSON, got %v", c.Type())
	}
}
