// Package protocol implements the envelope (box) codec: framing of a
// transportdata.TransportData for the wire, in both the text (JSON) and
// buffer (binary, length-prefixed) variants described by the runtime's
// external interfaces. The buffer variant's fixed-header framing is a
// sticky-packet solution — magic number, version byte, fixed header read
// via io.ReadFull, then exactly bodyLen more bytes — carrying the full
// six-genre TransportData tag set and the structured err/protoInfo
// sub-blocks this envelope needs.
package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"duplexrpc/transportdata"
)

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, data []byte) {
	writeUint32(buf, uint32(len(data)))
	buf.Write(data)
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

// reader is a cursor over an in-memory frame payload, used to unpack the
// length-prefixed sub-blocks (err, protoInfo) the buffer envelope appends
// after a request/response body.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) readUint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) readInt64() (int64, error) {
	if r.remaining() < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return int64(v), nil
}

func (r *reader) readBytes() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if r.remaining() < int(n) {
		return nil, io.ErrUnexpectedEOF
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *reader) readString() (string, error) {
	b, err := r.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeProtoInfo(buf *bytes.Buffer, pi *transportdata.ProtoInfo) {
	writeString(buf, pi.Md5)
	writeInt64(buf, pi.LastModified)
	writeString(buf, pi.Tsrpc)
	writeString(buf, pi.Node)
}

func readProtoInfo(r *reader) (*transportdata.ProtoInfo, error) {
	md5, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("protoInfo.md5: %w", err)
	}
	lastModified, err := r.readInt64()
	if err != nil {
		return nil, fmt.Errorf("protoInfo.lastModified: %w", err)
	}
	tsrpc, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("protoInfo.tsrpc: %w", err)
	}
	node, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("protoInfo.node: %w", err)
	}
	return &transportdata.ProtoInfo{Md5: md5, LastModified: lastModified, Tsrpc: tsrpc, Node: node}, nil
}

func writeTsrpcError(buf *bytes.Buffer, e *transportdata.TsrpcError) error {
	writeString(buf, e.Message)
	writeString(buf, string(e.Type))
	writeString(buf, e.Code)
	extra := []byte("null")
	if e.Extra != nil {
		b, err := json.Marshal(e.Extra)
		if err != nil {
			return fmt.Errorf("encode err.extra: %w", err)
		}
		extra = b
	}
	writeBytes(buf, extra)
	return nil
}

func readTsrpcError(r *reader) (*transportdata.TsrpcError, error) {
	msg, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("err.message: %w", err)
	}
	typ, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("err.type: %w", err)
	}
	code, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("err.code: %w", err)
	}
	extraRaw, err := r.readBytes()
	if err != nil {
		return nil, fmt.Errorf("err.extra: %w", err)
	}
	var extra map[string]any
	if err := json.Unmarshal(extraRaw, &extra); err != nil {
		return nil, fmt.Errorf("decode err.extra: %w", err)
	}
	return &transportdata.TsrpcError{Message: msg, Type: transportdata.ErrorType(typ), Code: code, Extra: extra}, nil
}
