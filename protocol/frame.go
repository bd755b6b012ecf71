package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"duplexrpc/transportdata"
)

// Magic number bytes identify a duplexrpc frame on the wire, rejecting
// non-protocol connections that hit the wrong port.
const (
	magicByte1 byte = 0x6d // 'm'
	magicByte2 byte = 0x72 // 'r'
	magicByte3 byte = 0x70 // 'p'
	version    byte = 0x02 // v2: header carries a serviceID + flags field

	// flagHasProtoInfo/flagIsReply are bits within the header's flags byte.
	flagHasProtoInfo byte = 1 << 0
	flagIsReply      byte = 1 << 1
)

// HeaderSize is the fixed size, in bytes, of a buffer-variant frame header:
// magic(3) + version(1) + codecType(1) + msgType(1) + flags(1) + sn(4) +
// serviceID(4) + bodyLen(4).
const HeaderSize = 3 + 1 + 1 + 1 + 1 + 4 + 4 + 4

// frameHeader is the decoded fixed-size header preceding every buffer-frame
// payload.
type frameHeader struct {
	CodecType byte
	MsgType   transportdata.Type
	HasProto  bool
	IsReply   bool
	Sn        uint32
	ServiceID uint32
	BodyLen   uint32
}

func encodeFrameHeader(w io.Writer, h frameHeader) error {
	buf := make([]byte, HeaderSize)
	buf[0], buf[1], buf[2] = magicByte1, magicByte2, magicByte3
	buf[3] = version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	var flags byte
	if h.HasProto {
		flags |= flagHasProtoInfo
	}
	if h.IsReply {
		flags |= flagIsReply
	}
	buf[6] = flags
	binary.BigEndian.PutUint32(buf[7:11], h.Sn)
	binary.BigEndian.PutUint32(buf[11:15], h.ServiceID)
	binary.BigEndian.PutUint32(buf[15:19], h.BodyLen)
	_, err := w.Write(buf)
	return err
}

func decodeFrameHeader(r io.Reader) (frameHeader, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return frameHeader{}, err
	}
	if buf[0] != magicByte1 || buf[1] != magicByte2 || buf[2] != magicByte3 {
		return frameHeader{}, fmt.Errorf("protocol: invalid magic number: %x", buf[0:3])
	}
	if buf[3] != version {
		return frameHeader{}, fmt.Errorf("protocol: unsupported version: %d", buf[3])
	}
	msgType := transportdata.Type(buf[5])
	if msgType > transportdata.TypeCustom {
		return frameHeader{}, fmt.Errorf("protocol: unsupported message type: %d", buf[5])
	}
	flags := buf[6]
	return frameHeader{
		CodecType: buf[4],
		MsgType:   msgType,
		HasProto:  flags&flagHasProtoInfo != 0,
		IsReply:   flags&flagIsReply != 0,
		Sn:        binary.BigEndian.Uint32(buf[7:11]),
		ServiceID: binary.BigEndian.Uint32(buf[11:15]),
		BodyLen:   binary.BigEndian.Uint32(buf[15:19]),
	}, nil
}

// ReadRawFrame reads one complete frame (header + payload) from r and
// returns the decoded header and payload separately, so a transport can read
// a frame without yet knowing how to resolve service ids or sns.
func ReadRawFrame(r io.Reader) (frameHeader, []byte, error) {
	h, err := decodeFrameHeader(r)
	if err != nil {
		return frameHeader{}, nil, err
	}
	payload := make([]byte, h.BodyLen)
	if h.BodyLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return frameHeader{}, nil, err
		}
	}
	return h, payload, nil
}

// ReadFullFrame reads one complete buffer-variant frame from r and returns
// its raw bytes (header + body) exactly as EncodeBoxBuffer produced them,
// ready to hand straight to DecodeBoxBuffer. This is the primitive a
// Transport's read loop uses to turn a TCP byte stream back into discrete
// envelopes — the sticky-packet fix is "read the fixed header, then read
// exactly BodyLen more bytes."
func ReadFullFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	h, err := decodeFrameHeader(bytes.NewReader(header))
	if err != nil {
		return nil, err
	}
	body := make([]byte, h.BodyLen)
	if h.BodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}
	return append(header, body...), nil
}
