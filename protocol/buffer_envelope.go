package protocol

import (
	"bytes"
	"fmt"

	"duplexrpc/servicemap"
	"duplexrpc/transportdata"
)

// EncodeBoxBuffer encodes one TransportData as a buffer-variant frame:
// fixed header (see frame.go) followed by a type-specific payload. Service
// names are replaced by the numeric ids ServiceMap assigns, per the
// external interface contract ("body is a compact typed-binary encoding...
// service names are replaced by numeric ids from the shared ServiceMap").
// bodyCodecType is recorded verbatim in the header so the receiver knows
// which codec.Codec decoded td.Body.
func EncodeBoxBuffer(td *transportdata.TransportData, sm *servicemap.ServiceMap, bodyCodecType byte) ([]byte, error) {
	var serviceID uint32
	var intrinsic []byte

	switch td.Type {
	case transportdata.TypeReq:
		def, ok := sm.Api(td.ServiceName)
		if !ok {
			return nil, fmt.Errorf("protocol: unknown api %q", td.ServiceName)
		}
		serviceID = def.ID
		intrinsic = td.Body
	case transportdata.TypeRes:
		intrinsic = td.Body
	case transportdata.TypeErr:
		var buf bytes.Buffer
		if td.Err == nil {
			return nil, fmt.Errorf("protocol: err envelope missing Err")
		}
		if err := writeTsrpcError(&buf, td.Err); err != nil {
			return nil, err
		}
		intrinsic = buf.Bytes()
	case transportdata.TypeMsg:
		def, ok := sm.Msg(td.ServiceName)
		if !ok {
			return nil, fmt.Errorf("protocol: unknown msg %q", td.ServiceName)
		}
		serviceID = def.ID
		intrinsic = td.Body
	case transportdata.TypeHeartbeat:
		var payload bytes.Buffer
		if err := encodeFrameHeader(&payload, frameHeader{
			CodecType: bodyCodecType,
			MsgType:   td.Type,
			IsReply:   td.IsReply,
			Sn:        td.Sn,
		}); err != nil {
			return nil, err
		}
		return payload.Bytes(), nil
	case transportdata.TypeCustom:
		var out bytes.Buffer
		if err := encodeFrameHeader(&out, frameHeader{
			CodecType: bodyCodecType,
			MsgType:   td.Type,
			Sn:        td.Sn,
			BodyLen:   uint32(len(td.Custom)),
		}); err != nil {
			return nil, err
		}
		out.Write(td.Custom)
		return out.Bytes(), nil
	default:
		return nil, fmt.Errorf("protocol: unsupported TransportData.Type %v", td.Type)
	}

	var payload bytes.Buffer
	writeBytes(&payload, intrinsic)
	if td.ProtoInfo != nil {
		writeProtoInfo(&payload, td.ProtoInfo)
	}

	var out bytes.Buffer
	if err := encodeFrameHeader(&out, frameHeader{
		CodecType: bodyCodecType,
		MsgType:   td.Type,
		HasProto:  td.ProtoInfo != nil,
		Sn:        td.Sn,
		ServiceID: serviceID,
		BodyLen:   uint32(payload.Len()),
	}); err != nil {
		return nil, err
	}
	out.Write(payload.Bytes())
	return out.Bytes(), nil
}

// PendingServiceNameFunc resolves the serviceName a res/err frame belongs
// to, by looking up its sn in the connection's pending-call table. The
// buffer envelope never repeats the service name on a response — see
// spec §9's "pending calls map ownership" design note.
type PendingServiceNameFunc func(sn uint32) (serviceName string, ok bool)

// DecodeBoxBuffer decodes one buffer-variant frame previously produced by
// EncodeBoxBuffer. sm resolves numeric service ids back to names for req/msg
// frames; lookupPending resolves the service name of a res/err frame via the
// sn-keyed pending-call table, since the wire form never repeats it.
func DecodeBoxBuffer(raw []byte, sm *servicemap.ServiceMap, lookupPending PendingServiceNameFunc) (*transportdata.TransportData, error) {
	h, err := decodeFrameHeader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	rest := raw[HeaderSize:]
	if len(rest) < int(h.BodyLen) {
		return nil, fmt.Errorf("protocol: truncated frame: want %d body bytes, have %d", h.BodyLen, len(rest))
	}
	payload := rest[:h.BodyLen]

	switch h.MsgType {
	case transportdata.TypeHeartbeat:
		return &transportdata.TransportData{Type: transportdata.TypeHeartbeat, Sn: h.Sn, IsReply: h.IsReply}, nil
	case transportdata.TypeCustom:
		return &transportdata.TransportData{Type: transportdata.TypeCustom, Sn: h.Sn, Custom: append([]byte(nil), payload...)}, nil
	}

	r := newReader(payload)
	intrinsic, err := r.readBytes()
	if err != nil {
		return nil, fmt.Errorf("protocol: intrinsic payload: %w", err)
	}
	var proto *transportdata.ProtoInfo
	if h.HasProto {
		proto, err = readProtoInfo(r)
		if err != nil {
			return nil, fmt.Errorf("protocol: protoInfo block: %w", err)
		}
	}

	switch h.MsgType {
	case transportdata.TypeReq:
		def, ok := sm.ApiByID(h.ServiceID)
		if !ok {
			return nil, fmt.Errorf("protocol: unknown api id %d", h.ServiceID)
		}
		return &transportdata.TransportData{
			Type: transportdata.TypeReq, ServiceName: def.Name, Sn: h.Sn, Body: intrinsic, ProtoInfo: proto,
		}, nil
	case transportdata.TypeRes:
		name, _ := lookupPending(h.Sn)
		return &transportdata.TransportData{
			Type: transportdata.TypeRes, ServiceName: name, Sn: h.Sn, Body: intrinsic, ProtoInfo: proto,
		}, nil
	case transportdata.TypeErr:
		tsrpcErr, err := readTsrpcError(newReader(intrinsic))
		if err != nil {
			return nil, fmt.Errorf("protocol: err payload: %w", err)
		}
		return &transportdata.TransportData{Type: transportdata.TypeErr, Sn: h.Sn, Err: tsrpcErr, ProtoInfo: proto}, nil
	case transportdata.TypeMsg:
		def, ok := sm.MsgByID(h.ServiceID)
		if !ok {
			return nil, fmt.Errorf("protocol: unknown msg id %d", h.ServiceID)
		}
		return &transportdata.TransportData{Type: transportdata.TypeMsg, ServiceName: def.Name, Body: intrinsic}, nil
	default:
		return nil, fmt.Errorf("protocol: unsupported TransportData.Type %v", h.MsgType)
	}
}
