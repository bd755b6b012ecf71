package protocol

import (
	"encoding/json"
	"fmt"

	"duplexrpc/transportdata"
)

// wireText is the JSON shape on the wire for the text envelope variant,
// matching the external interface spec's field list exactly.
type wireText struct {
	Type        string                     `json:"type"`
	ServiceName string                     `json:"serviceName,omitempty"`
	Sn          uint32                     `json:"sn,omitempty"`
	Body        json.RawMessage            `json:"body,omitempty"`
	Err         *transportdata.TsrpcError  `json:"err,omitempty"`
	IsReply     *bool                      `json:"isReply,omitempty"`
	ProtoInfo   *transportdata.ProtoInfo   `json:"protoInfo,omitempty"`
	Custom      json.RawMessage            `json:"custom,omitempty"`
}

// EncodeBoxText encodes one TransportData as a JSON text frame.
func EncodeBoxText(td *transportdata.TransportData) (string, error) {
	w := wireText{
		Type:        td.Type.String(),
		ServiceName: td.ServiceName,
		Sn:          td.Sn,
		ProtoInfo:   td.ProtoInfo,
	}
	if td.Body != nil {
		w.Body = json.RawMessage(td.Body)
	}
	if td.Err != nil {
		w.Err = td.Err
	}
	if td.Type == transportdata.TypeHeartbeat {
		isReply := td.IsReply
		w.IsReply = &isReply
	}
	if td.Custom != nil {
		w.Custom = json.RawMessage(td.Custom)
	}
	out, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func parseType(s string) (transportdata.Type, error) {
	switch s {
	case "req":
		return transportdata.TypeReq, nil
	case "res":
		return transportdata.TypeRes, nil
	case "err":
		return transportdata.TypeErr, nil
	case "msg":
		return transportdata.TypeMsg, nil
	case "heartbeat":
		return transportdata.TypeHeartbeat, nil
	case "custom":
		return transportdata.TypeCustom, nil
	default:
		return 0, fmt.Errorf("protocol: unknown envelope type %q", s)
	}
}

// DecodeBoxText decodes a JSON text frame back into a TransportData.
// lookupPending resolves the serviceName for a "res" envelope when the peer
// omitted it (mirrors the buffer variant's contract even though the text
// variant usually does carry serviceName directly).
func DecodeBoxText(raw string, lookupPending PendingServiceNameFunc) (*transportdata.TransportData, error) {
	var w wireText
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("protocol: decode text envelope: %w", err)
	}
	typ, err := parseType(w.Type)
	if err != nil {
		return nil, err
	}
	td := &transportdata.TransportData{
		Type:        typ,
		ServiceName: w.ServiceName,
		Sn:          w.Sn,
		Err:         w.Err,
		ProtoInfo:   w.ProtoInfo,
	}
	if w.Body != nil {
		td.Body = []byte(w.Body)
	}
	if w.Custom != nil {
		td.Custom = []byte(w.Custom)
	}
	if w.IsReply != nil {
		td.IsReply = *w.IsReply
	}
	if typ == transportdata.TypeRes && td.ServiceName == "" && lookupPending != nil {
		if name, ok := lookupPending(td.Sn); ok {
			td.ServiceName = name
		}
	}
	return td, nil
}
