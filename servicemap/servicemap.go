// Package servicemap implements the service registry collaborator the core
// treats as opaque: a name↔id lookup for APIs and messages plus the schema
// fingerprint (ProtoInfo) a Connection piggybacks on the first req/res/err it
// sends.
//
// Names and ids are assigned by explicit registration — "register one
// request/response or message type pair under a name" — rather than by
// reflecting over a receiver's exported methods at startup. A schema
// compiler that produced this table automatically is out of scope here,
// so ServiceMap is the concrete table a Server/Client build by hand.
package servicemap

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"duplexrpc/transportdata"
)

// ApiDef describes one registered request/response API.
type ApiDef struct {
	ID      uint32
	Name    string
	ReqType reflect.Type // element type, e.g. Args not *Args
	ResType reflect.Type
}

// MsgDef describes one registered fire-and-forget message type.
type MsgDef struct {
	ID   uint32
	Name string
	Type reflect.Type
}

// ServiceMap is the name↔id table shared read-mostly across every
// Connection on a Server, and by a Client's Connections to the services it
// calls. Build it at startup via RegisterApi/RegisterMsg, then Freeze it
// before serving — Freeze computes the local ProtoInfo fingerprint a
// Connection exchanges with its peer.
type ServiceMap struct {
	mu        sync.RWMutex
	apiByName map[string]*ApiDef
	apiByID   map[uint32]*ApiDef
	msgByName map[string]*MsgDef
	msgByID   map[uint32]*MsgDef
	nextAPIID uint32
	nextMsgID uint32
	frozen    bool
	proto     transportdata.ProtoInfo
}

// New returns an empty, mutable ServiceMap.
func New() *ServiceMap {
	return &ServiceMap{
		apiByName: make(map[string]*ApiDef),
		apiByID:   make(map[uint32]*ApiDef),
		msgByName: make(map[string]*MsgDef),
		msgByID:   make(map[uint32]*MsgDef),
	}
}

func elemType(sample any) reflect.Type {
	t := reflect.TypeOf(sample)
	if t != nil && t.Kind() == reflect.Ptr {
		return t.Elem()
	}
	return t
}

// RegisterApi registers an API under name, taking zero values (or nil
// pointers) of the request/response types purely to capture their
// reflect.Type. It is an error to register the same name twice or to
// register after Freeze.
func (m *ServiceMap) RegisterApi(name string, reqSample, resSample any) (*ApiDef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return nil, fmt.Errorf("servicemap: cannot register %q: map is frozen", name)
	}
	if _, exists := m.apiByName[name]; exists {
		return nil, fmt.Errorf("servicemap: api %q already registered", name)
	}
	m.nextAPIID++
	def := &ApiDef{
		ID:      m.nextAPIID,
		Name:    name,
		ReqType: elemType(reqSample),
		ResType: elemType(resSample),
	}
	m.apiByName[name] = def
	m.apiByID[def.ID] = def
	return def, nil
}

// RegisterMsg registers a message type under name.
func (m *ServiceMap) RegisterMsg(name string, msgSample any) (*MsgDef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return nil, fmt.Errorf("servicemap: cannot register %q: map is frozen", name)
	}
	if _, exists := m.msgByName[name]; exists {
		return nil, fmt.Errorf("servicemap: msg %q already registered", name)
	}
	m.nextMsgID++
	def := &MsgDef{ID: m.nextMsgID, Name: name, Type: elemType(msgSample)}
	m.msgByName[name] = def
	m.msgByID[def.ID] = def
	return def, nil
}

// Api looks up an API definition by name.
func (m *ServiceMap) Api(name string) (*ApiDef, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.apiByName[name]
	return d, ok
}

// ApiByID looks up an API definition by its numeric id, used by the buffer
// envelope variant which carries ids rather than names.
func (m *ServiceMap) ApiByID(id uint32) (*ApiDef, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.apiByID[id]
	return d, ok
}

// Msg looks up a message definition by name.
func (m *ServiceMap) Msg(name string) (*MsgDef, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.msgByName[name]
	return d, ok
}

// MsgByID looks up a message definition by its numeric id.
func (m *ServiceMap) MsgByID(id uint32) (*MsgDef, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.msgByID[id]
	return d, ok
}

// tsrpcVersion is this runtime's protocol version tag, exchanged in ProtoInfo.
const tsrpcVersion = "duplexrpc/1"

// Freeze closes the map to further registration and computes the local
// ProtoInfo: an MD5 fingerprint over every registered name (sorted, so
// registration order never affects the hash) and the current time as
// lastModified. Calling Freeze twice is a no-op returning the cached value.
func (m *ServiceMap) Freeze() transportdata.ProtoInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return m.proto
	}
	names := make([]string, 0, len(m.apiByName)+len(m.msgByName))
	for n := range m.apiByName {
		names = append(names, "api:"+n)
	}
	for n := range m.msgByName {
		names = append(names, "msg:"+n)
	}
	sort.Strings(names)

	h := md5.New()
	for _, n := range names {
		h.Write([]byte(n))
		h.Write([]byte{0})
	}

	m.proto = transportdata.ProtoInfo{
		Md5:          hex.EncodeToString(h.Sum(nil)),
		LastModified: time.Now().UnixMilli(),
		Tsrpc:        tsrpcVersion,
	}
	m.frozen = true
	return m.proto
}

// LocalProtoInfo returns the fingerprint computed by Freeze. It panics if
// called before Freeze — that is a programming error, not a runtime one.
func (m *ServiceMap) LocalProtoInfo() transportdata.ProtoInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.frozen {
		panic("servicemap: LocalProtoInfo called before Freeze")
	}
	return m.proto
}

// IsFrozen reports whether Freeze has been called, so callers that only
// have the map's address (e.g. client.Client.resolve, publishing a
// registry.ServiceInstance) can check before calling LocalProtoInfo instead
// of risking its panic.
func (m *ServiceMap) IsFrozen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frozen
}

// ApiNames returns every registered API name, in registration order is not
// guaranteed — callers that need a stable order should sort it themselves.
// Used to publish the set of apis a Server serves in its registry.ServiceInstance.
func (m *ServiceMap) ApiNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.apiByName))
	for n := range m.apiByName {
		names = append(names, n)
	}
	return names
}
