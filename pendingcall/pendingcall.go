// Package pendingcall implements the in-flight call table: a map from
// sequence number to PendingCall plus a secondary index from abort key to
// the set of sns sharing it, supporting both "route a reply by sn" and
// bulk cancellation by abortKey via a once-only, idempotent Abort.
package pendingcall

import (
	"sync"

	"duplexrpc/transportdata"
)

// PendingCall is one outstanding client-side request awaiting its res or
// err. OnReturn and OnAbort are mutually exclusive: once a call is aborted,
// OnReturn is nilled out so a late answer can never invoke it.
type PendingCall struct {
	Sn        uint32
	ApiName   string
	AbortKey  string
	IsAborted bool
	OnReturn  func(td *transportdata.TransportData)
	OnAbort   func()
}

// Table is the sn→PendingCall map plus its abortKey index. The zero value
// is ready to use. All operations are safe for concurrent use; Insert, Get,
// Remove, Abort and Resolve are O(1), the bulk operations are linear.
type Table struct {
	mu         sync.Mutex
	bySn       map[uint32]*PendingCall
	byAbortKey map[string]map[uint32]struct{}
}

func (t *Table) ensure() {
	if t.bySn == nil {
		t.bySn = make(map[uint32]*PendingCall)
		t.byAbortKey = make(map[string]map[uint32]struct{})
	}
}

// Insert adds item to the table. It must be called before the matching
// request is handed to the transport, so a response racing the insert can
// never be dropped as "unknown sn".
func (t *Table) Insert(item *PendingCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensure()
	t.bySn[item.Sn] = item
	if item.AbortKey != "" {
		set, ok := t.byAbortKey[item.AbortKey]
		if !ok {
			set = make(map[uint32]struct{})
			t.byAbortKey[item.AbortKey] = set
		}
		set[item.Sn] = struct{}{}
	}
}

// Get returns the PendingCall for sn without removing it.
func (t *Table) Get(sn uint32) (*PendingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.bySn[sn]
	return item, ok
}

// Remove deletes sn from the table (both indexes) and returns the removed
// item, if any. This is the normal, non-abort completion path: a matching
// return arrived, or the caller's timeout fired first.
func (t *Table) Remove(sn uint32) (*PendingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(sn)
}

func (t *Table) removeLocked(sn uint32) (*PendingCall, bool) {
	item, ok := t.bySn[sn]
	if !ok {
		return nil, false
	}
	delete(t.bySn, sn)
	if item.AbortKey != "" {
		if set, ok := t.byAbortKey[item.AbortKey]; ok {
			delete(set, sn)
			if len(set) == 0 {
				delete(t.byAbortKey, item.AbortKey)
			}
		}
	}
	return item, true
}

// Abort removes sn, marks it aborted, nils its OnReturn so a late answer is
// a guaranteed no-op, and fires OnAbort. Idempotent: aborting an sn that is
// already gone (removed, or previously aborted) does nothing.
func (t *Table) Abort(sn uint32) {
	t.mu.Lock()
	item, ok := t.removeLocked(sn)
	t.mu.Unlock()
	if !ok {
		return
	}
	item.IsAborted = true
	item.OnReturn = nil
	if item.OnAbort != nil {
		item.OnAbort()
	}
}

// AbortByKey aborts every sn registered under key.
func (t *Table) AbortByKey(key string) {
	t.mu.Lock()
	set, ok := t.byAbortKey[key]
	var sns []uint32
	if ok {
		sns = make([]uint32, 0, len(set))
		for sn := range set {
			sns = append(sns, sn)
		}
	}
	t.mu.Unlock()
	for _, sn := range sns {
		t.Abort(sn)
	}
}

// Resolve removes sn and invokes its OnReturn with td. It reports false if
// sn is not currently pending (already resolved, timed out, or aborted) —
// the caller should treat that as "drop the late response", never as an
// error.
func (t *Table) Resolve(sn uint32, td *transportdata.TransportData) bool {
	t.mu.Lock()
	item, ok := t.removeLocked(sn)
	t.mu.Unlock()
	if !ok {
		return false
	}
	if item.OnReturn != nil {
		item.OnReturn(td)
	}
	return true
}

// AbortAll aborts every currently pending call. A Connection's disconnect
// path uses FailAll instead, so its calls resolve with an error.
func (t *Table) AbortAll() {
	t.mu.Lock()
	sns := make([]uint32, 0, len(t.bySn))
	for sn := range t.bySn {
		sns = append(sns, sn)
	}
	t.mu.Unlock()
	for _, sn := range sns {
		t.Abort(sn)
	}
}

// FailAll removes every currently pending call and invokes its OnReturn with
// the TransportData build constructs for that call's sn — used when a
// Connection drops to Disconnecting/Disconnected and every outstanding call
// must resolve to a NetworkError rather than hang or silently vanish like
// Abort does.
func (t *Table) FailAll(build func(sn uint32) *transportdata.TransportData) {
	t.mu.Lock()
	items := make([]*PendingCall, 0, len(t.bySn))
	for _, item := range t.bySn {
		items = append(items, item)
	}
	t.bySn = make(map[uint32]*PendingCall)
	t.byAbortKey = make(map[string]map[uint32]struct{})
	t.mu.Unlock()

	for _, item := range items {
		if item.OnReturn != nil {
			item.OnReturn(build(item.Sn))
		}
	}
}

// Len reports how many calls are currently pending.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bySn)
}
