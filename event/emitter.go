// Package event implements the name-keyed subscriber table used for
// fire-and-forget message dispatch. It supports exact-name subscriptions and,
// at the Connection level, pattern (regexp) subscriptions layered on top by
// enumerating currently-registered names at subscribe time.
package event

import "sync"

// Handler receives the arguments an Emit call was given.
type Handler func(args ...any)

type subscriber struct {
	handler Handler
	ctx     any
	once    bool
}

// Emitter is a synchronous, registration-order pub/sub table keyed by event
// name. The zero value is ready to use.
type Emitter struct {
	mu   sync.Mutex
	subs map[string][]*subscriber
}

func (e *Emitter) ensure() {
	if e.subs == nil {
		e.subs = make(map[string][]*subscriber)
	}
}

// On appends a subscriber for name. Registering the same (handler, ctx) pair
// twice for the same name is a no-op — handler identity is compared by
// pointer (reflect.Value.Pointer), ctx by ==.
func (e *Emitter) On(name string, h Handler, ctx any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensure()
	if e.indexOfLocked(name, h, ctx) >= 0 {
		return
	}
	e.subs[name] = append(e.subs[name], &subscriber{handler: h, ctx: ctx})
}

// Once behaves like On but detaches the subscriber after its first delivery.
func (e *Emitter) Once(name string, h Handler, ctx any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensure()
	e.subs[name] = append(e.subs[name], &subscriber{handler: h, ctx: ctx, once: true})
}

// Off removes subscribers matching name. If h is nil, every subscriber for
// name is removed; otherwise only the (h, ctx) pair.
func (e *Emitter) Off(name string, h Handler, ctx any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		return
	}
	if h == nil {
		delete(e.subs, name)
		return
	}
	list := e.subs[name]
	idx := e.indexOfLocked(name, h, ctx)
	if idx < 0 {
		return
	}
	e.subs[name] = append(list[:idx], list[idx+1:]...)
}

// indexOfLocked must be called with e.mu held.
func (e *Emitter) indexOfLocked(name string, h Handler, ctx any) int {
	for i, s := range e.subs[name] {
		if samePointer(s.handler, h) && s.ctx == ctx {
			return i
		}
	}
	return -1
}

// Emit delivers args to every subscriber of name, synchronously, in
// registration order. A subscriber that panics does not prevent delivery to
// the rest — the panic is recovered and ignored, mirroring the source
// runtime's "exceptions from a subscriber do not prevent delivery" rule.
func (e *Emitter) Emit(name string, args ...any) {
	e.mu.Lock()
	list := append([]*subscriber(nil), e.subs[name]...)
	e.mu.Unlock()

	var toDetach []*subscriber
	for _, s := range list {
		func() {
			defer func() { recover() }()
			s.handler(args...)
		}()
		if s.once {
			toDetach = append(toDetach, s)
		}
	}
	if len(toDetach) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	remaining := e.subs[name][:0]
	for _, s := range e.subs[name] {
		detached := false
		for _, d := range toDetach {
			if s == d {
				detached = true
				break
			}
		}
		if !detached {
			remaining = append(remaining, s)
		}
	}
	e.subs[name] = remaining
}

// Names returns the currently-registered event names, used by pattern
// subscription to enumerate what a regexp should attach to "as of now".
func (e *Emitter) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.subs))
	for n := range e.subs {
		names = append(names, n)
	}
	return names
}

func samePointer(a, b Handler) bool {
	return funcPointer(a) == funcPointer(b)
}
