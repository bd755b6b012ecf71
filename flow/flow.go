// Package flow implements the ordered, cancelable middleware chain used
// throughout a Connection's send/receive pipelines (preCallApi,
// preSendMsg, postConnect, ...). It generalizes the onion-model handler
// chain the rest of this module uses for server-side business dispatch
// (see package middleware) to the core's "may cancel, may mutate, may
// error" pre/post hooks described by the runtime's pipeline.
package flow

import "log"

// Node is a single middleware in a Flow. It receives the current value and
// returns either a (possibly mutated) value to continue the chain, or
// (zero value, false) to cancel the chain without an error. Nodes run
// sequentially, never concurrently, within one Exec call.
type Node[T any] func(data T) (T, bool, error)

// Flow is an ordered list of Nodes plus an error hook. The zero value is a
// usable empty flow.
type Flow[T any] struct {
	nodes   []Node[T]
	onError func(err error, data T)
}

// Use appends a middleware to the end of the chain. Ordering is FIFO by
// registration.
func (f *Flow[T]) Use(n Node[T]) {
	f.nodes = append(f.nodes, n)
}

// OnError installs the hook invoked when a Node returns a non-nil error.
// If unset, errors are logged and swallowed (Exec still reports
// cancellation to the caller via ok=false).
func (f *Flow[T]) OnError(h func(err error, data T)) {
	f.onError = h
}

// Exec runs every Node in order against data. If a Node cancels (ok=false)
// or errors, Exec stops the chain immediately and returns ok=false; the
// caller MUST treat this identically to an explicit cancel (abort the
// enclosing action). Exec never panics from a Node's error — it routes it
// through onError, or logs it when no onError is installed.
func (f *Flow[T]) Exec(data T) (result T, ok bool) {
	cur := data
	for _, n := range f.nodes {
		next, keepGoing, err := n(cur)
		if err != nil {
			if f.onError != nil {
				f.onError(err, cur)
			} else {
				log.Printf("flow: middleware error: %v", err)
			}
			var zero T
			return zero, false
		}
		if !keepGoing {
			var zero T
			return zero, false
		}
		cur = next
	}
	return cur, true
}

// Len reports how many middlewares are registered, mostly useful for tests.
func (f *Flow[T]) Len() int {
	return len(f.nodes)
}
