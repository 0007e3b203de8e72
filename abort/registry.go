// Package abort implements the process-wide cancellation registry mapping
// in-flight request ids to their cancellation handles. An independent abort
// call (or a transport disconnect) signals the handle; the owning strategy
// observes the cancellation within one suspension point and terminates its
// stream with an aborted event.
package abort

import (
	"context"
	"sync"
)

// Handle is one registration's ownership token. Only the goroutine that
// registered it may release it.
type Handle struct {
	requestID string
	cancel    context.CancelFunc
}

// Registry tracks one cancellation handle per in-flight request id. It is
// safe under interleaved Register/Signal/Release from independent request
// handlers; a Signal racing a Release is a no-op, never a fault.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register inserts (or overwrites) the handle for requestID. A displaced
// handle is cancelled first: reusing an in-flight request id implicitly
// aborts the prior request. The returned Handle releases this registration
// and no other, so a displaced request winding down cannot evict its
// successor's entry.
func (r *Registry) Register(requestID string, cancel context.CancelFunc) *Handle {
	h := &Handle{requestID: requestID, cancel: cancel}

	r.mu.Lock()
	prev, ok := r.handles[requestID]
	r.handles[requestID] = h
	r.mu.Unlock()

	if ok {
		prev.cancel()
	}
	return h
}

// Signal triggers the abort handle for requestID. It returns true when a
// handle was present; false is a safe no-op, not a failure.
func (r *Registry) Signal(requestID string) bool {
	r.mu.Lock()
	h, ok := r.handles[requestID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	h.cancel()
	return true
}

// Release removes h's registration if it is still current. It is idempotent
// and must be called exactly once per request lifecycle on every terminal
// path.
func (r *Registry) Release(h *Handle) {
	r.mu.Lock()
	if cur, ok := r.handles[h.requestID]; ok && cur == h {
		delete(r.handles, h.requestID)
	}
	r.mu.Unlock()
}

// Len reports the number of tracked in-flight requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
