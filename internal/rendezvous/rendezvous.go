// Package rendezvous implements the wait-mode synchronous handshake between
// an HTTP request blocked on a submission's terminal result and the worker
// that eventually produces it. It generalizes a per-request result channel
// into one addressed by submission id, so any number of waiters across the
// process can be woken by the worker that finishes the job, without the
// worker needing to know whether anyone is even waiting.
package rendezvous

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Registry tracks one broadcast-once channel per submission id currently
// being waited on.
type Registry struct {
	mu      sync.Mutex
	waiters map[uuid.UUID]chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{waiters: make(map[uuid.UUID]chan struct{})}
}

// Register creates (or reuses) the wake channel for id. Safe to call before
// the worker has picked the job up; the worker only needs the id to exist.
func (r *Registry) Register(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.waiters[id]; !ok {
		r.waiters[id] = make(chan struct{})
	}
}

// Publish wakes every waiter on id and forgets it. Safe to call even if no
// one registered for id (e.g. wait mode was not requested) or it already
// fired — both are no-ops.
func (r *Registry) Publish(id uuid.UUID) {
	r.mu.Lock()
	ch, ok := r.waiters[id]
	if ok {
		delete(r.waiters, id)
	}
	r.mu.Unlock()

	if ok {
		close(ch)
	}
}

// AwaitTerminal blocks until Publish(id) fires, ctx is cancelled, or the
// submission was never registered (returns immediately, false). It returns
// true iff Publish fired before ctx was done.
func (r *Registry) AwaitTerminal(ctx context.Context, id uuid.UUID) bool {
	r.mu.Lock()
	ch, ok := r.waiters[id]
	r.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// Forget removes a waiter without waking it, used when a caller gives up
// (e.g. the wait-mode deadline already elapsed via a parent context) and no
// one else should be left blocked on a channel that will never close.
func (r *Registry) Forget(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, id)
}
