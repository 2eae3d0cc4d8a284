package hub

import (
	"context"
	"sync"
)

// Registry owns the set of currently-running per-room hubs, spinning one up
// on first join and letting it tear itself down after an idle drain (§5,
// §9 Open Question (iii): single-process only. A cluster deployment needs
// a room-ownership layer this Registry does not implement).
type Registry struct {
	deps Deps

	mu   sync.Mutex
	hubs map[string]*Hub
	ctx  context.Context
}

// NewRegistry constructs a Registry. ctx governs every hub's lifetime: when
// ctx is cancelled, every running hub drains and disconnects its members
// (§5 "when a hub shuts down").
func NewRegistry(ctx context.Context, deps Deps) *Registry {
	return &Registry{deps: deps, hubs: make(map[string]*Hub), ctx: ctx}
}

// Get returns the hub for roomID, starting one if none is currently running
// or if the cached one has already decided to tear itself down (it may
// still be sitting in the map for a moment after Run returns, before its
// own cleanup goroutine removes it).
func (r *Registry) Get(roomID string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.hubs[roomID]; ok && h.isAlive() {
		return h
	}

	h := New(roomID, r.deps)
	r.hubs[roomID] = h
	go func() {
		h.Run(r.ctx)
		r.mu.Lock()
		if r.hubs[roomID] == h {
			delete(r.hubs, roomID)
		}
		r.mu.Unlock()
	}()
	return h
}

// Count reports how many hubs are currently running, for tests and metrics.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubs)
}
