package relay

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
)

// Registry is the set of live authenticated sessions, keyed by peer address.
//
// A session becomes visible to the relay only once it is registered, so
// registration is the single signal that authentication succeeded.
// The registry holds Handles, never sockets.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	entries map[string]registryEntry
	order   uint64
}

type registryEntry struct {
	handle *Handle
	order  uint64
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return &Registry{
		log:     log,
		entries: make(map[string]registryEntry),
	}
}

// Register adds h under h.Addr.
func (r *Registry) Register(h *Handle) error {
	if h == nil || h.Addr == "" {
		return fmt.Errorf("register: %w", ErrSessionClosed)
	}

	r.mu.Lock()
	if _, exists := r.entries[h.Addr]; exists {
		r.mu.Unlock()
		return fmt.Errorf("register %s: %w", h.Addr, ErrAlreadyRegistered)
	}
	r.order++
	r.entries[h.Addr] = registryEntry{handle: h, order: r.order}
	n := len(r.entries)
	r.mu.Unlock()

	r.log.Debug("relay.registry.register",
		slog.String("session_id", h.ID),
		slog.String("peer", h.Addr),
		slog.Int("sessions", n),
	)
	return nil
}

// Unregister removes the session registered under addr and signals it to stop.
// Removing before closing guarantees the relay never snapshots a closing handle
// after this returns. Unknown addresses are a no-op.
func (r *Registry) Unregister(addr string) *Handle {
	r.mu.Lock()
	e, ok := r.entries[addr]
	if ok {
		delete(r.entries, addr)
	}
	n := len(r.entries)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	e.handle.Close()

	r.log.Debug("relay.registry.unregister",
		slog.String("session_id", e.handle.ID),
		slog.String("peer", addr),
		slog.Int("sessions", n),
	)
	return e.handle
}

// Snapshot returns a point-in-time copy of the registered handles in registration order.
// Callers may iterate it without holding any lock.
func (r *Registry) Snapshot() []*Handle {
	r.mu.RLock()
	entries := make([]registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })

	out := make([]*Handle, len(entries))
	for i, e := range entries {
		out[i] = e.handle
	}
	return out
}

// Lookup returns the handle registered under addr.
func (r *Registry) Lookup(addr string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[addr]
	return e.handle, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
