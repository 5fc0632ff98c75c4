package manager

import "sync"

// hotSet tracks filter names touched by a successful read/write
// operation since the last drain. The zero value is ready to use.
//
// Shaped after derbuihan-wsfs's DirtyNodeRegistry (map + RWMutex), but
// keyed by filter name instead of node pointer, and with a Drain instead
// of an Unregister/FlushAll pair: the spec's hot set never removes a
// single entry, only the whole map at once.
type hotSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// mark inserts name. Idempotent within a drain window.
func (h *hotSet) mark(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen == nil {
		h.seen = make(map[string]struct{})
	}
	h.seen[name] = struct{}{}
}

// drain atomically swaps in a fresh empty map and returns the names
// that had been marked.
func (h *hotSet) drain() []string {
	h.mu.Lock()
	old := h.seen
	h.seen = nil
	h.mu.Unlock()

	names := make([]string, 0, len(old))
	for name := range old {
		names = append(names, name)
	}
	return names
}
