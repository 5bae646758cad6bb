package clipboard

import (
	"sync"
)

// Handle identifies a registered connection. The generation makes a handle go stale once its slot
// has been freed, so it can never remove a later occupant of the same slot.
type Handle struct {
	index      uint32
	generation uint32
}

type registrySlot struct {
	conn       *Conn
	generation uint32
}

// Registry is the set of live connections, stored as an arena of reusable slots.
type Registry struct {
	mu    sync.RWMutex
	slots []registrySlot
	free  []uint32
	count int
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(c *Conn) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, registrySlot{})
	}
	slot := &r.slots[idx]
	slot.conn = c
	r.count++
	return Handle{index: idx, generation: slot.generation}
}

// Remove frees the slot referenced by h. It reports false, and does nothing, when the handle is stale.
func (r *Registry) Remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(h.index) >= len(r.slots) {
		return false
	}
	slot := &r.slots[h.index]
	if slot.conn == nil || slot.generation != h.generation {
		return false
	}
	slot.conn = nil
	slot.generation++
	r.free = append(r.free, h.index)
	r.count--
	return true
}

// ForEach calls fn for every connection registered at the time of the call. fn runs without the
// registry lock held, so connections may come and go while it runs.
func (r *Registry) ForEach(fn func(*Conn)) {
	for _, c := range r.members() {
		fn(c)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

func (r *Registry) members() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, r.count)
	for _, slot := range r.slots {
		if slot.conn != nil {
			out = append(out, slot.conn)
		}
	}
	return out
}
