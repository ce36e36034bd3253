package monitor

import "sync"

// Ring is a fixed-size buffer that keeps the most recent entries in
// insertion order. When full, the oldest entry is dropped.
type Ring[T any] struct {
	mu      sync.RWMutex
	data    []T
	head    int
	count   int
	dropped uint64
	version uint64
}

// NewRing creates a ring holding up to size entries. Size below one is
// treated as one.
func NewRing[T any](size int) *Ring[T] {
	if size < 1 {
		size = 1
	}
	return &Ring[T]{data: make([]T, size)}
}

// Push appends v, evicting the oldest entry if the ring is full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[r.head] = v
	r.head = (r.head + 1) % len(r.data)
	if r.count < len(r.data) {
		r.count++
	} else {
		r.dropped++
	}
	r.version++
}

// Items returns the entries oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.count)
	start := (r.head - r.count + len(r.data)) % len(r.data)
	for i := 0; i < r.count; i++ {
		out[i] = r.data[(start+i)%len(r.data)]
	}
	return out
}

// Len returns the number of entries held.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the ring size.
func (r *Ring[T]) Cap() int {
	return len(r.data)
}

// Dropped returns how many entries have been evicted.
func (r *Ring[T]) Dropped() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

// Version increases on every Push, so readers can skip unchanged rings.
func (r *Ring[T]) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}
