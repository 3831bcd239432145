// Package buffer provides the bounded scrollback buffer kept per session.
package buffer

import "sync"

// Ring is a fixed-capacity byte ring. Writes past capacity overwrite the
// oldest bytes, so ReadAll always returns the most recent window of output.
// Safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	buf   []byte
	start int // index of oldest byte
	size  int // bytes currently held
}

// NewRing creates a ring holding at most capacity bytes. A non-positive
// capacity yields a ring that discards everything.
func NewRing(capacity int) *Ring {
	if capacity < 0 {
		capacity = 0
	}
	return &Ring{buf: make([]byte, capacity)}
}

// Write appends p, evicting the oldest bytes when capacity is exceeded.
// It never fails and always reports len(p) consumed.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	capacity := len(r.buf)
	if capacity == 0 {
		return n, nil
	}

	// Only the tail of an oversized write can survive.
	if n > capacity {
		p = p[n-capacity:]
	}

	end := (r.start + r.size) % capacity
	written := copy(r.buf[end:], p)
	copy(r.buf, p[written:])

	r.size += len(p)
	if r.size > capacity {
		r.start = (r.start + r.size - capacity) % capacity
		r.size = capacity
	}
	return n, nil
}

// ReadAll returns a copy of the buffered bytes, oldest first.
func (r *Ring) ReadAll() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]byte, r.size)
	n := copy(out, r.buf[r.start:])
	if n < r.size {
		copy(out[n:], r.buf[:r.size-n])
	}
	return out
}

// Len returns the number of bytes currently held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Clear drops all buffered bytes.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = 0
	r.size = 0
}
