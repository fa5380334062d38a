// Package ring implements the single-producer/single-consumer ring buffers
// used to cross the audio-callback boundary without allocating, locking, or
// blocking: the host callback threads only ever Push/Pop, never wait.
package ring

import "sync/atomic"

// Ring is a lock-free SPSC ring buffer of T. Exactly one goroutine may call
// Push; exactly one (possibly different) goroutine may call Pop. Capacity
// is rounded up to the next power of two so indices can be masked instead
// of modded.
type Ring[T any] struct {
	buf  []T
	mask uint64
	head atomic.Uint64 // next slot to write (producer-owned)
	tail atomic.Uint64 // next slot to read (consumer-owned)
}

// New returns a Ring able to hold at least capacity elements.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &Ring[T]{
		buf:  make([]T, size),
		mask: uint64(size - 1),
	}
}

// Len returns the number of currently buffered elements. Safe to call from
// either side; the result may be stale by the time the caller acts on it.
func (r *Ring[T]) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the ring's fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// TryPush attempts to enqueue v. It returns false without blocking if the
// ring is full.
func (r *Ring[T]) TryPush(v T) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if head-tail >= uint64(len(r.buf)) {
		return false
	}
	r.buf[head&r.mask] = v
	r.head.Store(head + 1)
	return true
}

// TryPop attempts to dequeue one element. It returns (zero, false) without
// blocking if the ring is empty.
func (r *Ring[T]) TryPop() (T, bool) {
	var zero T
	tail := r.tail.Load()
	head := r.head.Load()
	if tail == head {
		return zero, false
	}
	v := r.buf[tail&r.mask]
	r.buf[tail&r.mask] = zero
	r.tail.Store(tail + 1)
	return v, true
}

// Clear drains the ring without returning its contents. Only safe to call
// when the producer side is quiescent (e.g. during teardown).
func (r *Ring[T]) Clear() {
	for {
		if _, ok := r.TryPop(); !ok {
			return
		}
	}
}
