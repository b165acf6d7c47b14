package fusion

import "time"

// timestamped constrains ring contents to sample types that expose their
// arrival time.
type timestamped interface {
	when() time.Time
}

// ring is a fixed-capacity FIFO of time-ordered samples for one channel.
// Appends go to the tail and evict the oldest entry once full. The ring does
// no locking of its own: the Store serializes all access.
type ring[T timestamped] struct {
	buf      []T
	capacity int
	head     int // next write position
	size     int // current number of samples stored
}

func newRing[T timestamped](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// append stores a sample, overwriting the oldest if at capacity.
func (r *ring[T]) append(v T) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// all returns every buffered sample from oldest to newest.
func (r *ring[T]) all() []T {
	if r.size == 0 {
		return nil
	}
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head - r.size + i + r.capacity) % r.capacity
		out[i] = r.buf[idx]
	}
	return out
}

// since returns the samples that arrived at or after cutoff, oldest first.
// Samples are appended in arrival order, so the result is a contiguous tail
// of the buffer.
func (r *ring[T]) since(cutoff time.Time) []T {
	var out []T
	for i := 0; i < r.size; i++ {
		idx := (r.head - r.size + i + r.capacity) % r.capacity
		if !r.buf[idx].when().Before(cutoff) {
			out = append(out, r.buf[idx])
		}
	}
	return out
}

// clear removes all samples and releases references held in the buffer.
func (r *ring[T]) clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.size = 0
}
