// Package hub fans pipeline updates out to multiple consumers over buffered
// channels. Slow consumers lose updates rather than stall the producer; the
// processing loop must never wait on a dashboard.
package hub

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
)

// Hub is a broadcast fan-out keyed by subscriber ID.
type Hub[T any] struct {
	buffer int

	mu      sync.Mutex
	subs    map[string]chan T
	closed  bool
	dropped uint64
}

// New creates a hub whose subscriber channels buffer the given number of
// values before drops begin.
func New[T any](buffer int) *Hub[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub[T]{
		buffer: buffer,
		subs:   make(map[string]chan T),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a consumer and returns its ID for Unsubscribe. On a
// closed hub the returned channel is already closed.
func (h *Hub[T]) Subscribe() (string, <-chan T) {
	ch := make(chan T, h.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return "", ch
	}
	id := randomID()
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub[T]) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// Publish offers v to every subscriber without blocking and reports whether
// all of them accepted it. Publishing to a hub with no subscribers succeeds.
func (h *Hub[T]) Publish(v T) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	all := true
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
			// Full buffer: the consumer is too slow, skip it.
			h.dropped++
			all = false
		}
	}
	return all
}

// Dropped reports how many per-subscriber deliveries were skipped.
func (h *Hub[T]) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Subscribers reports the current consumer count.
func (h *Hub[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel and rejects further publishes.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
