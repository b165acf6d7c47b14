package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAssignsDistinctIDs(t *testing.T) {
	t.Parallel()

	h := New[int](4)
	idA, chA := h.Subscribe()
	idB, chB := h.Subscribe()

	require.NotEmpty(t, idA)
	require.NotEmpty(t, idB)
	assert.NotEqual(t, idA, idB)
	require.NotNil(t, chA)
	require.NotNil(t, chB)
	assert.Equal(t, 2, h.Subscribers())
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	h := New[string](4)
	_, chA := h.Subscribe()
	_, chB := h.Subscribe()

	require.True(t, h.Publish("tick"))

	select {
	case got := <-chA:
		assert.Equal(t, "tick", got)
	default:
		t.Fatal("first subscriber did not receive the update")
	}
	select {
	case got := <-chB:
		assert.Equal(t, "tick", got)
	default:
		t.Fatal("second subscriber did not receive the update")
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	t.Parallel()

	h := New[int](4)
	assert.True(t, h.Publish(1))
	assert.Equal(t, uint64(0), h.Dropped())
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	h := New[int](2)
	_, slow := h.Subscribe()

	assert.True(t, h.Publish(1))
	assert.True(t, h.Publish(2))
	// Buffer of two is now full; the third publish must drop, not block.
	assert.False(t, h.Publish(3))
	assert.Equal(t, uint64(1), h.Dropped())

	assert.Equal(t, 1, <-slow)
	assert.Equal(t, 2, <-slow)

	// With the buffer drained delivery resumes.
	assert.True(t, h.Publish(4))
	assert.Equal(t, 4, <-slow)
}

func TestPublishDropsOnlyForFullSubscriber(t *testing.T) {
	t.Parallel()

	h := New[int](1)
	_, slow := h.Subscribe()
	_, fast := h.Subscribe()

	require.True(t, h.Publish(1))
	// slow never reads; fast drains.
	assert.Equal(t, 1, <-fast)

	assert.False(t, h.Publish(2))
	assert.Equal(t, uint64(1), h.Dropped())

	// fast still got the second update even though slow dropped it.
	assert.Equal(t, 2, <-fast)
	assert.Equal(t, 1, <-slow)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	h := New[int](4)
	id, ch := h.Subscribe()
	h.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Subscribers())

	// Unknown IDs are ignored.
	h.Unsubscribe("no-such-id")

	// Updates after unsubscribe do not count as drops.
	assert.True(t, h.Publish(7))
	assert.Equal(t, uint64(0), h.Dropped())
}

func TestCloseTerminatesSubscribers(t *testing.T) {
	t.Parallel()

	h := New[int](4)
	_, chA := h.Subscribe()
	_, chB := h.Subscribe()

	h.Close()

	deadline := time.After(time.Second)
	for _, ch := range []<-chan int{chA, chB} {
		select {
		case _, open := <-ch:
			assert.False(t, open)
		case <-deadline:
			t.Fatal("subscriber channel not closed")
		}
	}

	assert.False(t, h.Publish(1))
	assert.Equal(t, 0, h.Subscribers())

	// Subscribing after close hands back a closed channel.
	id, ch := h.Subscribe()
	assert.Empty(t, id)
	_, open := <-ch
	assert.False(t, open)

	// Close is idempotent.
	h.Close()
}
