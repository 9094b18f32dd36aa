package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToEverySubscriber(t *testing.T) {
	b := NewBroadcaster[string](4)
	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	b.Publish("hello")
	assert.Equal(t, "hello", <-ch1)
	assert.Equal(t, "hello", <-ch2)
}

// TestBroadcasterOverflowDropsOldest pins the bounded-stream rule: a full
// subscriber loses its oldest buffered value, not the newest, and the
// drop counter records it.
func TestBroadcasterOverflowDropsOldest(t *testing.T) {
	b := NewBroadcaster[int](2)
	_, ch := b.Subscribe()

	b.Publish(1)
	b.Publish(2)
	b.Publish(3) // overflows: 1 is dropped

	assert.Equal(t, uint64(1), b.Dropped())
	assert.Equal(t, 2, <-ch)
	assert.Equal(t, 3, <-ch)
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster[int](1)
	id, ch := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestRingSnapshotBeforeWrap(t *testing.T) {
	r := NewRing[int](4)
	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{1, 2}, r.Snapshot())
}

func TestRingSnapshotAfterWrapIsChronological(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	assert.Equal(t, []int{3, 4, 5}, r.Snapshot())
}
