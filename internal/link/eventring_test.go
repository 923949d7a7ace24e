package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingDropsOldestWhenFull(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Send(i)
	}
	require.Equal(t, 3, r.Len())

	var got []int
	for {
		v, ok := r.TryReceive()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got, "the two oldest items are discarded")
}

func TestRingSendNeverBlocks(t *testing.T) {
	r := NewRing[int](1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			r.Send(i)
		}
	}()
	<-done

	v, ok := r.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 999, v)
}

func TestRingTryReceiveEmpty(t *testing.T) {
	r := NewRing[string](2)
	v, ok := r.TryReceive()
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestRingPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { NewRing[int](0) })
}

func TestRingChannelReceive(t *testing.T) {
	r := NewRing[Event](4)
	r.Send(Event{Kind: EventConnected})

	select {
	case ev := <-r.C():
		assert.Equal(t, EventConnected, ev.Kind)
	default:
		t.Fatal("expected a buffered event")
	}
}
