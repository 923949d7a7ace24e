package link

// Ring is a bounded channel-like buffer with overwrite-oldest semantics.
//
// It wraps a buffered channel and guarantees producers never block: when
// the buffer is full the oldest element is discarded. Radio notification
// callbacks publish through it, so a slow consumer can cost old events
// but can never stall the radio stack.
type Ring[T any] struct {
	ch chan T
}

// NewRing creates a Ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("link: ring capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Send inserts an item, discarding the oldest when full. Never blocks
// indefinitely.
func (r *Ring[T]) Send(v T) {
	for {
		select {
		case r.ch <- v:
			return
		default:
			select {
			case <-r.ch: // drop oldest
			default:
			}
		}
	}
}

// TryReceive returns the next item without blocking.
func (r *Ring[T]) TryReceive() (T, bool) {
	select {
	case v := <-r.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	return len(r.ch)
}
