// Package history provides a fixed-capacity ring buffer used for every
// time series the controller tracks.
package history

// Bounded is a FIFO ring buffer of at most Cap() values. Append overwrites
// the oldest value once full and never allocates. Bounded is not safe for
// concurrent use; owners serialize access.
type Bounded[T any] struct {
	buf   []T
	head  int // next write position
	count int
}

// New creates a buffer holding up to capacity values. Capacities below one
// are raised to one.
func New[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &Bounded[T]{buf: make([]T, capacity)}
}

// Append adds v, evicting the oldest value when the buffer is full.
func (b *Bounded[T]) Append(v T) {
	b.buf[b.head] = v
	b.head = (b.head + 1) % len(b.buf)
	if b.count < len(b.buf) {
		b.count++
	}
}

func (b *Bounded[T]) Len() int { return b.count }

func (b *Bounded[T]) Cap() int { return len(b.buf) }

// Last returns the most recent value.
func (b *Bounded[T]) Last() (T, bool) {
	var zero T
	if b.count == 0 {
		return zero, false
	}

	return b.buf[(b.head-1+len(b.buf))%len(b.buf)], true
}

// Recent returns the last min(k, Len()) values, oldest first.
func (b *Bounded[T]) Recent(k int) []T {
	if k > b.count {
		k = b.count
	}
	if k <= 0 {
		return []T{}
	}

	out := make([]T, k)
	start := b.head - k + len(b.buf)
	for i := 0; i < k; i++ {
		out[i] = b.buf[(start+i)%len(b.buf)]
	}

	return out
}

// Values returns the whole window, oldest first.
func (b *Bounded[T]) Values() []T {
	return b.Recent(b.count)
}

// Do calls fn for every stored value, oldest first, without allocating.
func (b *Bounded[T]) Do(fn func(T)) {
	start := b.head - b.count + len(b.buf)
	for i := 0; i < b.count; i++ {
		fn(b.buf[(start+i)%len(b.buf)])
	}
}

// Reset drops all values and keeps the capacity.
func (b *Bounded[T]) Reset() {
	var zero T
	for i := range b.buf {
		b.buf[i] = zero
	}
	b.head = 0
	b.count = 0
}
