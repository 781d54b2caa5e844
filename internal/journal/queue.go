package journal

import "sync"

// Queue is a thread-safe FIFO that doubles its capacity when full, so the
// journal never pushes back on the routing goroutine.
type Queue[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []T
	head     int
	tail     int
	depth    int
	capacity int
	closed   bool

	pushed int64
	popped int64
	grows  int
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Depth    int
	Capacity int
	Pushed   int64
	Popped   int64
	Grows    int
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &Queue[T]{
		items:    make([]T, initialCapacity),
		capacity: initialCapacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item, growing the queue if it is full. Returns false
// once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.depth == q.capacity {
		q.grow()
	}

	q.items[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.depth++
	q.pushed++

	q.cond.Signal()
	return true
}

// Pop blocks until an item is available or the queue is closed and
// drained.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.depth == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.depth == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// TryPop pops without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.depth == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// DrainUpTo pops at most max items (all of them when max <= 0).
func (q *Queue[T]) DrainUpTo(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.depth
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]T, n)
	for i := range out {
		out[i] = q.popLocked()
	}
	return out
}

// Close stops accepting pushes. Waiting poppers drain the remainder and
// then observe the close.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the current depth.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Depth:    q.depth,
		Capacity: q.capacity,
		Pushed:   q.pushed,
		Popped:   q.popped,
		Grows:    q.grows,
	}
}

// popLocked removes the head item. Caller holds the lock and has checked
// depth > 0.
func (q *Queue[T]) popLocked() T {
	item := q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head = (q.head + 1) % q.capacity
	q.depth--
	q.popped++
	return item
}

// grow doubles capacity, unwrapping the ring. Caller holds the lock.
func (q *Queue[T]) grow() {
	next := make([]T, q.capacity*2)
	if q.head < q.tail || q.depth == 0 {
		copy(next, q.items[q.head:q.head+q.depth])
	} else {
		n := copy(next, q.items[q.head:])
		copy(next[n:], q.items[:q.tail])
	}
	q.items = next
	q.head = 0
	q.tail = q.depth
	q.capacity *= 2
	q.grows++
}
