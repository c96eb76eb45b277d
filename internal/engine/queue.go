package engine

// initialQueueCap is the capacity of a new or cleared queue.
const initialQueueCap = 4

// Queue is a FIFO backed by a circular buffer.
//
// Capacity starts at 4 and doubles on overflow, preserving order.
//
// Queue is not safe for concurrent use; the Scheduler owns its queues and
// guards the update queue itself.
type Queue[T any] struct {
	buf  []T
	head int
	n    int
}

// NewQueue creates an empty queue with the initial capacity.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{buf: make([]T, initialQueueCap)}
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	return q.n
}

// Cap returns the current buffer capacity.
func (q *Queue[T]) Cap() int {
	return len(q.buf)
}

// Add appends v to the back of the queue.
func (q *Queue[T]) Add(v T) {
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = v
	q.n++
}

// Remove pops the front element.
// Returns *EmptyQueueError if the queue is empty.
func (q *Queue[T]) Remove() (T, error) {
	var zero T
	if q.n == 0 {
		return zero, &EmptyQueueError{}
	}

	v := q.buf[q.head]

	// Nil out the slot so the GC can collect closures held by the element.
	q.buf[q.head] = zero

	q.head = (q.head + 1) % len(q.buf)
	q.n--
	if q.n == 0 {
		q.head = 0
	}
	return v, nil
}

// Clear drops every element and shrinks back to the initial capacity.
func (q *Queue[T]) Clear() {
	q.buf = make([]T, initialQueueCap)
	q.head = 0
	q.n = 0
}

func (q *Queue[T]) grow() {
	size := len(q.buf) * 2
	if size == 0 {
		size = initialQueueCap
	}
	next := make([]T, size)
	for i := 0; i < q.n; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
}
