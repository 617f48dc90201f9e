package queue

import (
	"sync"
	"time"
)

// Queue is an unbounded FIFO safe for concurrent use. Push never blocks, so a
// producer goroutine is never held up by a slow consumer.
type Queue[T any] struct {
	mutex sync.Mutex
	items []T

	// holds at most one wake-up for a consumer waiting in TryPop
	notify chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{
		notify: make(chan struct{}, 1),
	}
}

func (q *Queue[T]) Push(item T) {
	q.mutex.Lock()
	q.items = append(q.items, item)
	q.mutex.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// DrainAll returns everything currently queued, oldest first, and leaves the
// queue empty. Returns nil if nothing is queued.
func (q *Queue[T]) DrainAll() []T {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	items := q.items
	q.items = nil
	return items
}

// TryPop returns the oldest item, waiting up to timeout for one to arrive.
func (q *Queue[T]) TryPop(timeout time.Duration) (T, bool) {
	if item, ok := q.pop(); ok {
		return item, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.notify:
			if item, ok := q.pop(); ok {
				return item, true
			}
		case <-timer.C:
			// a push may have raced with the timer
			return q.pop()
		}
	}
}

func (q *Queue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return len(q.items)
}

func (q *Queue[T]) pop() (T, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}
