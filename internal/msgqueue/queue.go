// Package msgqueue provides an async FIFO queue connecting a push
// producer to a pull consumer, with explicit end and error signaling.
package msgqueue

import (
	"context"
	"errors"
	"sync"
)

// ErrFinished is returned by Push after End or Fail has been called.
var ErrFinished = errors.New("msgqueue: queue finished")

// waiter receives exactly one delivery: an item, a done marker, or an error.
type waiter[T any] struct {
	ch chan delivery[T]
}

type delivery[T any] struct {
	value T
	ok    bool
	err   error
}

// Queue is a FIFO queue of typed items. A single producer pushes items
// and eventually calls End or Fail; consumers pull with Next. Multiple
// concurrent Next callers are served in registration order.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	waiters  []*waiter[T]
	finished bool
	err      error
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends an item to the queue, handing it directly to the oldest
// waiting Next caller if one exists. It fails once the queue is finished.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.finished || q.err != nil {
		return ErrFinished
	}
	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		w.ch <- delivery[T]{value: item, ok: true}
		return nil
	}
	q.items = append(q.items, item)
	return nil
}

// End marks the queue finished. Waiting readers are woken with a done
// marker; items already queued remain retrievable. Idempotent.
func (q *Queue[T]) End() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.finished || q.err != nil {
		return
	}
	q.finished = true
	q.wakeAllLocked(delivery[T]{})
}

// Fail records a terminal error. Callers blocked in Next are woken
// with the done marker; the error itself surfaces on every Next call
// after that, even if items are still queued. The first terminal
// signal wins; Fail after End is a no-op.
func (q *Queue[T]) Fail(err error) {
	if err == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.finished || q.err != nil {
		return
	}
	q.err = err
	q.wakeAllLocked(delivery[T]{})
}

func (q *Queue[T]) wakeAllLocked(d delivery[T]) {
	for _, w := range q.waiters {
		w.ch <- d
	}
	q.waiters = nil
}

// Next pulls the next item. It returns (item, true, nil) for an item,
// (zero, false, nil) once the queue is finished and drained, and
// (zero, false, err) if Fail recorded err or ctx was canceled while
// waiting. Callers blocked in Next are woken FIFO as items arrive.
func (q *Queue[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T

	q.mu.Lock()
	if q.err != nil {
		err := q.err
		q.mu.Unlock()
		return zero, false, err
	}
	if len(q.items) > 0 {
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return item, true, nil
	}
	if q.finished {
		q.mu.Unlock()
		return zero, false, nil
	}

	w := &waiter[T]{ch: make(chan delivery[T], 1)}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case d := <-w.ch:
		return d.value, d.ok, d.err
	case <-ctx.Done():
		q.mu.Lock()
		for i, other := range q.waiters {
			if other == w {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				q.mu.Unlock()
				return zero, false, ctx.Err()
			}
		}
		q.mu.Unlock()
		// A delivery raced the cancellation; it is already buffered.
		d := <-w.ch
		return d.value, d.ok, d.err
	}
}

// Len reports the number of items currently queued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
