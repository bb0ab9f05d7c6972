// Package eventq provides an unbounded, ordered delivery queue. Producers
// stage values without blocking (typically while holding a lock); a dedicated
// pump goroutine drains them to the outbound channel, so a slow consumer
// never stalls the producer or its fellow consumers, and delivery order
// matches staging order.
package eventq

import "sync"

// Queue is one consumer's delivery queue.
//
// A queue ends one of two ways: Cancel (consumer detached; the channel closes
// immediately and pending values are dropped) or Finish (producer terminated;
// pending values, including any terminal notification, are delivered before
// close).
type Queue[T any] struct {
	out chan T

	mu       sync.Mutex
	queue    []T
	finished bool

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// New creates a queue and starts its pump.
func New[T any]() *Queue[T] {
	q := &Queue[T]{
		out:    make(chan T),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.pump()
	return q
}

// Out returns the consumer-facing channel.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// Put stages a value for delivery. Safe to call while holding locks.
func (q *Queue[T]) Put(v T) {
	q.mu.Lock()
	q.queue = append(q.queue, v)
	q.mu.Unlock()
	q.wake()
}

// Cancel stops delivery immediately and closes the outbound channel.
func (q *Queue[T]) Cancel() {
	q.once.Do(func() { close(q.done) })
}

// Finish closes the outbound channel once pending values have drained.
func (q *Queue[T]) Finish() {
	q.mu.Lock()
	q.finished = true
	q.mu.Unlock()
	q.wake()
}

func (q *Queue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) pump() {
	defer close(q.out)
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}
		for {
			q.mu.Lock()
			if len(q.queue) == 0 {
				finished := q.finished
				q.mu.Unlock()
				if finished {
					return
				}
				break
			}
			v := q.queue[0]
			q.queue = q.queue[1:]
			q.mu.Unlock()

			select {
			case q.out <- v:
			case <-q.done:
				return
			}
		}
	}
}
