// Package sync turns the backend's listener-based push notifications into
// consistent, observable in-memory collections: the household member roster
// and the expense ledger.
//
// Both collections follow the same shape: a child-event subscription whose
// replayed history is sealed by a snapshot marker, applied in order to a
// working list, multicast to any number of subscribers through a shared
// Stream.
package sync

import (
	"sync"

	"github.com/mmynk/homeledger/internal/eventq"
	"github.com/mmynk/homeledger/internal/metrics"
)

// connectFunc starts a stream's upstream subscription. It must return a stop
// function that deregisters every listener it attached. Emitted values go
// through publish; a terminal listener cancellation goes through fail, after
// which no further publish may happen. connect runs under the stream lock, so
// publish and fail must only be called from goroutines it starts, never
// synchronously.
type connectFunc[T any] func(publish func(T), fail func(error)) (stop func())

// Stream is a multicast-with-replay broadcaster. The upstream subscription is
// started lazily on the first subscriber and torn down when the last one
// unsubscribes; the most recent value is cached and handed to late
// subscribers immediately. A single upstream therefore serves arbitrarily
// many consumers. Each subscriber gets its own delivery queue, so a slow
// subscriber never blocks the event-delivery context or its fellow
// subscribers.
type Stream[T any] struct {
	name    string
	connect connectFunc[T]

	mu      sync.Mutex
	subs    map[int]*eventq.Queue[T]
	nextID  int
	latest  *T
	stop    func()
	err     error
}

// NewStream creates a stream with the given upstream connector. The name is
// used as the metrics label.
func NewStream[T any](name string, connect connectFunc[T]) *Stream[T] {
	return &Stream[T]{
		name:    name,
		connect: connect,
		subs:    make(map[int]*eventq.Queue[T]),
	}
}

// Subscribe attaches a consumer. The returned channel yields every emission
// from the moment of subscription on, starting with the latest cached value
// if one exists. The channel is closed when the subscriber cancels or the
// upstream is cancelled by the backend; in the latter case Err reports why.
func (s *Stream[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()

	id := s.nextID
	s.nextID++
	q := eventq.New[T]()
	s.subs[id] = q
	metrics.Subscribers.WithLabelValues(s.name).Inc()

	if s.latest != nil {
		q.Put(*s.latest)
	}
	if s.stop == nil {
		s.err = nil
		s.stop = s.connect(s.publish, s.fail)
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { s.unsubscribe(id) })
	}
	return q.Out(), cancel
}

// Latest returns the most recent cached emission. It reports false while the
// stream has no subscribers or has not emitted yet.
func (s *Stream[T]) Latest() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		var zero T
		return zero, false
	}
	return *s.latest, true
}

// Err returns the terminal upstream error, if the stream has been cancelled
// by the backend.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream[T]) unsubscribe(id int) {
	s.mu.Lock()
	q, ok := s.subs[id]
	if ok {
		delete(s.subs, id)
		metrics.Subscribers.WithLabelValues(s.name).Dec()
	}
	var stop func()
	if len(s.subs) == 0 && s.stop != nil {
		stop = s.stop
		s.stop = nil
		s.latest = nil
	}
	s.mu.Unlock()

	if ok {
		q.Cancel()
	}
	if stop != nil {
		stop()
	}
}

// publish caches v and delivers it to every subscriber.
func (s *Stream[T]) publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &v
	for _, q := range s.subs {
		q.Put(v)
	}
}

// fail records the terminal error and closes every subscriber channel after
// pending emissions drain. The upstream is considered gone; a later
// subscriber starts a fresh one.
func (s *Stream[T]) fail(err error) {
	s.mu.Lock()
	stop := s.stop
	s.err = err
	s.stop = nil
	s.latest = nil
	for id, q := range s.subs {
		delete(s.subs, id)
		metrics.Subscribers.WithLabelValues(s.name).Dec()
		q.Finish()
	}
	s.mu.Unlock()

	// Release whatever the connector attached; the upstream listener is gone
	// but secondary subscriptions (e.g. the ledger's roster feed) are not.
	if stop != nil {
		stop()
	}
}
