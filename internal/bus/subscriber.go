package bus

import (
	"sync"
	"sync/atomic"

	"github.com/danmuck/mavbus/internal/protocol/message"
	"github.com/google/uuid"
)

// Subscriber receives every decoded message and filters by id itself.
// In async mode Receive runs on the subscription's own goroutine, concurrently
// with other subscribers but never with itself.
type Subscriber interface {
	Receive(msg message.Message) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(msg message.Message) error

func (f SubscriberFunc) Receive(msg message.Message) error {
	return f(msg)
}

// Subscription is the handle returned by Register; it is the identity used
// for Unregister.
type Subscription struct {
	id     string
	sub    Subscriber
	active atomic.Bool

	// async queue; unused in sync mode
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []message.Message
	stopped bool
}

func newSubscription(sub Subscriber) *Subscription {
	s := &Subscription{
		id:  uuid.NewString(),
		sub: sub,
	}
	s.cond = sync.NewCond(&s.mu)
	s.active.Store(true)
	return s
}

func (s *Subscription) ID() string {
	return s.id
}

// Active reports whether the subscription still receives messages.
func (s *Subscription) Active() bool {
	return s.active.Load()
}

// Pending reports messages queued but not yet delivered (async mode).
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription) enqueue(msg message.Message) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	s.cond.Signal()
}

// next blocks until a message is queued or the subscription stops.
func (s *Subscription) next() (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.stopped {
		s.cond.Wait()
	}
	if s.stopped {
		return message.Message{}, false
	}
	msg := s.queue[0]
	s.queue[0] = message.Message{}
	s.queue = s.queue[1:]
	return msg, true
}

// stop drops queued work and wakes the worker.
func (s *Subscription) stop() {
	s.active.Store(false)
	s.mu.Lock()
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()
	s.cond.Broadcast()
}
