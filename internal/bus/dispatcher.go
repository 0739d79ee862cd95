package bus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/mavbus/internal/observability"
	"github.com/danmuck/mavbus/internal/protocol/message"
	"github.com/rs/zerolog/log"
)

// Dispatcher delivers decoded messages to registered subscribers.
// Dispatch is called from a single goroutine, the bus read loop.
type Dispatcher interface {
	Register(sub Subscriber) (*Subscription, error)
	Unregister(s *Subscription) bool
	Dispatch(msg message.Message)
	Len() int
	// Delivering reports whether a Receive call is in progress.
	Delivering() bool
	Close()
}

// NewDispatcher builds the dispatcher for mode. onError may be nil.
func NewDispatcher(mode Mode, onError func(*SubscriberError)) (Dispatcher, error) {
	base := deliverer{mode: mode, onError: onError, inflight: new(atomic.Int32)}
	switch mode {
	case ModeSync:
		return &syncDispatcher{deliverer: base, reg: NewRegistry()}, nil
	case ModeAsync:
		return &asyncDispatcher{deliverer: base, reg: NewRegistry()}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, int(mode))
	}
}

type deliverer struct {
	mode     Mode
	onError  func(*SubscriberError)
	inflight *atomic.Int32
}

func (d deliverer) Delivering() bool {
	return d.inflight.Load() > 0
}

// deliver invokes one subscriber, isolating its errors and panics.
func (d deliverer) deliver(s *Subscription, msg message.Message) {
	if !s.Active() {
		return
	}
	d.inflight.Add(1)
	err := invoke(s.sub, msg)
	d.inflight.Add(-1)
	if err != nil {
		serr := &SubscriberError{SubscriptionID: s.id, MessageID: msg.ID, Err: err}
		observability.RecordSubscriberError(d.mode.String())
		log.Warn().
			Str("subscription", s.id).
			Uint8("msg", msg.ID).
			Err(err).
			Msg("bus.dispatch subscriber failed")
		if d.onError != nil {
			d.onError(serr)
		}
	}
}

func invoke(sub Subscriber, msg message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSubscriberPanic, r)
		}
	}()
	return sub.Receive(msg)
}

type syncDispatcher struct {
	deliverer
	reg *Registry
}

func (d *syncDispatcher) Register(sub Subscriber) (*Subscription, error) {
	return d.reg.Add(sub)
}

func (d *syncDispatcher) Unregister(s *Subscription) bool {
	return d.reg.Remove(s)
}

func (d *syncDispatcher) Dispatch(msg message.Message) {
	start := time.Now()
	for _, s := range d.reg.Snapshot() {
		d.deliver(s, msg)
	}
	observability.ObserveDispatch(d.mode.String(), time.Since(start))
}

func (d *syncDispatcher) Len() int {
	return d.reg.Len()
}

func (d *syncDispatcher) Close() {
	d.reg.Close()
}

type asyncDispatcher struct {
	deliverer
	reg *Registry

	// mu orders worker start against Close so wg.Add never races wg.Wait.
	mu sync.Mutex
	wg sync.WaitGroup
}

func (d *asyncDispatcher) Register(sub Subscriber) (*Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.reg.Add(sub)
	if err != nil {
		return nil, err
	}
	d.wg.Add(1)
	go d.run(s)
	return s, nil
}

// Unregister stops the worker without waiting for it, so it is safe to call
// from inside the subscription's own Receive.
func (d *asyncDispatcher) Unregister(s *Subscription) bool {
	if !d.reg.Remove(s) {
		return false
	}
	s.stop()
	return true
}

func (d *asyncDispatcher) Dispatch(msg message.Message) {
	start := time.Now()
	for _, s := range d.reg.Snapshot() {
		s.enqueue(msg)
	}
	observability.ObserveDispatch(d.mode.String(), time.Since(start))
}

func (d *asyncDispatcher) Len() int {
	return d.reg.Len()
}

// Close drops queued messages, lets in-flight Receive calls finish, and waits
// for every worker. The bus only calls it from the read loop after that loop
// has stopped delivering.
func (d *asyncDispatcher) Close() {
	d.mu.Lock()
	live := d.reg.Close()
	d.mu.Unlock()
	for _, s := range live {
		s.stop()
	}
	d.wg.Wait()
}

func (d *asyncDispatcher) run(s *Subscription) {
	defer d.wg.Done()
	for {
		msg, ok := s.next()
		if !ok {
			return
		}
		d.deliver(s, msg)
	}
}
