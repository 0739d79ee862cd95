package bus

import "sync"

// Registry is the concurrency-safe set of live subscriptions. Membership is
// copy-on-write so dispatch iterates a stable snapshot without holding the lock.
type Registry struct {
	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(sub Subscriber) (*Subscription, error) {
	if sub == nil {
		return nil, ErrNilSubscriber
	}
	s := newSubscription(sub)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	next := make([]*Subscription, len(r.subs), len(r.subs)+1)
	copy(next, r.subs)
	r.subs = append(next, s)
	return s, nil
}

// Remove deactivates s and reports whether it was registered.
func (r *Registry) Remove(s *Subscription) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.subs {
		if cur != s {
			continue
		}
		next := make([]*Subscription, 0, len(r.subs)-1)
		next = append(next, r.subs[:i]...)
		next = append(next, r.subs[i+1:]...)
		r.subs = next
		s.active.Store(false)
		return true
	}
	return false
}

// Snapshot returns the current members in registration order. Callers must not
// modify the slice.
func (r *Registry) Snapshot() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Close rejects further Adds and returns the members that were live.
func (r *Registry) Close() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	out := r.subs
	r.subs = nil
	for _, s := range out {
		s.active.Store(false)
	}
	return out
}
