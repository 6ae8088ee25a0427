package appwrite

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// subscription is one caller's interest in a set of channels.
type subscription struct {
	id       string
	channels map[string]struct{}
	callback func(RealtimeResponseEvent)
}

func (s *subscription) matches(channels []string) bool {
	for _, ch := range channels {
		if _, ok := s.channels[ch]; ok {
			return true
		}
	}
	return false
}

// subscriptionRegistry maps subscription ids to their channels and
// callbacks. Callers write through add and remove; the dispatcher reads
// snapshots.
type subscriptionRegistry struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	closed bool
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		subs: make(map[string]*subscription),
	}
}

func (r *subscriptionRegistry) add(channels []string, callback func(RealtimeResponseEvent)) (*subscription, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}
	set := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		if ch != "" {
			set[ch] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil, ErrNoChannels
	}

	sub := &subscription{
		id:       uuid.NewString(),
		channels: set,
		callback: callback,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRealtimeClosed
	}
	r.subs[sub.id] = sub
	return sub, nil
}

// remove reports whether id was registered.
func (r *subscriptionRegistry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

// activeChannels returns the sorted union of every subscription's channels.
func (r *subscriptionRegistry) activeChannels() []string {
	r.mu.RLock()
	set := make(map[string]struct{})
	for _, sub := range r.subs {
		for ch := range sub.channels {
			set[ch] = struct{}{}
		}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// matching returns the subscriptions whose channels intersect channels.
func (r *subscriptionRegistry) matching(channels []string) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*subscription
	for _, sub := range r.subs {
		if sub.matches(channels) {
			out = append(out, sub)
		}
	}
	return out
}

func (r *subscriptionRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// close drops every subscription and rejects further adds.
func (r *subscriptionRegistry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.subs = make(map[string]*subscription)
}
