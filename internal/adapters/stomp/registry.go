package stomp

import (
	"sync"

	"github.com/google/uuid"
)

// Handler receives the body of every MESSAGE on a destination. It runs on
// the read pump and must not block.
type Handler = func(dest string, body []byte)

type subscription struct {
	id      string
	dest    string
	handler Handler
}

// registry survives reconnects; every entry is re-subscribed on a fresh
// connection.
type registry struct {
	mu     sync.RWMutex
	byDest map[string]*subscription
	byID   map[string]*subscription
}

func newRegistry() *registry {
	return &registry{
		byDest: make(map[string]*subscription),
		byID:   make(map[string]*subscription),
	}
}

// add returns the subscription for dest, replacing the handler if dest was
// already registered. created is false in that case.
func (r *registry) add(dest string, h Handler) (sub *subscription, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byDest[dest]; ok {
		s.handler = h
		return s, false
	}
	s := &subscription{id: uuid.NewString(), dest: dest, handler: h}
	r.byDest[dest] = s
	r.byID[s.id] = s
	return s, true
}

func (r *registry) remove(dest string) (*subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byDest[dest]
	if !ok {
		return nil, false
	}
	delete(r.byDest, dest)
	delete(r.byID, s.id)
	return s, true
}

func (r *registry) lookup(id string) (*subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

func (r *registry) all() []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*subscription, 0, len(r.byDest))
	for _, s := range r.byDest {
		out = append(out, s)
	}
	return out
}

func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.byDest)
	clear(r.byID)
}
