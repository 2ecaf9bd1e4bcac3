package bus

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotConnected = errors.New("message bus not connected")
	ErrClientClosed = errors.New("message bus client closed")
)

type Handler func(Message)

// Bus is the host's topic-tagged message channel. Broadcast is best effort
// and in order per sender; Subscribe handlers see every inbound message.
type Bus interface {
	Connected() bool
	Broadcast(Message) error
	Subscribe(Handler) (cancel func())
}

// Subscribers is a handler registry that dispatches in subscription order.
type Subscribers struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
}

func (s *Subscribers) Add(handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	s.mu.Lock()
	if s.handlers == nil {
		s.handlers = map[uint64]Handler{}
	}
	s.nextID++
	id := s.nextID
	s.handlers[id] = handler
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Subscribers) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

func (s *Subscribers) Dispatch(msg Message) {
	s.mu.RLock()
	ids := make([]uint64, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, s.handlers[id])
	}
	s.mu.RUnlock()

	for _, handler := range handlers {
		handler(msg)
	}
}
