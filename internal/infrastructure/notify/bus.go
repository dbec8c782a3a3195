// Package notify delivers session-change notifications to subscribers.
package notify

import (
	"sort"
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/rs/zerolog"

	"github.com/globalvalve/valve-record/internal/core/domain"
	"github.com/globalvalve/valve-record/internal/core/ports"
)

const topicSessionChanged = "session:changed"

// SessionBus fans session changes out to subscribers in subscription order.
// Publish is synchronous; handlers must not publish on the same bus.
type SessionBus struct {
	bus evbus.Bus
	log zerolog.Logger

	mu       sync.Mutex
	handlers map[uint64]ports.SessionChangeHandler
	nextID   uint64
}

func NewSessionBus(log zerolog.Logger) *SessionBus {
	b := &SessionBus{
		bus:      evbus.New(),
		log:      log,
		handlers: make(map[uint64]ports.SessionChangeHandler),
	}
	// EventBus compares handlers by function pointer, so a single dispatcher
	// is registered and subscribers are tracked here.
	if err := b.bus.Subscribe(topicSessionChanged, b.dispatch); err != nil {
		panic(err)
	}
	return b
}

// Subscribe registers handler and returns a func that removes it. The returned
// func is safe to call more than once.
func (b *SessionBus) Subscribe(handler ports.SessionChangeHandler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers a change to every current subscriber before returning.
func (b *SessionBus) Publish(event domain.SessionEvent, session *domain.Session) {
	b.log.Debug().Str("event", string(event)).Bool("has_session", session != nil).Msg("publishing session change")
	b.bus.Publish(topicSessionChanged, domain.SessionChange{Event: event, Session: session})
}

// Len reports the number of subscribers.
func (b *SessionBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

func (b *SessionBus) dispatch(change domain.SessionChange) {
	b.mu.Lock()
	ids := make([]uint64, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]ports.SessionChangeHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		b.deliver(h, change)
	}
}

func (b *SessionBus) deliver(h ports.SessionChangeHandler, change domain.SessionChange) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("event", string(change.Event)).Msg("session change handler panicked")
		}
	}()
	h(change.Event, change.Session)
}
