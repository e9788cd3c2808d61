package fetchevents

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handler receives every event published on a Bus.
type Handler func(ev Event)

type subscription struct {
	id      string
	handler Handler
}

// Bus is a synchronous, in-process broadcast channel for fetch events.
// Handlers run on the publisher's goroutine in subscription order. The bus
// holds no lock while a handler runs, so handlers may subscribe or unsubscribe
// during delivery; such changes take effect from the next Publish.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		logger: logger.With().Str("component", "FetchEventBus").Logger(),
	}
}

// Subscribe registers handler and returns a function that removes it.
// The returned function is safe to call more than once.
func (b *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	sub := subscription{id: uuid.NewString(), handler: handler}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Debug().Str("subscription_id", sub.id).Msg("Subscriber added.")

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(sub.id)
		})
	}
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			// Copy rather than reslice in place; in-flight deliveries hold the old slice.
			next := make([]subscription, 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			b.subs = append(next, b.subs[i+1:]...)
			b.logger.Debug().Str("subscription_id", id).Msg("Subscriber removed.")
			return
		}
	}
}

// Publish delivers ev to every current subscriber. A panicking handler is
// logged and skipped; it never prevents delivery to the others.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("subscription_id", s.id).
				Str("query_key", ev.QueryKey).
				Interface("panic", r).
				Msg("Fetch event handler panicked.")
		}
	}()
	s.handler(ev)
}

// Len reports the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
