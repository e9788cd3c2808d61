package signal

import (
	"sync"

	"github.com/rs/zerolog"
)

// Focus is a FocusSource driven by explicit Regained calls. Hosts wire it to
// whatever they treat as a focus event (an HTTP hook, an OS signal, a UI
// callback).
type Focus struct {
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[int]func()
	nextID int
}

// NewFocus creates a focus broadcaster with no subscribers.
func NewFocus(logger zerolog.Logger) *Focus {
	return &Focus{
		logger: logger.With().Str("component", "FocusSignal").Logger(),
		subs:   make(map[int]func()),
	}
}

// OnFocusRegained subscribes fn to focus pulses.
func (f *Focus) OnFocusRegained(fn func()) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Regained pulses every current subscriber on the caller's goroutine.
func (f *Focus) Regained() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	f.logger.Debug().Int("subscribers", len(fns)).Msg("Focus regained.")
	for _, fn := range fns {
		fn()
	}
}

// Subscribers reports the number of active subscriptions.
func (f *Focus) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
