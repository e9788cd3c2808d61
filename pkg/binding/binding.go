// Package binding implements the per-consumer side of the query cache: a
// small state machine that decides on every activation whether to serve a
// cached value or fetch a new one, and that owns the refetch triggers for its
// own lifetime.
//
// The single-flight guard is per binding. Two bindings for the same key can
// both pass it and fetch at the same time; whichever write lands last wins.
// Set Options.Dedupe to collapse such fetches into one call per key.
package binding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-querycache/pkg/fetchevents"
	"github.com/illmade-knight/go-querycache/pkg/querycache"
	"github.com/illmade-knight/go-querycache/pkg/signal"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrFetchPanicked wraps a panic raised by a fetch function.
var ErrFetchPanicked = errors.New("fetch function panicked")

// Options carries the optional collaborators of a binding.
type Options struct {
	// Focus drives refetch-on-focus for definitions that ask for it.
	Focus signal.FocusSource
	// Interval drives periodic refetch for definitions with a RetryInterval.
	Interval signal.IntervalSource
	// Dedupe, when shared between bindings, lets concurrent fetches of the
	// same key share one call of the fetch function.
	Dedupe *singleflight.Group
}

// Binding tracks one consumer's view of one query definition.
type Binding struct {
	id     string
	client *querycache.Client
	def    querycache.Definition
	opts   Options
	logger zerolog.Logger

	mu          sync.Mutex
	state       State
	inFlight    bool
	activated   bool
	deactivated bool
	ctx         context.Context
	teardown    []func()
	listeners   map[int]func(State)
	nextID      int

	fetches   sync.WaitGroup
	closeOnce sync.Once
}

// New creates an inactive binding for def.
func New(
	client *querycache.Client,
	def querycache.Definition,
	opts Options,
	logger zerolog.Logger,
) (*Binding, error) {
	if client == nil {
		return nil, fmt.Errorf("query client cannot be nil")
	}
	if def.Key == "" {
		return nil, fmt.Errorf("query key cannot be empty")
	}
	if def.Fetch == nil {
		return nil, fmt.Errorf("fetch function cannot be nil for query %q", def.Key)
	}

	id := uuid.NewString()
	return &Binding{
		id:        id,
		client:    client,
		def:       def,
		opts:      opts,
		logger:    logger.With().Str("component", "FetchBinding").Str("binding_id", id).Str("query_key", def.Key).Logger(),
		listeners: make(map[int]func(State)),
	}, nil
}

// Mount creates a binding and activates it. The caller owns the binding and
// must Close it when done.
func Mount(
	ctx context.Context,
	client *querycache.Client,
	def querycache.Definition,
	opts Options,
	logger zerolog.Logger,
) (*Binding, error) {
	b, err := New(client, def, opts, logger)
	if err != nil {
		return nil, err
	}
	b.Activate(ctx)
	return b, nil
}

// ID returns the binding's unique identifier.
func (b *Binding) ID() string { return b.id }

// Key returns the query key the binding is bound to.
func (b *Binding) Key() string { return b.def.Key }

// State returns a snapshot of the binding's current state.
func (b *Binding) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Subscribe registers fn to receive every state change. fn runs on the
// goroutine that caused the change and must not block.
func (b *Binding) Subscribe(fn func(State)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Activate runs the activation protocol. The first call also installs the
// focus and interval triggers the definition asks for; later calls only
// re-run the cache check. Activate never blocks on a fetch: fetches run in
// their own goroutine and ctx is handed to them unchanged.
func (b *Binding) Activate(ctx context.Context) {
	b.mu.Lock()
	if b.deactivated {
		b.mu.Unlock()
		b.logger.Warn().Msg("Activate called on a deactivated binding, ignoring.")
		return
	}
	first := !b.activated
	b.activated = true
	b.ctx = ctx
	b.mu.Unlock()

	if first {
		b.installTriggers()
	}
	b.query(ctx)
}

func (b *Binding) installTriggers() {
	var teardown []func()

	if b.def.RefetchOnFocus {
		if b.opts.Focus == nil {
			b.logger.Warn().Msg("Definition asks for refetch on focus but no focus source is configured.")
		} else {
			teardown = append(teardown, b.opts.Focus.OnFocusRegained(b.trigger))
		}
	}
	if b.def.RetryInterval > 0 {
		if b.opts.Interval == nil {
			b.logger.Warn().Dur("retry_interval", b.def.RetryInterval).Msg("Definition asks for interval refetch but no interval source is configured.")
		} else {
			teardown = append(teardown, b.opts.Interval.OnInterval(b.def.RetryInterval, b.trigger))
		}
	}

	b.mu.Lock()
	if b.deactivated {
		// Deactivated while the triggers were being installed.
		b.mu.Unlock()
		for _, fn := range teardown {
			fn()
		}
		return
	}
	b.teardown = teardown
	b.mu.Unlock()
}

func (b *Binding) trigger() {
	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	b.query(ctx)
}

// query is the cache check shared by activation and the triggers.
func (b *Binding) query(ctx context.Context) {
	key := b.def.Key

	b.mu.Lock()
	if b.deactivated || b.inFlight {
		b.mu.Unlock()
		return
	}

	entry, ok := b.client.Read(key)
	switch {
	case !ok:
		b.logger.Debug().Msg("Cache miss, fetching.")
		b.client.Register(b.def)
	case b.client.IsCollectible(key):
		b.logger.Debug().Time("written_at", entry.WrittenAt).Msg("Cached value collectible, fetching.")
	case b.client.IsStale(key):
		b.logger.Debug().Time("written_at", entry.WrittenAt).Msg("Cached value stale, serving it while refetching.")
		b.state.Value = entry.Value
		b.state.HasValue = true
		b.state.UpdatedAt = entry.WrittenAt
	default:
		b.logger.Debug().Msg("Serving cached value.")
		b.state.Status = Settled
		b.state.Loading = false
		b.state.Value = entry.Value
		b.state.HasValue = true
		b.state.UpdatedAt = entry.WrittenAt
		snapshot := b.state
		b.mu.Unlock()
		b.notify(snapshot)
		return
	}

	snapshot := b.beginLocked()
	b.mu.Unlock()
	b.launch(ctx, snapshot)
}

// Refetch forces a fetch regardless of staleness. Unlike an unconditional
// refetch it still honours the binding's in-flight guard: it reports false,
// without fetching, if this binding already has a fetch in flight or has been
// deactivated. Callers that need a result after a refused Refetch can Wait and
// call it again.
func (b *Binding) Refetch(ctx context.Context) bool {
	b.mu.Lock()
	if b.deactivated || b.inFlight {
		b.mu.Unlock()
		return false
	}
	if _, ok := b.client.Definition(b.def.Key); !ok {
		b.client.Register(b.def)
	}
	snapshot := b.beginLocked()
	b.mu.Unlock()

	b.logger.Debug().Msg("Forced refetch.")
	b.launch(ctx, snapshot)
	return true
}

// beginLocked raises the in-flight guard. Callers hold b.mu.
func (b *Binding) beginLocked() State {
	b.inFlight = true
	b.state.Status = Fetching
	b.state.Loading = true
	b.fetches.Add(1)
	return b.state
}

func (b *Binding) launch(ctx context.Context, snapshot State) {
	b.client.Events().Publish(fetchevents.StartedAt(b.def.Key, b.client.Now()))
	b.notify(snapshot)
	go b.run(ctx)
}

func (b *Binding) run(ctx context.Context) {
	defer b.fetches.Done()
	key := b.def.Key

	value, err := b.fetch(ctx)
	if err == nil {
		// Store re-registers the definition if the key was invalidated or
		// collected while the fetch was in flight.
		entry := b.client.Store(b.def, value)
		b.mu.Lock()
		b.state.Value = value
		b.state.HasValue = true
		b.state.Err = nil
		b.state.UpdatedAt = entry.WrittenAt
		b.mu.Unlock()
		if b.def.OnSuccess != nil {
			b.callback("OnSuccess", func() { b.def.OnSuccess(value) })
		}
		b.logger.Debug().Msg("Fetch succeeded.")
	} else {
		b.logger.Error().Err(err).Msg("Fetch failed, keeping previous value.")
		if b.def.OnError != nil {
			b.callback("OnError", func() { b.def.OnError(err) })
		}
		b.mu.Lock()
		b.state.Err = err
		b.mu.Unlock()
	}

	b.mu.Lock()
	b.inFlight = false
	b.state.Status = Settled
	b.state.Loading = false
	snapshot := b.state
	b.mu.Unlock()

	b.client.Events().Publish(fetchevents.EndedAt(key, err, b.client.Now()))
	b.notify(snapshot)
}

func (b *Binding) fetch(ctx context.Context) (any, error) {
	call := func() (value any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrFetchPanicked, r)
			}
		}()
		return b.def.Fetch(ctx)
	}

	if b.opts.Dedupe == nil {
		return call()
	}
	value, err, shared := b.opts.Dedupe.Do(b.def.Key, call)
	if shared {
		b.logger.Debug().Msg("Fetch result shared with another binding.")
	}
	return value, err
}

func (b *Binding) callback(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Str("callback", name).Interface("panic", r).Msg("Query callback panicked.")
		}
	}()
	fn()
}

func (b *Binding) notify(s State) {
	b.mu.Lock()
	fns := make([]func(State), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Deactivate removes the binding's triggers and evicts its key if the cached
// value has become collectible. It runs at most once; later calls, and calls
// to Close, are no-ops. A fetch still in flight is neither awaited nor
// cancelled and will publish its end event when it settles.
func (b *Binding) Deactivate() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.deactivated = true
		teardown := b.teardown
		b.teardown = nil
		b.mu.Unlock()

		for _, fn := range teardown {
			fn()
		}

		if b.client.IsCollectible(b.def.Key) {
			b.logger.Debug().Msg("Cached value collectible at teardown, evicting.")
			b.client.Evict(b.def.Key)
		}
		b.logger.Debug().Msg("Binding deactivated.")
	})
}

// Close deactivates the binding. It satisfies io.Closer.
func (b *Binding) Close() error {
	b.Deactivate()
	return nil
}

// Wait blocks until no fetch issued by this binding is in flight.
func (b *Binding) Wait() {
	b.fetches.Wait()
}
