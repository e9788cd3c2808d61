package binding_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/binding"
	"github.com/illmade-knight/go-querycache/pkg/fetchevents"
	"github.com/illmade-knight/go-querycache/pkg/querycache"
	"github.com/rs/zerolog"
)

// fakeClock is a manually advanced clock shared by the client under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// manualInterval is an IntervalSource fired explicitly by the test.
type manualInterval struct {
	mu      sync.Mutex
	fn      func()
	period  time.Duration
	stopped int
}

func (m *manualInterval) OnInterval(period time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	m.period = period
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.fn = nil
		m.stopped++
	}
}

func (m *manualInterval) Tick() {
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *manualInterval) Stopped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// countingFetch returns value immediately and counts calls.
type countingFetch struct {
	calls atomic.Int32

	mu    sync.Mutex
	value any
	err   error
}

func newCountingFetch(value any) *countingFetch {
	return &countingFetch{value: value}
}

func (f *countingFetch) Fetch(ctx context.Context) (any, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.value, nil
}

func (f *countingFetch) Respond(value any, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = value
	f.err = err
}

// gatedFetch blocks each call until the test releases it with a result.
type gatedFetch struct {
	calls   atomic.Int32
	results chan fetchResult
}

type fetchResult struct {
	value any
	err   error
}

func newGatedFetch() *gatedFetch {
	return &gatedFetch{results: make(chan fetchResult)}
}

func (g *gatedFetch) Fetch(ctx context.Context) (any, error) {
	g.calls.Add(1)
	r := <-g.results
	return r.value, r.err
}

func (g *gatedFetch) Release(value any, err error) {
	g.results <- fetchResult{value: value, err: err}
}

// eventRecorder captures bus events.
type eventRecorder struct {
	mu     sync.Mutex
	events []fetchevents.Event
}

func recordEvents(t *testing.T, bus *fetchevents.Bus) *eventRecorder {
	t.Helper()
	r := &eventRecorder{}
	t.Cleanup(bus.Subscribe(func(ev fetchevents.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	}))
	return r
}

func (r *eventRecorder) Kinds(key string) []fetchevents.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []fetchevents.Kind
	for _, ev := range r.events {
		if ev.QueryKey == key {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}

func (r *eventRecorder) Events(key string) []fetchevents.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []fetchevents.Event
	for _, ev := range r.events {
		if ev.QueryKey == key {
			out = append(out, ev)
		}
	}
	return out
}

// stateRecorder captures binding state notifications.
type stateRecorder struct {
	mu     sync.Mutex
	states []binding.State
}

func recordStates(t *testing.T, b *binding.Binding) *stateRecorder {
	t.Helper()
	r := &stateRecorder{}
	t.Cleanup(b.Subscribe(func(s binding.State) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.states = append(r.states, s)
	}))
	return r
}

func (r *stateRecorder) Loading() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.Loading)
	}
	return out
}

func newTestClient(clock querycache.Clock) *querycache.Client {
	return querycache.NewClient(nil, clock, zerolog.Nop())
}
