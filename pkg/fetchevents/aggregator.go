package fetchevents

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// Filter narrows which query keys an Aggregator reports on. The zero Filter
// matches every key. When both fields are set a key must satisfy both.
type Filter struct {
	Keys      []string
	Predicate func(queryKey string) bool
}

// Match reports whether key passes the filter.
func (f Filter) Match(key string) bool {
	if len(f.Keys) > 0 && !slices.Contains(f.Keys, key) {
		return false
	}
	if f.Predicate != nil && !f.Predicate(key) {
		return false
	}
	return true
}

// Aggregator answers "is anything fetching" from the event stream.
//
// It counts in-flight fetches per key instead of flipping a single flag, so
// an end for one key never clears the state while another key (or another
// binding for the same key) is still fetching. An end with no matching start,
// as seen by an aggregator that subscribed mid-fetch, is ignored.
type Aggregator struct {
	filter      Filter
	logger      zerolog.Logger
	unsubscribe func()

	// delivery is held from the count update until every watcher has seen the
	// resulting transition, so watchers observe transitions in order.
	delivery sync.Mutex

	mu       sync.Mutex
	inFlight map[string]int
	fetching bool
	watchers map[int]func(bool)
	nextID   int
}

// NewAggregator subscribes a new aggregator to bus. Call Close to detach it.
func NewAggregator(bus *Bus, filter Filter, logger zerolog.Logger) *Aggregator {
	a := &Aggregator{
		filter:   filter,
		logger:   logger.With().Str("component", "FetchAggregator").Logger(),
		inFlight: make(map[string]int),
		watchers: make(map[int]func(bool)),
	}
	a.unsubscribe = bus.Subscribe(a.handle)
	return a
}

func (a *Aggregator) handle(ev Event) {
	a.delivery.Lock()
	defer a.delivery.Unlock()

	a.mu.Lock()
	switch ev.Kind {
	case FetchStarted:
		a.inFlight[ev.QueryKey]++
	case FetchEnded:
		n, ok := a.inFlight[ev.QueryKey]
		if !ok {
			a.mu.Unlock()
			a.logger.Debug().Str("query_key", ev.QueryKey).Msg("Fetch end without a tracked start, ignoring.")
			return
		}
		if n <= 1 {
			delete(a.inFlight, ev.QueryKey)
		} else {
			a.inFlight[ev.QueryKey] = n - 1
		}
	default:
		a.mu.Unlock()
		return
	}

	now := a.matchLocked(a.filter)
	changed := now != a.fetching
	a.fetching = now
	var notify []func(bool)
	if changed {
		for _, w := range a.watchers {
			notify = append(notify, w)
		}
	}
	a.mu.Unlock()

	for _, w := range notify {
		w(now)
	}
}

func (a *Aggregator) matchLocked(f Filter) bool {
	for key, n := range a.inFlight {
		if n > 0 && f.Match(key) {
			return true
		}
	}
	return false
}

// IsFetching reports whether any key accepted by the aggregator's filter has
// a fetch in flight.
func (a *Aggregator) IsFetching() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetching
}

// Matching evaluates an ad-hoc filter against everything in flight,
// independently of the aggregator's own filter.
func (a *Aggregator) Matching(f Filter) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.matchLocked(f)
}

// InFlight returns a snapshot of in-flight fetch counts per key.
func (a *Aggregator) InFlight() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.inFlight))
	for k, v := range a.inFlight {
		out[k] = v
	}
	return out
}

// Watch registers fn to be called whenever IsFetching changes value. Calls
// are serialized and arrive in the order the transitions happened. fn must
// not publish on the aggregator's bus.
func (a *Aggregator) Watch(fn func(fetching bool)) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.watchers[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.watchers, id)
		a.mu.Unlock()
	}
}

// Close detaches the aggregator from its bus.
func (a *Aggregator) Close() {
	a.unsubscribe()
}
