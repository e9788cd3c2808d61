// Package querycache memoizes the results of fetch operations keyed by a query
// key and decides when a cached value is stale or collectible.
//
// Collection is lazy: nothing sweeps the cache in the background. A value is
// only removed when a caller evicts it, typically a binding that finds it
// collectible while detaching. An entry whose key is never activated or
// deactivated again can therefore outlive its GCTime indefinitely.
package querycache

import (
	"sort"
	"sync"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/fetchevents"
	"github.com/rs/zerolog"
)

// Config holds client-wide defaults.
type Config struct {
	DefaultStaleTime time.Duration `yaml:"default_stale_time"`
	DefaultGCTime    time.Duration `yaml:"default_gc_time"`
	// Clockless skips timestamping. Entries are written with a zero WrittenAt
	// and are never reported stale or collectible, for evaluation contexts
	// where no meaningful wall clock exists.
	Clockless bool `yaml:"clockless"`
}

// DefaultConfig returns the 60s/60s windows used when a definition is silent.
func DefaultConfig() *Config {
	return &Config{
		DefaultStaleTime: DefaultStaleTime,
		DefaultGCTime:    DefaultGCTime,
	}
}

// Client is the registry of query definitions and cached entries. A single
// Client is normally shared by every binding in a process; construct it once
// and pass it by reference.
type Client struct {
	staleTime time.Duration
	gcTime    time.Duration
	clockless bool
	clock     Clock
	events    *fetchevents.Bus
	logger    zerolog.Logger

	mu          sync.RWMutex
	definitions map[string]Definition
	entries     map[string]Entry
}

// NewClient creates an empty client. A nil cfg uses DefaultConfig and a nil
// clock uses SystemClock.
func NewClient(cfg *Config, clock Clock, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if clock == nil {
		clock = SystemClock
	}
	staleTime := cfg.DefaultStaleTime
	if staleTime <= 0 {
		staleTime = DefaultStaleTime
	}
	gcTime := cfg.DefaultGCTime
	if gcTime <= 0 {
		gcTime = DefaultGCTime
	}

	logger.Info().
		Dur("default_stale_time", staleTime).
		Dur("default_gc_time", gcTime).
		Bool("clockless", cfg.Clockless).
		Msg("Query client initialized.")

	return &Client{
		staleTime:   staleTime,
		gcTime:      gcTime,
		clockless:   cfg.Clockless,
		clock:       clock,
		events:      fetchevents.NewBus(logger),
		logger:      logger.With().Str("component", "QueryClient").Logger(),
		definitions: make(map[string]Definition),
		entries:     make(map[string]Entry),
	}
}

// Events returns the bus bindings of this client publish fetch events on.
func (c *Client) Events() *fetchevents.Bus {
	return c.events
}

// Register inserts or replaces the definition for def.Key.
func (c *Client) Register(def Definition) {
	def = def.withDefaults(c.staleTime, c.gcTime)

	c.mu.Lock()
	c.definitions[def.Key] = def
	c.mu.Unlock()

	c.logger.Debug().
		Str("query_key", def.Key).
		Dur("stale_time", def.StaleTime).
		Dur("gc_time", def.GCTime).
		Msg("Query registered.")
}

// Definition returns the registered definition for key.
func (c *Client) Definition(key string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.definitions[key]
	return def, ok
}

// Write stores value under key, stamped with the current time.
func (c *Client) Write(key string, value any) Entry {
	entry := Entry{Key: key, Value: value}
	if !c.clockless {
		entry.WrittenAt = c.clock.Now()
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	c.logger.Debug().Str("query_key", key).Time("written_at", entry.WrittenAt).Msg("Cache entry written.")
	return entry
}

// Store writes value under def.Key and, if no definition is registered for
// the key, registers def in the same critical section. An entry written
// through Store therefore always has a definition that ages it.
func (c *Client) Store(def Definition, value any) Entry {
	entry := Entry{Key: def.Key, Value: value}
	if !c.clockless {
		entry.WrittenAt = c.clock.Now()
	}

	c.mu.Lock()
	_, registered := c.definitions[def.Key]
	if !registered {
		c.definitions[def.Key] = def.withDefaults(c.staleTime, c.gcTime)
	}
	c.entries[def.Key] = entry
	c.mu.Unlock()

	if !registered {
		c.logger.Debug().Str("query_key", def.Key).Msg("Definition was evicted mid-fetch, registered again.")
	}
	c.logger.Debug().Str("query_key", def.Key).Time("written_at", entry.WrittenAt).Msg("Cache entry written.")
	return entry
}

// Now returns the client's current time, the clock entries are stamped with.
func (c *Client) Now() time.Time {
	return c.clock.Now()
}

// Read returns the cached entry for key.
func (c *Client) Read(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// IsStale reports whether the entry for key is older than its StaleTime.
// A key without both a definition and an entry is never stale.
func (c *Client) IsStale(key string) bool {
	return c.olderThan(key, func(d Definition) time.Duration { return d.StaleTime })
}

// IsCollectible reports whether the entry for key is older than its GCTime.
// A key without both a definition and an entry is never collectible.
func (c *Client) IsCollectible(key string) bool {
	return c.olderThan(key, func(d Definition) time.Duration { return d.GCTime })
}

// olderThan applies the strict age comparison: an entry exactly at its
// window boundary is still inside it.
func (c *Client) olderThan(key string, window func(Definition) time.Duration) bool {
	if c.clockless {
		return false
	}

	c.mu.RLock()
	def, hasDef := c.definitions[key]
	entry, hasEntry := c.entries[key]
	c.mu.RUnlock()

	if !hasDef || !hasEntry {
		return false
	}
	return c.clock.Now().Sub(entry.WrittenAt) > window(def)
}

// Evict removes both the definition and the entry for key.
func (c *Client) Evict(key string) {
	c.mu.Lock()
	delete(c.definitions, key)
	delete(c.entries, key)
	c.mu.Unlock()

	c.logger.Debug().Str("query_key", key).Msg("Query evicted.")
}

// Invalidate forces the next activation of any binding for key to treat it
// as a cache miss.
func (c *Client) Invalidate(key string) {
	c.logger.Info().Str("query_key", key).Msg("Query invalidated.")
	c.Evict(key)
}

// Clear empties the client.
func (c *Client) Clear() {
	c.mu.Lock()
	c.definitions = make(map[string]Definition)
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	c.logger.Info().Msg("Query client cleared.")
}

// Keys returns the sorted set of keys holding a definition or an entry.
func (c *Client) Keys() []string {
	c.mu.RLock()
	seen := make(map[string]struct{}, len(c.definitions)+len(c.entries))
	for k := range c.definitions {
		seen[k] = struct{}{}
	}
	for k := range c.entries {
		seen[k] = struct{}{}
	}
	c.mu.RUnlock()

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
