package querycache

import (
	"context"
	"time"
)

// DefaultStaleTime and DefaultGCTime apply when a definition leaves the
// corresponding window unset.
const (
	DefaultStaleTime = 60 * time.Second
	DefaultGCTime    = 60 * time.Second
)

// FetchFunc produces the value for a query. It is opaque to the cache.
type FetchFunc func(ctx context.Context) (any, error)

// Definition describes how a query key is fetched and how long its cached
// value is trusted.
type Definition struct {
	Key   string
	Fetch FetchFunc
	// StaleTime is how long a written value counts as fresh. Zero means default.
	StaleTime time.Duration
	// GCTime is how long a written value is kept before it becomes collectible.
	// Zero means default.
	GCTime time.Duration

	OnSuccess func(value any)
	OnError   func(err error)

	// RefetchOnFocus re-runs activation whenever the host regains focus.
	RefetchOnFocus bool
	// RetryInterval re-runs activation on a fixed period when positive.
	RetryInterval time.Duration
}

func (d Definition) withDefaults(staleTime, gcTime time.Duration) Definition {
	if d.StaleTime <= 0 {
		d.StaleTime = staleTime
	}
	if d.GCTime <= 0 {
		d.GCTime = gcTime
	}
	return d
}

// Entry is one cached value. Entries are replaced wholesale on every write.
type Entry struct {
	Key       string
	Value     any
	WrittenAt time.Time
}

// Typed adapts a strongly typed fetch function to a FetchFunc.
func Typed[V any](fn func(ctx context.Context) (V, error)) FetchFunc {
	return func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// ValueAs asserts a cached value back to its concrete type.
func ValueAs[V any](value any) (V, bool) {
	v, ok := value.(V)
	return v, ok
}
