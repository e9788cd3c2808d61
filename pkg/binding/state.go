package binding

import "time"

// Status is the coarse lifecycle position of a binding.
type Status int

const (
	// Idle means the binding has neither served nor fetched a value yet.
	Idle Status = iota
	// Fetching means a fetch issued by this binding has not settled.
	Fetching
	// Settled means the last activation served from cache or its fetch settled.
	Settled
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Settled:
		return "settled"
	default:
		return "unknown"
	}
}

// State is a snapshot of what a binding exposes to its consumer.
//
// While a refetch is in flight Loading is true and Value still holds the
// previous value, if any, until the new one arrives.
type State struct {
	Status   Status
	Loading  bool
	Value    any
	HasValue bool
	// Err is the most recent fetch failure. It is cleared by the next success
	// and is never written to the shared cache.
	Err error
	// UpdatedAt is the write time of the cache entry Value came from.
	UpdatedAt time.Time
}
