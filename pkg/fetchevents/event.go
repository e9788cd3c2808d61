// Package fetchevents carries fetch-lifecycle notifications from bindings to
// any number of independent observers.
package fetchevents

import "time"

// Kind identifies the lifecycle stage an Event reports.
type Kind int

const (
	// FetchStarted is published when a binding hands control to its fetch function.
	FetchStarted Kind = iota + 1
	// FetchEnded is published once that fetch has settled, successfully or not.
	FetchEnded
)

func (k Kind) String() string {
	switch k {
	case FetchStarted:
		return "fetch-started"
	case FetchEnded:
		return "fetch-ended"
	default:
		return "unknown"
	}
}

// Event is the payload delivered to bus subscribers.
type Event struct {
	Kind     Kind
	QueryKey string
	// Err is the fetch failure for a FetchEnded event, nil on success.
	Err error
	At  time.Time
}

// Started builds a FetchStarted event for key stamped with the wall clock.
func Started(key string) Event {
	return StartedAt(key, time.Now())
}

// Ended builds a FetchEnded event for key stamped with the wall clock.
func Ended(key string, err error) Event {
	return EndedAt(key, err, time.Now())
}

// StartedAt builds a FetchStarted event for key stamped with at.
func StartedAt(key string, at time.Time) Event {
	return Event{Kind: FetchStarted, QueryKey: key, At: at}
}

// EndedAt builds a FetchEnded event for key stamped with at.
func EndedAt(key string, err error, at time.Time) Event {
	return Event{Kind: FetchEnded, QueryKey: key, Err: err, At: at}
}
