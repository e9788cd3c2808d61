// Package signal provides the external pulses that make a binding re-run its
// activation: the host regaining focus and a fixed refetch period.
package signal

import "time"

// FocusSource notifies subscribers whenever the host regains focus.
type FocusSource interface {
	OnFocusRegained(fn func()) (unsubscribe func())
}

// IntervalSource calls fn every period until the returned stop is called.
type IntervalSource interface {
	OnInterval(period time.Duration, fn func()) (stop func())
}
