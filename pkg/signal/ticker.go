package signal

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Ticker is an IntervalSource backed by time.Ticker. Each OnInterval call runs
// its own goroutine.
type Ticker struct {
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewTicker creates a ticker-backed interval source.
func NewTicker(logger zerolog.Logger) *Ticker {
	return &Ticker{
		logger: logger.With().Str("component", "IntervalSignal").Logger(),
	}
}

// OnInterval calls fn every period until stop is called. A non-positive
// period never fires. stop is safe to call more than once and does not wait
// for an fn call already in progress.
func (t *Ticker) OnInterval(period time.Duration, fn func()) (stop func()) {
	if period <= 0 {
		t.logger.Warn().Dur("period", period).Msg("Non-positive interval requested, ignoring.")
		return func() {}
	}

	done := make(chan struct{})
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	t.logger.Debug().Dur("period", period).Msg("Interval started.")
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			t.logger.Debug().Dur("period", period).Msg("Interval stopped.")
		})
	}
}

// Wait blocks until every interval goroutine started by t has exited.
func (t *Ticker) Wait() {
	t.wg.Wait()
}
