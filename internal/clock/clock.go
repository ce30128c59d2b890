// Package clock abstracts wall-clock reads and tickers so that lifecycle
// resolution and countdown logic can be driven deterministically in tests.
package clock

import "time"

// Clock is the time source used by every component that compares "now"
// against a room window.  Production code injects Real(); tests inject
// Fake().
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTicker returns a Ticker delivering ticks every d.  Panics if
	// d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Ticker wraps a periodic timer.  C has capacity 1; ticks are dropped
// rather than queued when the consumer falls behind.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker.  It does not close C.
func (t *Ticker) Stop() { t.stopFunc() }

// NowMs returns the clock's current time as Unix milliseconds, the unit
// used by room windows.
func NowMs(c Clock) uint64 {
	ms := c.Now().UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stopFunc: t.Stop}
}
