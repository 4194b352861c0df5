// Package clock provides an injectable time source.
//
// Code that waits (reconnect back-off, keepalive probes, admin queue polling)
// takes a Clock instead of calling the time package directly. Production code
// uses Real(); tests use Fake() and move time forward with Advance.
package clock

import "time"

// Clock abstracts the time operations the relay needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	// If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker delivers ticks on C every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker wraps a periodic timer. C has capacity 1, a slow reader drops ticks.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stopFunc: ticker.Stop}
}
