package collector

import "time"

// Ticker delivers interval ticks to the delivery loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

// realTicker wraps *time.Ticker to implement Ticker.
type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

// DefaultTickerFunc uses the standard library's time.NewTicker.
var DefaultTickerFunc TickerFunc = func(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}
