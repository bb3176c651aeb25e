// Package clock lets periodic work run on injectable tickers.
package clock

import (
	"sync"
	"time"
)

// Ticker delivers ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Real creates a ticker backed by time.Ticker.
func Real(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// ManualTicker fires only when Tick is called.
type ManualTicker struct {
	Interval time.Duration
	ch       chan time.Time
	stopped  chan struct{}
	once     sync.Once
}

func (m *ManualTicker) C() <-chan time.Time { return m.ch }

func (m *ManualTicker) Stop() {
	m.once.Do(func() { close(m.stopped) })
}

// Stopped reports whether Stop was called.
func (m *ManualTicker) Stopped() bool {
	select {
	case <-m.stopped:
		return true
	default:
		return false
	}
}

// Tick delivers one tick and waits until the consumer takes it.
// It returns false if the ticker is stopped or nobody receives within a second.
func (m *ManualTicker) Tick() bool {
	select {
	case m.ch <- time.Now():
		return true
	case <-m.stopped:
		return false
	case <-time.After(time.Second):
		return false
	}
}

// ManualFactory hands out ManualTickers and remembers them in creation order.
type ManualFactory struct {
	mu      sync.Mutex
	tickers []*ManualTicker
	created chan struct{}
}

// NewManualFactory creates an empty factory.
func NewManualFactory() *ManualFactory {
	return &ManualFactory{created: make(chan struct{}, 64)}
}

// New implements TickerFunc.
func (f *ManualFactory) New(d time.Duration) Ticker {
	t := &ManualTicker{
		Interval: d,
		ch:       make(chan time.Time),
		stopped:  make(chan struct{}),
	}
	f.mu.Lock()
	f.tickers = append(f.tickers, t)
	f.mu.Unlock()

	select {
	case f.created <- struct{}{}:
	default:
	}
	return t
}

// Count returns how many tickers were created.
func (f *ManualFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

// Wait returns the n-th created ticker (1-based), waiting up to timeout for it.
func (f *ManualFactory) Wait(n int, timeout time.Duration) *ManualTicker {
	deadline := time.After(timeout)
	for {
		f.mu.Lock()
		if len(f.tickers) >= n {
			t := f.tickers[n-1]
			f.mu.Unlock()
			return t
		}
		f.mu.Unlock()

		select {
		case <-f.created:
		case <-deadline:
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}
}
