package acquisition

import (
	"sync"
	"time"
)

// Timer is a handle to a repeating callback. Stop may be called more than once.
type Timer interface {
	Stop()
}

// Scheduler runs fn every d until the returned timer is stopped.
type Scheduler interface {
	Every(d time.Duration, fn func()) Timer
}

// TickerScheduler schedules callbacks on the wall clock. Ticks that arrive while fn is still running
// are coalesced by the underlying ticker.
type TickerScheduler struct{}

func (TickerScheduler) Every(d time.Duration, fn func()) Timer {
	t := tickerTimer{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-t.done:
				return
			case <-t.ticker.C:
				select {
				case <-t.done:
					return
				default:
					fn()
				}
			}
		}
	}()

	return &t
}

type tickerTimer struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *tickerTimer) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}
