package utils

import (
	"sync"
	"time"
)

type IntervalTimer interface {
	Stop()
	Reset(duration time.Duration)
}

type timeInterval struct {
	ticker *time.Ticker
	once   sync.Once
	quit   chan struct{}
}

func (t *timeInterval) Stop() {
	t.once.Do(func() {
		close(t.quit)
	})
}

func (t *timeInterval) Reset(duration time.Duration) {
	t.ticker.Reset(duration)
}

// SetIntervalTimer calls function every duration on its own goroutine until Stop.
func SetIntervalTimer(duration time.Duration, function func()) IntervalTimer {
	ticker := time.NewTicker(duration)
	t := &timeInterval{ticker: ticker, quit: make(chan struct{})}
	go func() {
		for {
			select {
			case <-ticker.C:
				function()
			case <-t.quit:
				ticker.Stop()
				return
			}
		}
	}()
	return t
}
