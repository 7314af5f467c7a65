package app

import (
	"sync"
	"time"
)

// countdown is the server-side authoritative question timer. Each tick
// reports the remaining whole seconds; at zero it fires onExpire exactly
// once, which routes through the same idempotent end-question transition a
// manual end would take. Client-side countdowns are cosmetic interpolation
// between these ticks.
type countdown struct {
	stopOnce sync.Once
	stopped  chan struct{}
}

// startCountdown runs the timer in its own goroutine. interval is one
// second in production; tests shrink it.
func startCountdown(seconds int, interval time.Duration, onTick func(remaining int), onExpire func()) *countdown {
	c := &countdown{stopped: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		remaining := seconds
		for {
			select {
			case <-c.stopped:
				return
			case <-ticker.C:
				remaining--
				if remaining > 0 {
					onTick(remaining)
					continue
				}
				onTick(0)
				onExpire()
				return
			}
		}
	}()

	return c
}

// stop is safe to call multiple times and safe to race with expiry.
func (c *countdown) stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
}
