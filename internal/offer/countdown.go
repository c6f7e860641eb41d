package offer

import (
	"sync"
	"time"
)

// Countdown calls fn on a fixed cadence until stopped. Stop may be called from
// inside fn and never blocks.
type Countdown struct {
	stop chan struct{}
	once sync.Once
}

// StartCountdown launches the repeating task.
func StartCountdown(interval time.Duration, fn func()) *Countdown {
	c := &Countdown{stop: make(chan struct{})}
	go c.run(interval, fn)
	return c
}

func (c *Countdown) run(interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			// stop and tick may be ready together; stop wins
			select {
			case <-c.stop:
				return
			default:
			}
			fn()
		}
	}
}

// Stop cancels further ticks. It is safe to call more than once.
func (c *Countdown) Stop() {
	if c == nil {
		return
	}
	c.once.Do(func() { close(c.stop) })
}

// stopped reports whether Stop has been called.
func (c *Countdown) stopped() bool {
	if c == nil {
		return true
	}
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}
