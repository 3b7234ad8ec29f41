package signal

import (
	"fmt"
	"sync"
	"time"
)

// DefaultExtension is what one accepted extension pulse adds.
const DefaultExtension = 60 * time.Second

// Countdown is the local discussion timer. It is not synchronized through
// the store: every participant starts it on entering discussion and adds
// time on each accepted extension pulse.
type Countdown struct {
	mu       sync.Mutex
	deadline time.Time
	running  bool
	now      func() time.Time
}

func NewCountdown(now func() time.Time) *Countdown {
	if now == nil {
		now = time.Now
	}
	return &Countdown{now: now}
}

// Reset restarts the countdown at seconds.
func (c *Countdown) Reset(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = c.now().Add(time.Duration(seconds) * time.Second)
	c.running = true
}

func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
}

// Extend adds step. An expired countdown resumes from zero.
func (c *Countdown) Extend(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	now := c.now()
	if c.deadline.Before(now) {
		c.deadline = now
	}
	c.deadline = c.deadline.Add(step)
}

func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return 0
	}
	left := c.deadline.Sub(c.now())
	if left < 0 {
		return 0
	}
	return left
}

func (c *Countdown) Expired() bool {
	return c.Running() && c.Remaining() == 0
}

// FormatClock renders d as m:ss, rounding partial seconds up.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
