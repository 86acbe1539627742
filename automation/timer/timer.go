// Package timer provides a cancellable single-shot countdown.
package timer

import (
	"sync"
	"time"
)

// Controller owns at most one pending countdown. The zero value is ready to use.
type Controller struct {
	mu  sync.Mutex
	t   *time.Timer
	gen uint64
}

// Start cancels any pending countdown and schedules onFire after d.
// It returns the generation passed to onFire.
func (c *Controller) Start(d time.Duration, onFire func(gen uint64)) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.gen++
	gen := c.gen
	c.t = time.AfterFunc(d, func() {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.t = nil
		c.mu.Unlock()
		onFire(gen)
	})
	return gen
}

// Cancel stops the pending countdown. Safe to call at any time and repeatedly.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.gen++
}

// Valid reports whether gen belongs to the latest countdown and was not cancelled.
func (c *Controller) Valid(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != 0 && c.gen == gen
}

// Active reports whether a countdown is pending.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t != nil
}

func (c *Controller) stopLocked() {
	if c.t != nil {
		c.t.Stop()
		c.t = nil
	}
}
