// Package capacity implements the ticket manager's adaptive admission
// control: it bounds the number of in-flight requests and doubles that
// bound when a wall-clock saturation window stays open past its timeout.
package capacity

import (
	"time"

	"github.com/tampi-go/tampi/internal/logging"
	"github.com/tampi-go/tampi/internal/metrics"
)

// Ctrl watches (pending, completed) at each polling tick and decides whether
// the ticket manager's current capacity should grow. Capacity never shrinks.
type Ctrl struct {
	min, max uint64
	current  uint64
	timeout  time.Duration

	saturation      bool
	saturationBegin time.Time

	observer metrics.Observer
}

// New returns a Ctrl starting at min, capped at max, using timeout as the
// saturation grace period. observer may be metrics.NoOpObserver{}.
func New(min, max uint64, timeout time.Duration, observer metrics.Observer) *Ctrl {
	if observer == nil {
		observer = metrics.NoOpObserver{}
	}
	return &Ctrl{min: min, max: max, current: min, timeout: timeout, observer: observer}
}

// Get returns the current capacity.
func (c *Ctrl) Get() uint64 { return c.current }

// Evaluate updates the saturation window and, if it just expired, doubles
// the capacity. Must be called once per tick, after draining and testing,
// with the pending count and the number of requests completed this tick.
func (c *Ctrl) Evaluate(pending, completed uint64) {
	if c.current == c.max {
		return
	}

	if pending == c.current && completed == 0 {
		if !c.saturation {
			c.saturation = true
			c.saturationBegin = time.Now()
			c.observer.ObserveSaturationEpoch()
		} else if time.Since(c.saturationBegin) > c.timeout {
			c.saturation = false
			next := c.current * 2
			if next > c.max {
				next = c.max
			}
			c.current = next
			c.observer.ObserveCapacityGrowth(c.current)
			logging.Warn("increasing ticket manager capacity", "capacity", c.current)
		}
	} else {
		c.saturation = false
	}
}
