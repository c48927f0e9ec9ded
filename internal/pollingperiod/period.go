// Package pollingperiod implements the polling task's next-wait-duration
// policy: a fixed period when TAMPI_POLLING_PERIOD names a single value, or
// a slow-start policy when it names a min:max range.
package pollingperiod

import (
	"time"

	"github.com/tampi-go/tampi/internal/envconfig"
	"github.com/tampi-go/tampi/internal/metrics"
)

const (
	tolerance = 50
	penalty   = 2.0
	minBase   = 10.0
)

// Ctrl converts (completed, pending) observed on one tick into the duration
// the polling task should wait before its next tick.
type Ctrl struct {
	dynamic bool

	min, max float64 // microseconds
	period   float64
	factor   float64
	misses   int64

	observer metrics.Observer
}

// New builds a Ctrl from a parsed TAMPI_POLLING_PERIOD configuration.
func New(cfg envconfig.PollingPeriod, observer metrics.Observer) *Ctrl {
	if observer == nil {
		observer = metrics.NoOpObserver{}
	}
	maxUs := float64(cfg.Max.Microseconds())
	c := &Ctrl{
		dynamic:  cfg.Dynamic,
		min:      float64(cfg.Min.Microseconds()),
		max:      maxUs,
		period:   maxUs,
		factor:   2.0,
		observer: observer,
	}
	return c
}

// GetPeriod runs one step of the policy and returns the next wait duration.
func (c *Ctrl) GetPeriod(completed, pending uint64) time.Duration {
	if !c.dynamic {
		return time.Duration(c.period) * time.Microsecond
	}

	if completed == 0 {
		c.misses++
		if c.misses < tolerance {
			return time.Duration(c.period) * time.Microsecond
		}
	}

	c.misses = 0

	before := c.period
	if completed == 0 {
		c.period = clamp(min2(c.period*penalty, c.max), minBase, c.max)
		c.factor = (1.5*c.max + 0.5*c.period) / c.max
	} else {
		c.period = clamp(c.period/c.factor, c.min, c.max)
	}

	c.observer.ObservePeriodChange(c.period > before, time.Duration(c.period)*time.Microsecond)

	return time.Duration(c.period) * time.Microsecond
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
