// Package metrics tracks the counters and latency samples the polling core emits:
// ticks, completions, saturation epochs, capacity growths, allocator refills, and
// polling-period adjustments.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LatencyBuckets are log-spaced upper bounds, in nanoseconds, used for the
// cumulative tick-latency histogram: 1us .. 10ms.
var LatencyBuckets = [...]time.Duration{
	1 * time.Microsecond,
	10 * time.Microsecond,
	100 * time.Microsecond,
	time.Millisecond,
	10 * time.Millisecond,
}

// Metrics holds the atomic counters for one TicketManager/polling pair.
type Metrics struct {
	ticks             atomic.Uint64
	completions       atomic.Uint64
	saturationEpochs  atomic.Uint64
	capacityGrowths   atomic.Uint64
	allocatorRefills  atomic.Uint64
	periodIncreases   atomic.Uint64
	periodDecreases   atomic.Uint64
	currentPeriodNs   atomic.Uint64
	currentCapacity   atomic.Uint64
	pendingOperations atomic.Uint64

	latencyBuckets [len(LatencyBuckets)]atomic.Uint64
	latencyOver    atomic.Uint64
}

// NewMetrics returns a zero-valued Metrics ready for use.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordTick increments the tick counter and records the latency of one poll.
func (m *Metrics) RecordTick(d time.Duration) {
	m.ticks.Add(1)
	for i, bound := range LatencyBuckets {
		if d <= bound {
			m.latencyBuckets[i].Add(1)
			return
		}
	}
	m.latencyOver.Add(1)
}

// RecordCompletions adds n completed requests observed during one tick.
func (m *Metrics) RecordCompletions(n uint64) { m.completions.Add(n) }

// RecordSaturationEpoch marks one saturation window opening (entering the
// "pending == capacity" state).
func (m *Metrics) RecordSaturationEpoch() { m.saturationEpochs.Add(1) }

// RecordCapacityGrowth records one capacity doubling and its new value.
func (m *Metrics) RecordCapacityGrowth(newCapacity uint64) {
	m.capacityGrowths.Add(1)
	m.currentCapacity.Store(newCapacity)
}

// RecordAllocatorRefill records one central-free-list refill/batch drain.
func (m *Metrics) RecordAllocatorRefill() { m.allocatorRefills.Add(1) }

// RecordPeriodChange records a polling-period adjustment.
func (m *Metrics) RecordPeriodChange(increase bool, newPeriod time.Duration) {
	if increase {
		m.periodIncreases.Add(1)
	} else {
		m.periodDecreases.Add(1)
	}
	m.currentPeriodNs.Store(uint64(newPeriod.Nanoseconds()))
}

// SetPending reports the number of operations currently pending (in-flight).
func (m *Metrics) SetPending(n uint64) { m.pendingOperations.Store(n) }

// Snapshot is a point-in-time, immutable view of the accumulated metrics.
type Snapshot struct {
	Ticks             uint64
	Completions       uint64
	SaturationEpochs  uint64
	CapacityGrowths   uint64
	AllocatorRefills  uint64
	PeriodIncreases   uint64
	PeriodDecreases   uint64
	CurrentPeriod     time.Duration
	CurrentCapacity   uint64
	PendingOperations uint64
}

// Snapshot reads the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Ticks:             m.ticks.Load(),
		Completions:       m.completions.Load(),
		SaturationEpochs:  m.saturationEpochs.Load(),
		CapacityGrowths:   m.capacityGrowths.Load(),
		AllocatorRefills:  m.allocatorRefills.Load(),
		PeriodIncreases:   m.periodIncreases.Load(),
		PeriodDecreases:   m.periodDecreases.Load(),
		CurrentPeriod:     time.Duration(m.currentPeriodNs.Load()),
		CurrentCapacity:   m.currentCapacity.Load(),
		PendingOperations: m.pendingOperations.Load(),
	}
}

// Reset zeroes every counter. Intended for tests.
func (m *Metrics) Reset() {
	*m = Metrics{}
}

// Observer receives notifications of polling-core events as they happen,
// decoupled from the Metrics storage so embedders can plug in their own sink.
type Observer interface {
	ObserveTick(d time.Duration)
	ObserveCompletions(n uint64)
	ObserveSaturationEpoch()
	ObserveCapacityGrowth(newCapacity uint64)
	ObserveAllocatorRefill()
	ObservePeriodChange(increase bool, newPeriod time.Duration)
	ObservePending(n uint64)
}

// NoOpObserver discards every observation. It is the default when no
// instrumentation backend is configured.
type NoOpObserver struct{}

func (NoOpObserver) ObserveTick(time.Duration)                  {}
func (NoOpObserver) ObserveCompletions(uint64)                  {}
func (NoOpObserver) ObserveSaturationEpoch()                    {}
func (NoOpObserver) ObserveCapacityGrowth(uint64)                {}
func (NoOpObserver) ObserveAllocatorRefill()                    {}
func (NoOpObserver) ObservePeriodChange(bool, time.Duration)     {}
func (NoOpObserver) ObservePending(uint64)                      {}

// MetricsObserver is an Observer that records every event into a Metrics.
type MetricsObserver struct {
	m *Metrics
}

// NewMetricsObserver returns an Observer backed by m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{m: m}
}

func (o *MetricsObserver) ObserveTick(d time.Duration)              { o.m.RecordTick(d) }
func (o *MetricsObserver) ObserveCompletions(n uint64)               { o.m.RecordCompletions(n) }
func (o *MetricsObserver) ObserveSaturationEpoch()                   { o.m.RecordSaturationEpoch() }
func (o *MetricsObserver) ObserveCapacityGrowth(newCapacity uint64)  { o.m.RecordCapacityGrowth(newCapacity) }
func (o *MetricsObserver) ObserveAllocatorRefill()                   { o.m.RecordAllocatorRefill() }
func (o *MetricsObserver) ObservePeriodChange(increase bool, newPeriod time.Duration) {
	o.m.RecordPeriodChange(increase, newPeriod)
}
func (o *MetricsObserver) ObservePending(n uint64) { o.m.SetPending(n) }

var (
	_ Observer = NoOpObserver{}
	_ Observer = (*MetricsObserver)(nil)
)

// Collector adapts Metrics to prometheus.Collector, so embedders who already run
// a Prometheus registry can scrape the same counters without touching Observer.
type Collector struct {
	m *Metrics

	ticksDesc            *prometheus.Desc
	completionsDesc      *prometheus.Desc
	saturationDesc       *prometheus.Desc
	capacityGrowthsDesc  *prometheus.Desc
	allocatorRefillsDesc *prometheus.Desc
	periodIncreasesDesc  *prometheus.Desc
	periodDecreasesDesc  *prometheus.Desc
	currentPeriodDesc    *prometheus.Desc
	currentCapacityDesc  *prometheus.Desc
	pendingDesc          *prometheus.Desc
}

// Collector returns a prometheus.Collector view over m.
func (m *Metrics) Collector() *Collector {
	const ns = "tampi"
	return &Collector{
		m:                    m,
		ticksDesc:            prometheus.NewDesc(ns+"_polling_ticks_total", "Total polling ticks executed.", nil, nil),
		completionsDesc:      prometheus.NewDesc(ns+"_completions_total", "Total request completions observed.", nil, nil),
		saturationDesc:       prometheus.NewDesc(ns+"_saturation_epochs_total", "Total saturation epochs entered.", nil, nil),
		capacityGrowthsDesc:  prometheus.NewDesc(ns+"_capacity_growths_total", "Total capacity doublings.", nil, nil),
		allocatorRefillsDesc: prometheus.NewDesc(ns+"_allocator_refills_total", "Total central free-list refills.", nil, nil),
		periodIncreasesDesc:  prometheus.NewDesc(ns+"_polling_period_increases_total", "Total polling period increases.", nil, nil),
		periodDecreasesDesc:  prometheus.NewDesc(ns+"_polling_period_decreases_total", "Total polling period decreases.", nil, nil),
		currentPeriodDesc:    prometheus.NewDesc(ns+"_polling_period_seconds", "Current polling period.", nil, nil),
		currentCapacityDesc:  prometheus.NewDesc(ns+"_capacity", "Current per-manager capacity.", nil, nil),
		pendingDesc:          prometheus.NewDesc(ns+"_pending_operations", "Currently pending operations.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ticksDesc
	ch <- c.completionsDesc
	ch <- c.saturationDesc
	ch <- c.capacityGrowthsDesc
	ch <- c.allocatorRefillsDesc
	ch <- c.periodIncreasesDesc
	ch <- c.periodDecreasesDesc
	ch <- c.currentPeriodDesc
	ch <- c.currentCapacityDesc
	ch <- c.pendingDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.ticksDesc, prometheus.CounterValue, float64(s.Ticks))
	ch <- prometheus.MustNewConstMetric(c.completionsDesc, prometheus.CounterValue, float64(s.Completions))
	ch <- prometheus.MustNewConstMetric(c.saturationDesc, prometheus.CounterValue, float64(s.SaturationEpochs))
	ch <- prometheus.MustNewConstMetric(c.capacityGrowthsDesc, prometheus.CounterValue, float64(s.CapacityGrowths))
	ch <- prometheus.MustNewConstMetric(c.allocatorRefillsDesc, prometheus.CounterValue, float64(s.AllocatorRefills))
	ch <- prometheus.MustNewConstMetric(c.periodIncreasesDesc, prometheus.CounterValue, float64(s.PeriodIncreases))
	ch <- prometheus.MustNewConstMetric(c.periodDecreasesDesc, prometheus.CounterValue, float64(s.PeriodDecreases))
	ch <- prometheus.MustNewConstMetric(c.currentPeriodDesc, prometheus.GaugeValue, s.CurrentPeriod.Seconds())
	ch <- prometheus.MustNewConstMetric(c.currentCapacityDesc, prometheus.GaugeValue, float64(s.CurrentCapacity))
	ch <- prometheus.MustNewConstMetric(c.pendingDesc, prometheus.GaugeValue, float64(s.PendingOperations))
}

var _ prometheus.Collector = (*Collector)(nil)

// Instrument is the interface the polling loop calls unconditionally, regardless
// of whether an external tracing backend is configured.
type Instrument interface {
	Guard(event string)
}

// NoOpInstrument satisfies Instrument without emitting anything. It stands in for
// TAMPI_INSTRUMENT=ovni and TAMPI_INSTRUMENT=none alike, since the real ovni
// tracing backend is an external collaborator this module does not implement.
type NoOpInstrument struct{}

// Guard implements Instrument.
func (NoOpInstrument) Guard(string) {}

var _ Instrument = NoOpInstrument{}
