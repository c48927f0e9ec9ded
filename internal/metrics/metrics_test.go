package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTickBuckets(t *testing.T) {
	m := NewMetrics()
	m.RecordTick(500 * time.Nanosecond)
	m.RecordTick(50 * time.Microsecond)
	m.RecordTick(time.Hour)

	snap := m.Snapshot()
	assert.Equal(t, uint64(3), snap.Ticks)
}

func TestRecordCompletionsAndPending(t *testing.T) {
	m := NewMetrics()
	m.RecordCompletions(4)
	m.RecordCompletions(6)
	m.SetPending(12)

	snap := m.Snapshot()
	assert.Equal(t, uint64(10), snap.Completions)
	assert.Equal(t, uint64(12), snap.PendingOperations)
}

func TestRecordSaturationAndCapacityGrowth(t *testing.T) {
	m := NewMetrics()
	m.RecordSaturationEpoch()
	m.RecordCapacityGrowth(256)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.SaturationEpochs)
	assert.Equal(t, uint64(1), snap.CapacityGrowths)
	assert.Equal(t, uint64(256), snap.CurrentCapacity)
}

func TestRecordPeriodChange(t *testing.T) {
	m := NewMetrics()
	m.RecordPeriodChange(true, 200*time.Microsecond)
	m.RecordPeriodChange(false, 150*time.Microsecond)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.PeriodIncreases)
	assert.Equal(t, uint64(1), snap.PeriodDecreases)
	assert.Equal(t, 150*time.Microsecond, snap.CurrentPeriod)
}

func TestReset(t *testing.T) {
	m := NewMetrics()
	m.RecordTick(time.Microsecond)
	m.Reset()

	snap := m.Snapshot()
	assert.Equal(t, uint64(0), snap.Ticks)
}

func TestMetricsObserverRecordsThroughMetrics(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObserveTick(time.Microsecond)
	obs.ObserveCompletions(2)
	obs.ObserveSaturationEpoch()
	obs.ObserveCapacityGrowth(512)
	obs.ObserveAllocatorRefill()
	obs.ObservePeriodChange(true, 10*time.Microsecond)
	obs.ObservePending(5)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.Ticks)
	assert.Equal(t, uint64(2), snap.Completions)
	assert.Equal(t, uint64(1), snap.SaturationEpochs)
	assert.Equal(t, uint64(512), snap.CurrentCapacity)
	assert.Equal(t, uint64(1), snap.AllocatorRefills)
	assert.Equal(t, uint64(5), snap.PendingOperations)
}

func TestNoOpObserverDoesNothing(t *testing.T) {
	var obs NoOpObserver
	assert.NotPanics(t, func() {
		obs.ObserveTick(time.Microsecond)
		obs.ObserveCompletions(1)
		obs.ObserveSaturationEpoch()
		obs.ObserveCapacityGrowth(1)
		obs.ObserveAllocatorRefill()
		obs.ObservePeriodChange(true, time.Microsecond)
		obs.ObservePending(1)
	})
}

func TestCollectorExposesPrometheusMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordCompletions(7)
	m.SetPending(3)

	collector := m.Collector()
	require.NoError(t, prometheus.Register(collector))
	defer prometheus.Unregister(collector)

	metricFamilies, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var found bool
	for _, family := range metricFamilies {
		if family.GetName() == "tampi_completions_total" {
			found = true
			require.Len(t, family.GetMetric(), 1)
			mv := family.GetMetric()[0]
			assert.Equal(t, float64(7), mv.GetCounter().GetValue())
		}
	}
	assert.True(t, found, "expected tampi_completions_total to be gathered")
}

func TestNoOpInstrumentSatisfiesInterface(t *testing.T) {
	var i Instrument = NoOpInstrument{}
	assert.NotPanics(t, func() { i.Guard("tick") })
}
