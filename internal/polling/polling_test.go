package polling

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tampi-go/tampi/internal/completion"
	"github.com/tampi-go/tampi/internal/envconfig"
	"github.com/tampi-go/tampi/internal/metrics"
	"github.com/tampi-go/tampi/internal/pollingperiod"
	"github.com/tampi-go/tampi/internal/runtime"
)

func fastPeriod() *pollingperiod.Ctrl {
	return pollingperiod.New(envconfig.PollingPeriod{
		Min: time.Millisecond, Max: time.Millisecond, Dynamic: false,
	}, nil)
}

func TestRequestLoopTicksUntilStopped(t *testing.T) {
	rt := runtime.New()
	var ticks atomic.Int64

	ctrl := Start(rt, -1, fastPeriod(), func() (int, int) {
		ticks.Add(1)
		return 0, 0
	}, nil, -1, nil, nil, nil)

	require.Eventually(t, func() bool { return ticks.Load() > 2 }, time.Second, time.Millisecond)

	require.NoError(t, ctrl.Stop())
}

func TestCompletionLoopRunsWhenEnabled(t *testing.T) {
	rt := runtime.New()
	comp := completion.New(true, nil)

	m := metrics.NewMetrics()
	ctrl := Start(rt, -1, fastPeriod(), func() (int, int) { return 0, 0 }, comp, -1, fastPeriod(), metrics.NewMetricsObserver(m), nil)

	// give the completion loop a chance to register and tick at least once.
	time.Sleep(20 * time.Millisecond)
	assert.NotZero(t, m.Snapshot().Ticks)

	require.NoError(t, ctrl.Stop())
}

func TestCompletionLoopSkippedWhenDisabled(t *testing.T) {
	rt := runtime.New()
	comp := completion.New(false, nil)

	ctrl := Start(rt, -1, fastPeriod(), func() (int, int) { return 0, 0 }, comp, -1, fastPeriod(), nil, nil)

	time.Sleep(5 * time.Millisecond)
	assert.NoError(t, ctrl.Stop())
}
