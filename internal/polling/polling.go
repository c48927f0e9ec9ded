// Package polling runs the cooperative request-polling and (optional)
// completion-polling loops: two goroutines, each pinned to an OS thread via
// internal/runtime, that repeatedly call back into the ticket manager and
// completion manager and sleep for whatever duration the polling-period
// controller returns next — the "TAMPI" request loop and the "TAMPI Comp"
// completion loop.
package polling

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tampi-go/tampi/internal/completion"
	"github.com/tampi-go/tampi/internal/metrics"
	"github.com/tampi-go/tampi/internal/pollingperiod"
	"github.com/tampi-go/tampi/internal/runtime"
)

// Tick is one polling iteration's unit of work: it returns how many requests
// completed and how many are still pending. The root package builds the
// request loop's Tick from TicketManager.CheckRequests, which also returns an
// error that the Tick handles itself.
type Tick func() (completed, pending int)

// Controller owns the request-polling goroutine and, when enabled, the
// completion-polling goroutine.
type Controller struct {
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Start registers and launches the polling loop(s). requestTick drives the
// request-checking loop ("TAMPI"); when comp is non-nil and enabled, a
// second loop ("TAMPI Comp") drains it via completionPeriod. cpu selects the
// logical CPU each loop's goroutine is pinned to, or -1 to leave it
// unpinned. observer receives one tick-latency sample per iteration of each
// loop and inst guards every tick; both may be nil.
func Start(rt *runtime.Runtime, requestCPU int, requestPeriod *pollingperiod.Ctrl, requestTick Tick, comp *completion.Manager, completionCPU int, completionPeriod *pollingperiod.Ctrl, observer metrics.Observer, inst metrics.Instrument) *Controller {
	if observer == nil {
		observer = metrics.NoOpObserver{}
	}
	if inst == nil {
		inst = metrics.NoOpInstrument{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runLoop(gctx, rt, "TAMPI", requestCPU, requestPeriod, requestTick, observer, inst)
	})

	if comp != nil && comp.Enabled() {
		g.Go(func() error {
			return runLoop(gctx, rt, "TAMPI Comp", completionCPU, completionPeriod, func() (int, int) {
				return comp.Process(), 0
			}, observer, inst)
		})
	}

	return &Controller{cancel: cancel, group: g}
}

// Stop cancels both loops and waits for them to unregister and return.
func (c *Controller) Stop() error {
	c.cancel()
	return c.group.Wait()
}

func runLoop(ctx context.Context, rt *runtime.Runtime, name string, cpu int, period *pollingperiod.Ctrl, tick Tick, observer metrics.Observer, inst metrics.Instrument) error {
	unregister, err := rt.RegisterPolling(name, cpu)
	if err != nil {
		return err
	}
	defer unregister()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		inst.Guard(name)
		begin := time.Now()
		completed, pending := tick()
		observer.ObserveTick(time.Since(begin))
		wait := period.GetPeriod(uint64(completed), uint64(pending))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
