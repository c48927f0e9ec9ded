// Package tampi is a task-aware interoperability layer between a
// task-parallel runtime (modeled here as goroutines, see internal/runtime)
// and a message-passing transport.Transport: it lets a task post a
// point-to-point or collective request and have its own task-parallel
// runtime detect the request's completion, instead of the calling thread
// blocking on it directly.
package tampi

import (
	"os"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/tampi-go/tampi/internal/completion"
	"github.com/tampi-go/tampi/internal/envconfig"
	"github.com/tampi-go/tampi/internal/logging"
	"github.com/tampi-go/tampi/internal/metrics"
	"github.com/tampi-go/tampi/internal/polling"
	"github.com/tampi-go/tampi/internal/pollingperiod"
	"github.com/tampi-go/tampi/internal/runtime"
	"github.com/tampi-go/tampi/internal/taskctx"
	"github.com/tampi-go/tampi/internal/ticketmgr"
	"github.com/tampi-go/tampi/transport"
)

// Thread levels mirror MPI_Init_thread's required/provided values. TAMPI
// always provides ThreadMultiple: every in-flight request is tracked per
// task regardless of which goroutine issues it.
const (
	ThreadSingle = iota
	ThreadFunneled
	ThreadSerialized
	ThreadMultiple
)

// core holds everything one Init call wires together. Only one instance may
// be alive at a time: lazily created by Init, torn down by Finalize.
type core struct {
	cfg       envconfig.Config
	rt        *runtime.Runtime
	transport transport.Transport
	metrics   *metrics.Metrics
	observer  metrics.Observer
	comp      *completion.Manager
	tm        *ticketmgr.Manager
	polling   *polling.Controller
}

var (
	mu       sync.Mutex
	instance *core
	autoInit atomic.Bool
)

// SetAutoInit toggles AUTO_INIT. Must be called before Init; it has no effect
// afterward.
func SetAutoInit(enabled bool) { autoInit.Store(enabled) }

// AutoInit reports the current AUTO_INIT setting.
func AutoInit() bool { return autoInit.Load() }

// Init parses TAMPI_* configuration, builds the Ticket Manager, the
// Completion Manager (if enabled) and starts the polling task(s) against t.
// required is the thread level the caller needs; TAMPI always returns
// ThreadMultiple as provided. Calling Init while already initialized is a
// state error.
func Init(required int, t transport.Transport) (provided int, err error) {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return 0, NewError(OpInit, ClassState, "already initialized")
	}

	cfg, cfgErr := envconfig.Load()
	if cfgErr != nil {
		return 0, WrapError(OpInit, ClassConfiguration, cfgErr)
	}

	m := metrics.NewMetrics()
	observer := metrics.Observer(metrics.NewMetricsObserver(m))
	rt := runtime.New()
	comp := completion.New(cfg.PollingTaskCompletion, observer)

	tm, tmErr := ticketmgr.New(cfg, t, rt, rt.GetNumLogicalCPUs(), comp, observer)
	if tmErr != nil {
		return 0, WrapError(OpInit, ClassConfiguration, tmErr)
	}

	requestPeriod := pollingperiod.New(cfg.PollingPeriod, observer)
	completionPeriod := pollingperiod.New(cfg.PollingTaskCompletionPeriod, observer)

	ctrl := polling.Start(rt, -1, requestPeriod, func() (int, int) {
		completed, pending, err := tm.CheckRequests()
		if err != nil {
			// The underlying transport is assumed broken beyond recovery once
			// it returns an error from issuing or testing a request. There is
			// no per-ticket error surface, so stopping the process beats
			// letting the polling loop keep ticking over state it can no
			// longer trust.
			logging.Error("fatal transport failure, aborting", "error", err)
			os.Exit(1)
		}
		observer.ObserveCompletions(uint64(completed))
		return completed, pending
	}, comp, -1, completionPeriod, observer, metrics.NoOpInstrument{})

	instance = &core{
		cfg: cfg, rt: rt, transport: t,
		metrics: m, observer: observer,
		comp: comp, tm: tm, polling: ctrl,
	}

	logging.Info("tampi initialized",
		"requests_testing", int(cfg.RequestsTesting),
		"capacity_min", cfg.Capacity.Min,
		"capacity_max", cfg.Capacity.Max,
	)

	return ThreadMultiple, nil
}

// Finalize stops the polling task(s) and releases the core. Calling it
// before Init is a state error.
func Finalize() error {
	mu.Lock()
	c := instance
	instance = nil
	mu.Unlock()

	if c == nil {
		return NewError(OpFinalize, ClassState, "not initialized")
	}
	if err := c.polling.Stop(); err != nil {
		return WrapError(OpFinalize, ClassLibrary, err)
	}
	return nil
}

func current() *core {
	mu.Lock()
	defer mu.Unlock()
	return instance
}

// BlockingMode reports whether the blocking call path (a task parking until
// its own request completes) is usable. True whenever the core is
// initialized: both modes share the same Ticket Manager.
func BlockingMode() bool { return current() != nil }

// NonBlockingMode reports whether the non-blocking call path (Iwait/Iwaitall
// over an already-issued request, returning immediately) is usable. True
// whenever the core is initialized.
func NonBlockingMode() bool { return current() != nil }

// Issue submits a point-to-point request as a new Operation: the blocking
// variant (nature == transport.Blocking) parks the calling task until it
// completes; the non-blocking variant returns as soon as the operation is
// queued. Issue hands back no request handle in either case.
// When the calling thread has THREAD_TASKAWARE disabled, the request bypasses
// the Ticket Manager entirely and is issued and tested synchronously.
func Issue(nature transport.OpNature, args transport.PointToPoint, status *transport.Status) error {
	c := current()
	if c == nil {
		return NewError(OpIssue, ClassState, "not initialized")
	}

	if !taskctx.IsTaskAware() {
		return issueP2PDirect(c, args, status)
	}

	ctx := taskctx.Bind(c.rt, nature == transport.Blocking)
	ticket := ticketmgr.NewTicket(ctx, statusSlice(status))
	ticket.AddPendingOperation(1)

	op := c.tm.NewOperation(ctx.Task(), nature, args, status)
	c.tm.AddP2PTicket(op, ticket)

	ticket.Wait()
	return nil
}

// IssueCollective submits a collective request as a new CollOperation,
// following the same blocking/non-blocking/task-aware rules as Issue.
func IssueCollective(nature transport.OpNature, args transport.Collective) error {
	c := current()
	if c == nil {
		return NewError(OpIssueColl, ClassState, "not initialized")
	}

	if !taskctx.IsTaskAware() {
		return issueCollDirect(c, args)
	}

	ctx := taskctx.Bind(c.rt, nature == transport.Blocking)
	ticket := ticketmgr.NewTicket(ctx, nil)
	ticket.AddPendingOperation(1)

	op := c.tm.NewCollOperation(ctx.Task(), nature, args)
	c.tm.AddCollTicket(op, ticket)

	ticket.Wait()
	return nil
}

// Iwait binds one external event to the calling task for req, an already
// outstanding request issued directly against the underlying transport, and
// hands it to the Ticket Manager for completion tracking. It returns
// immediately; the task's own dependency tracking is what later blocks it,
// not this call.
func Iwait(req transport.Request, status *transport.Status) error {
	c := current()
	if c == nil {
		return NewError(OpIwait, ClassState, "not initialized")
	}
	if req == nil {
		return nil
	}

	ctx := taskctx.Bind(c.rt, false)
	ticket := ticketmgr.NewTicket(ctx, statusSlice(status))
	ticket.AddPendingOperation(1)
	c.tm.AddRequest(req, ticket, 0)
	return nil
}

// Iwaitall is Iwait over a group of requests sharing one ticket; a nil entry
// is the null-request sentinel and contributes no status update.
func Iwaitall(requests []transport.Request, statuses []transport.Status) error {
	c := current()
	if c == nil {
		return NewError(OpIwaitall, ClassState, "not initialized")
	}

	ctx := taskctx.Bind(c.rt, false)
	ticket := ticketmgr.NewTicket(ctx, statuses)

	n := 0
	for _, r := range requests {
		if r != nil {
			n++
		}
	}
	ticket.AddPendingOperation(n)

	for i, r := range requests {
		if r == nil {
			continue
		}
		c.tm.AddRequest(r, ticket, i)
	}
	return nil
}

// statusSlice builds the one-element slice a Ticket writes a single
// completion status through, aliasing the caller's own status so Iwait/Issue
// callers see it updated with no further copy, or nil when the caller
// ignores statuses.
func statusSlice(status *transport.Status) []transport.Status {
	if status == nil {
		return nil
	}
	return unsafe.Slice(status, 1)
}

func issueP2PDirect(c *core, args transport.PointToPoint, status *transport.Status) error {
	req, err := c.transport.IssuePointToPoint(args)
	if err != nil {
		return WrapError(OpIssue, ClassLibrary, err)
	}
	if req == nil {
		return nil
	}
	for {
		done, err := c.transport.Test(req, status)
		if err != nil {
			return WrapError(OpIssue, ClassLibrary, err)
		}
		if done {
			return nil
		}
		goruntime.Gosched()
	}
}

func issueCollDirect(c *core, args transport.Collective) error {
	req, err := c.transport.IssueCollective(args)
	if err != nil {
		return WrapError(OpIssueColl, ClassLibrary, err)
	}
	if req == nil {
		return nil
	}
	for {
		done, err := c.transport.Test(req, nil)
		if err != nil {
			return WrapError(OpIssueColl, ClassLibrary, err)
		}
		if done {
			return nil
		}
		goruntime.Gosched()
	}
}
