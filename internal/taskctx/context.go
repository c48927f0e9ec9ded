// Package taskctx binds one in-flight TAMPI operation (or a Waitall group of
// them) to the calling task, so the ticket manager's completion notifications
// know which task to wake and the root package's blocking primitives know
// when to return control to the caller.
package taskctx

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/tampi-go/tampi/internal/runtime"
)

// TaskContext tracks the outstanding events (pending request completions) one
// task is waiting on, through a bind/complete/wait lifecycle.
type TaskContext struct {
	rt       runtime.TaskingRuntime
	task     runtime.TaskHandle
	blocking bool
}

// Bind associates a new TaskContext with the calling task. blocking selects
// whether WaitEventsCompletion actually parks the task (MPI_Wait-style calls)
// or returns immediately, leaving the caller to poll (MPI_Test-style calls).
// It mints a fresh task handle via NewTask rather than asking the runtime
// for the calling goroutine's current one: the calling goroutine is not
// locked to its OS thread here, so its thread id would not reliably still
// name it by the time WaitEventsCompletion blocks on it.
func Bind(rt runtime.TaskingRuntime, blocking bool) *TaskContext {
	return &TaskContext{rt: rt, task: rt.NewTask(), blocking: blocking}
}

// IsBlocking reports whether this context parks its task in WaitEventsCompletion.
func (tc *TaskContext) IsBlocking() bool { return tc.blocking }

// Task returns the handle of the task this context is bound to.
func (tc *TaskContext) Task() runtime.TaskHandle { return tc.task }

// AddPendingEvents records n more completions the task must observe before it
// can proceed, called once per Ticket when an operation is posted.
func (tc *TaskContext) AddPendingEvents(n int) {
	tc.rt.IncreaseTaskEvents(tc.task, n)
}

// CompleteEvents records n observed completions. It returns true when this
// call satisfied the task's last pending event, in which case the task has
// also been woken if it was parked.
func (tc *TaskContext) CompleteEvents(n int) bool {
	return tc.rt.DecreaseTaskEvents(tc.task, n)
}

// WaitEventsCompletion blocks the calling task until every event bound to it
// has completed, unless this context is non-blocking.
func (tc *TaskContext) WaitEventsCompletion() {
	if tc.blocking {
		tc.rt.BlockCurrentTask(tc.task)
	}
}

// taskAware records, per OS thread, whether THREAD_TASKAWARE is enabled.
// Absence means enabled: the default is that every thread is task-aware.
var taskAware sync.Map // int(tid) -> bool

// SetTaskAware enables or disables task-awareness for the calling thread. A
// thread with task-awareness disabled must lock its goroutine to its OS
// thread (runtime.LockOSThread) for the setting to remain in effect, since it
// is keyed by thread id.
func SetTaskAware(enabled bool) {
	taskAware.Store(unix.Gettid(), enabled)
}

// IsTaskAware reports whether the calling thread should route blocking
// primitives through a TicketManager/pre-queue at all. When false, the
// root package's primitive shims bypass ticket construction entirely and
// call the underlying Transport directly and synchronously.
func IsTaskAware() bool {
	v, ok := taskAware.Load(unix.Gettid())
	if !ok {
		return true
	}
	return v.(bool)
}

// ResetTaskAware clears the calling thread's override, restoring the default
// (task-aware) behavior. Intended for tests that share OS threads across cases.
func ResetTaskAware() {
	taskAware.Delete(unix.Gettid())
}
