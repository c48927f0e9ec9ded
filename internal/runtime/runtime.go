// Package runtime models the host task-parallel runtime TAMPI cooperates
// with as goroutines pinned to OS threads. Each polling task locks its
// goroutine to an OS thread and, optionally, that thread to a logical CPU.
package runtime

import (
	"fmt"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tampi-go/tampi/internal/logging"
)

// TaskHandle identifies one blockable task. Polling tasks are identified by
// the OS thread id (tid) of the goroutine RegisterPolling locked to its
// thread, a stable identity for the life of that registration. Application
// tasks bound via NewTask get a handle from a disjoint, strictly negative
// counter space instead: unlike a polling task, an application task's
// goroutine is never locked to its OS thread, so a thread id sampled at bind
// time would not necessarily still name the same goroutine once it parks
// in BlockCurrentTask (the Go scheduler is free to reuse that OS thread for
// an unrelated goroutine the moment this one blocks on a channel receive).
// Minting the handle from a counter instead of the tid makes every bound
// task's identity unique regardless of thread reuse.
type TaskHandle int64

// TaskingRuntime is the subset of task-parallel runtime services the ticket
// manager and polling subsystem need: registering/unregistering the
// cooperative polling tasks, minting and blocking/unblocking the handles of
// application tasks waiting on one or more in-flight requests.
type TaskingRuntime interface {
	RegisterPolling(name string, cpu int) (unregister func(), err error)
	UnregisterPolling(name string) error
	CurrentTask() TaskHandle
	NewTask() TaskHandle
	BlockCurrentTask(task TaskHandle)
	UnblockTask(task TaskHandle)
	IncreaseTaskEvents(task TaskHandle, n int)
	DecreaseTaskEvents(task TaskHandle, n int) bool
	GetCurrentLogicalCPU() int
	GetNumLogicalCPUs() int
}

type taskState struct {
	pending atomic.Int64
	resume  chan struct{}
	cpu     atomic.Int64
}

func newTaskState() *taskState {
	s := &taskState{resume: make(chan struct{}, 1)}
	s.cpu.Store(-1)
	return s
}

// Runtime is the goroutine-based reference TaskingRuntime implementation.
type Runtime struct {
	tasks   sync.Map // TaskHandle -> *taskState
	pollers sync.Map // name -> TaskHandle
	taskSeq atomic.Int64
}

// New returns a ready-to-use Runtime.
func New() *Runtime {
	return &Runtime{}
}

func (r *Runtime) stateFor(h TaskHandle) *taskState {
	v, ok := r.tasks.Load(h)
	if !ok {
		s := newTaskState()
		actual, loaded := r.tasks.LoadOrStore(h, s)
		if loaded {
			return actual.(*taskState)
		}
		return s
	}
	return v.(*taskState)
}

// RegisterPolling locks the calling goroutine to its OS thread and, if cpu is
// non-negative, pins that thread to the given logical CPU via
// sched_setaffinity. It must
// be called from the goroutine that will run the polling loop. The returned
// unregister function undoes both the registration and the thread lock and
// must be called from the same goroutine, typically deferred.
func (r *Runtime) RegisterPolling(name string, cpu int) (func(), error) {
	goruntime.LockOSThread()

	tid := TaskHandle(unix.Gettid())
	state := r.stateFor(tid)

	if cpu >= 0 {
		var mask unix.CPUSet
		mask.Set(cpu)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			goruntime.UnlockOSThread()
			return nil, fmt.Errorf("set affinity for polling task %q to cpu %d: %w", name, cpu, err)
		}
		state.cpu.Store(int64(cpu))
	}

	if _, loaded := r.pollers.LoadOrStore(name, tid); loaded {
		goruntime.UnlockOSThread()
		return nil, fmt.Errorf("polling task %q already registered", name)
	}

	logging.Debug("polling task registered", "name", name, "cpu", cpu, "tid", int(tid))

	return func() {
		r.pollers.Delete(name)
		r.tasks.Delete(tid)
		goruntime.UnlockOSThread()
	}, nil
}

// UnregisterPolling removes the named polling task's bookkeeping without
// unlocking the calling goroutine's OS thread; it exists for callers that
// cannot defer the closure RegisterPolling returns (e.g. cross-goroutine
// teardown during Finalize).
func (r *Runtime) UnregisterPolling(name string) error {
	v, ok := r.pollers.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("polling task %q is not registered", name)
	}
	r.tasks.Delete(v.(TaskHandle))
	return nil
}

// CurrentTask returns the handle for the calling goroutine's OS thread. Only
// meaningful for a goroutine that has locked itself to that thread, e.g. the
// polling goroutine RegisterPolling just set up; application tasks must use
// NewTask instead.
func (r *Runtime) CurrentTask() TaskHandle {
	return TaskHandle(unix.Gettid())
}

// NewTask mints a fresh handle for a new application task, from a counter
// disjoint from the tid space CurrentTask draws from (tids are always
// non-negative; this counter is always negative), so the two identity
// schemes can never collide. Called once per taskctx.Bind.
func (r *Runtime) NewTask() TaskHandle {
	return TaskHandle(-r.taskSeq.Add(1))
}

// BlockCurrentTask parks the calling goroutine until task's pending event
// count reaches zero. task is the handle the task context was bound with
// (for application tasks, the one NewTask returned at bind time): ordinary
// (unpinned) goroutines can migrate between OS threads between that bind and
// this call, so deriving the handle from CurrentTask() here would risk
// blocking on the wrong taskState. Taking the handle as an explicit argument, the same way
// UnblockTask does, keeps the block/unblock pair consistent regardless of
// which OS thread actually executes this call.
func (r *Runtime) BlockCurrentTask(task TaskHandle) {
	state := r.stateFor(task)
	if state.pending.Load() <= 0 {
		return
	}
	<-state.resume
}

// UnblockTask wakes a task previously parked in BlockCurrentTask. It is
// idempotent: waking a task with no pending block is a no-op.
func (r *Runtime) UnblockTask(task TaskHandle) {
	state := r.stateFor(task)
	select {
	case state.resume <- struct{}{}:
	default:
	}
}

// IncreaseTaskEvents records n more events the task must observe complete
// before BlockCurrentTask returns.
func (r *Runtime) IncreaseTaskEvents(task TaskHandle, n int) {
	r.stateFor(task).pending.Add(int64(n))
}

// DecreaseTaskEvents records the completion of n events. It returns true when
// this call drove the pending count to zero or below, in which case it also
// wakes the task if it was blocked. Once satisfied, an application task's
// entry (task < 0, see NewTask) is dropped from the tracking map: each bound
// task is one-shot, so nothing looks it up again after this point, and
// leaving it behind would grow the map for as long as the process runs.
func (r *Runtime) DecreaseTaskEvents(task TaskHandle, n int) bool {
	state := r.stateFor(task)
	remaining := state.pending.Add(-int64(n))
	if remaining <= 0 {
		r.UnblockTask(task)
		if task < 0 {
			r.tasks.Delete(task)
		}
		return true
	}
	return false
}

// GetCurrentLogicalCPU returns the logical CPU the calling task was pinned to
// via RegisterPolling, falling back to the CPU the calling thread happens to
// be running on right now. The fallback is a placement hint only: an unpinned
// goroutine can migrate the instant this returns, so callers must not treat
// the answer as an exclusive claim on that CPU.
func (r *Runtime) GetCurrentLogicalCPU() int {
	if v, ok := r.tasks.Load(r.CurrentTask()); ok {
		if cpu := int(v.(*taskState).cpu.Load()); cpu >= 0 {
			return cpu
		}
	}
	cpu, _, err := getcpu()
	if err != nil {
		return -1
	}
	return cpu
}

// getcpu wraps the getcpu(2) syscall, which golang.org/x/sys/unix exposes
// only as the raw SYS_GETCPU syscall number rather than a typed helper.
func getcpu() (cpu, node int, err error) {
	var cpuOut, nodeOut uint32
	_, _, errno := unix.Syscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpuOut)), uintptr(unsafe.Pointer(&nodeOut)), 0)
	if errno != 0 {
		return 0, 0, errno
	}
	return int(cpuOut), int(nodeOut), nil
}

// GetNumLogicalCPUs returns the number of logical CPUs visible to the process.
func (r *Runtime) GetNumLogicalCPUs() int {
	return goruntime.NumCPU()
}

var _ TaskingRuntime = (*Runtime)(nil)
