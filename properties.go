package tampi

import "github.com/tampi-go/tampi/internal/taskctx"

// SetThreadTaskAware enables or disables THREAD_TASKAWARE for the calling
// thread. A thread with task-awareness disabled bypasses the Ticket Manager
// entirely: its blocking primitives call the transport directly and test it
// to completion synchronously, never touching the pre-queues. The setting is
// bound to the calling goroutine's OS thread, so callers that disable it must
// hold that thread (runtime.LockOSThread) for as long as the setting should
// apply.
func SetThreadTaskAware(enabled bool) {
	taskctx.SetTaskAware(enabled)
}

// ThreadTaskAware reports the calling thread's current THREAD_TASKAWARE
// setting. Defaults to true.
func ThreadTaskAware() bool {
	return taskctx.IsTaskAware()
}

// ResetThreadTaskAware restores the calling thread's THREAD_TASKAWARE default
// (enabled). Intended for tests that share OS threads across cases.
func ResetThreadTaskAware() {
	taskctx.ResetTaskAware()
}
