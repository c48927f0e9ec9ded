// Package completion implements the optional Completion Manager: a second
// SPSC queue of task contexts that decouples completion notification from
// request testing, so the request polling task can hand off the
// (potentially contended) task-unblocking step instead of doing it inline.
package completion

import (
	"github.com/tampi-go/tampi/internal/logging"
	"github.com/tampi-go/tampi/internal/metrics"
	"github.com/tampi-go/tampi/internal/spsc"
	"github.com/tampi-go/tampi/internal/taskctx"
)

// Capacity is the fixed size of the completion queue.
const Capacity = 32 * 1024

// Manager holds the completion queue and whether it is enabled
// (TAMPI_POLLING_TASK_COMPLETION).
type Manager struct {
	enabled  bool
	queue    *spsc.Queue[*taskctx.TaskContext]
	observer metrics.Observer
}

// New returns a Manager. Transfer and Process do not consult enabled; it is
// only reported by Enabled, and callers that see false complete tickets
// directly instead of calling Transfer.
func New(enabled bool, observer metrics.Observer) *Manager {
	if observer == nil {
		observer = metrics.NoOpObserver{}
	}
	return &Manager{enabled: enabled, queue: spsc.New[*taskctx.TaskContext](Capacity), observer: observer}
}

// Enabled reports whether the completion manager should be used.
func (m *Manager) Enabled() bool { return m.enabled }

// Transfer pushes contexts onto the completion queue. It must push every
// element; a full queue is a fatal capacity error, since the queue is
// sized to the hard capacity limit of in-flight requests.
func (m *Manager) Transfer(contexts []*taskctx.TaskContext) {
	if len(contexts) == 0 {
		return
	}
	pushed := m.queue.PushN(contexts)
	if pushed != len(contexts) {
		logging.Error("completion queue overflow", "pushed", pushed, "wanted", len(contexts))
		panic("completion: failed to push all task contexts")
	}
}

// Process drains every available completion, completing one event on each
// context's task, and returns the count drained.
func (m *Manager) Process() int {
	n := 0
	for {
		ctx, ok := m.queue.Pop()
		if !ok {
			return n
		}
		ctx.CompleteEvents(1)
		n++
	}
}
