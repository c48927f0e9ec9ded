// Package pqueue implements the pre-queues tasks post new operations into
// before the ticket manager adopts them: a per-logical-CPU multi-queue with
// cyclic and block round-robin drain policies for point-to-point operations,
// and a single producer-locked queue for collective operations.
package pqueue

import (
	goruntime "runtime"
	"sync"

	"github.com/tampi-go/tampi/internal/spsc"
)

// CPUSource reports which logical CPU the calling goroutine is bound to.
// internal/runtime.Runtime satisfies this.
type CPUSource interface {
	GetCurrentLogicalCPU() int
}

// P2PQueue fans point-to-point entries out across one SPSC sub-queue per
// logical CPU, so concurrently running tasks rarely contend on a single
// queue's producer side. A single consumer (the polling task) drains all
// sub-queues through PopCyclic or PopBlock. A runtime that pinned one worker
// thread per CPU would make each sub-queue genuinely single-producer;
// goroutines migrate freely between CPUs, so each sub-queue carries a
// producer-side mutex instead. The per-CPU fan-out keeps those mutexes all
// but uncontended.
type P2PQueue[T any] struct {
	queues     []*spsc.Queue[T]
	producerMu []sync.Mutex

	cpus        CPUSource
	fullFailure bool

	cursor int // consumer-only; not shared across goroutines
}

// NewP2PQueue returns a P2PQueue with one sub-queue of the given capacity per
// logical CPU. fullFailure mirrors TAMPI_QUEUES_FULL_FAILURE: true aborts the
// process when a sub-queue overflows, false spin-waits for room instead.
func NewP2PQueue[T any](capacity, ncpus int, cpus CPUSource, fullFailure bool) *P2PQueue[T] {
	qs := make([]*spsc.Queue[T], ncpus)
	for i := range qs {
		qs[i] = spsc.New[T](capacity)
	}
	return &P2PQueue[T]{
		queues:      qs,
		producerMu:  make([]sync.Mutex, ncpus),
		cpus:        cpus,
		fullFailure: fullFailure,
	}
}

func (q *P2PQueue[T]) queueIndex() int {
	cpu := q.cpus.GetCurrentLogicalCPU()
	if cpu < 0 || cpu >= len(q.queues) {
		return 0
	}
	return cpu
}

// Push enqueues one entry onto the calling task's logical CPU sub-queue.
func (q *P2PQueue[T]) Push(v T) {
	idx := q.queueIndex()
	sub := q.queues[idx]

	q.producerMu[idx].Lock()
	defer q.producerMu[idx].Unlock()

	if sub.Push(v) {
		return
	}
	if q.fullFailure {
		panic("pqueue: p2p pre-queue is full")
	}
	for !sub.Push(v) {
		goruntime.Gosched()
	}
}

// PopCyclic drains up to len(out) entries, trying to take a fair share from
// every sub-queue before moving to the next round. It returns the number
// drained.
func (q *P2PQueue[T]) PopCyclic(out []T) int {
	n := len(out)
	if n == 0 {
		return 0
	}

	nq := len(q.queues)
	remaining := make([]int, nq)
	total := 0
	for i, sub := range q.queues {
		remaining[i] = sub.Len()
		total += remaining[i]
	}
	if total == 0 {
		return 0
	}
	if n > total {
		n = total
	}

	assigned := make([]int, nq)
	queue0 := q.cursor
	cur := queue0
	missing := n
	for missing > 0 {
		perQueue := missing / nq
		if perQueue < 1 {
			perQueue = 1
		}
		for i := 0; missing > 0 && i < nq; i++ {
			avail := remaining[cur] - assigned[cur]
			if avail > perQueue {
				avail = perQueue
			}
			if avail > 0 {
				assigned[cur] += avail
				missing -= avail
			}
			cur = (cur + 1) % nq
		}
	}
	q.cursor = cur

	written := 0
	idx := queue0
	for written < n {
		if a := assigned[idx]; a > 0 {
			got := q.queues[idx].PopN(out[written : written+a])
			written += got
		}
		idx = (idx + 1) % nq
	}
	return written
}

// PopBlock drains up to len(out) entries, emptying one sub-queue at a time
// instead of interleaving: fewer, larger copies at the cost of per-CPU
// fairness.
func (q *P2PQueue[T]) PopBlock(out []T) int {
	n := len(out)
	if n == 0 {
		return 0
	}
	nq := len(q.queues)

	remaining := make([]int, nq)
	total := 0
	for i, sub := range q.queues {
		remaining[i] = sub.Len()
		total += remaining[i]
	}
	if total == 0 {
		return 0
	}
	if n > total {
		n = total
	}

	written := 0
	idx := q.cursor
	for written < n {
		avail := remaining[idx]
		if avail == 0 {
			idx = (idx + 1) % nq
			continue
		}
		take := n - written
		if take > avail {
			take = avail
		}
		got := q.queues[idx].PopN(out[written : written+take])
		written += got
		remaining[idx] -= got
	}
	q.cursor = idx
	return written
}

// Empty reports whether every sub-queue is currently empty.
func (q *P2PQueue[T]) Empty() bool {
	for _, sub := range q.queues {
		if sub.Len() > 0 {
			return false
		}
	}
	return true
}

// CollQueue is a single SPSC queue guarded by a producer-side mutex, since
// collective operations from any task share one queue rather than fanning
// out per CPU.
type CollQueue[T any] struct {
	q           *spsc.Queue[T]
	producerMu  sync.Mutex
	fullFailure bool
}

// NewCollQueue returns a CollQueue of the given capacity.
func NewCollQueue[T any](capacity int, fullFailure bool) *CollQueue[T] {
	return &CollQueue[T]{q: spsc.New[T](capacity), fullFailure: fullFailure}
}

// Push enqueues one entry, serializing against concurrent producers.
func (c *CollQueue[T]) Push(v T) {
	c.producerMu.Lock()
	defer c.producerMu.Unlock()

	if c.q.Push(v) {
		return
	}
	if c.fullFailure {
		panic("pqueue: collective pre-queue is full")
	}
	for !c.q.Push(v) {
		goruntime.Gosched()
	}
}

// Pop drains up to len(out) entries, returning the count drained.
func (c *CollQueue[T]) Pop(out []T) int {
	return c.q.PopN(out)
}

// Empty reports whether the queue is currently empty.
func (c *CollQueue[T]) Empty() bool { return c.q.Len() == 0 }
