package ticketmgr

import (
	"fmt"
	"sync"

	"github.com/tampi-go/tampi/internal/allocator"
	"github.com/tampi-go/tampi/internal/capacity"
	"github.com/tampi-go/tampi/internal/completion"
	"github.com/tampi-go/tampi/internal/envconfig"
	"github.com/tampi-go/tampi/internal/metrics"
	"github.com/tampi-go/tampi/internal/operation"
	"github.com/tampi-go/tampi/internal/pqueue"
	"github.com/tampi-go/tampi/internal/runtime"
	"github.com/tampi-go/tampi/internal/taskctx"
	"github.com/tampi-go/tampi/transport"
)

// BatchSize bounds how many requests are tested, or how many pre-queue
// entries are adopted, in a single internal step.
const BatchSize = 64

// arrays is the parallel-array storage backing every in-flight request: the
// request handle, its destination status slot, and the ticket (plus local
// position within that ticket's group) it belongs to.
type arrays struct {
	requests []transport.Request
	statuses []transport.Status
	tickets  []*Ticket
	localPos []int
}

func newArrays(capacity int) *arrays {
	return &arrays{
		requests: make([]transport.Request, capacity),
		statuses: make([]transport.Status, capacity),
		tickets:  make([]*Ticket, capacity),
		localPos: make([]int, capacity),
	}
}

func (a *arrays) associate(pos int, req transport.Request, ticket *Ticket, localPosition int) {
	a.requests[pos] = req
	a.tickets[pos] = ticket
	a.localPos[pos] = localPosition
}

// move relocates the request at source to destination, keeping the arrays in
// sync. Only the ticket pointer is copied; the Ticket itself never moves.
func (a *arrays) move(source, destination int) {
	a.requests[destination] = a.requests[source]
	a.tickets[destination] = a.tickets[source]
	a.localPos[destination] = a.localPos[source]
}

// Manager is the Ticket Manager: it owns the pre-queues tasks post new
// operations into, the in-flight request arrays, and the capacity
// controller, and drives the adopt/test/compact cycle on every polling tick.
type Manager struct {
	mu sync.Mutex

	generalTesting   envconfig.TestingApproach
	immediateTesting envconfig.TestingApproach

	capacityCtrl *capacity.Ctrl
	pending      int

	arrays *arrays

	p2p  *pqueue.P2PQueue[p2pEntry]
	coll *pqueue.CollQueue[collEntry]

	opPool   *allocator.Pool[operation.Operation]
	collPool *allocator.Pool[operation.CollOperation]

	completion *completion.Manager
	transport  transport.Transport
	observer   metrics.Observer

	completedBuf []int
}

// New builds a Manager. cpus reports the calling goroutine's logical CPU,
// for the point-to-point pre-queue's per-CPU fan-out; comp may be nil to
// disable the Completion Manager entirely, completing tickets inline instead.
func New(cfg envconfig.Config, t transport.Transport, cpus pqueue.CPUSource, ncpus int, comp *completion.Manager, observer metrics.Observer) (*Manager, error) {
	if cfg.RequestsTesting == envconfig.TestNone {
		return nil, fmt.Errorf("ticketmgr: invalid approach for general request testing")
	}
	if observer == nil {
		observer = metrics.NoOpObserver{}
	}

	m := &Manager{
		generalTesting:   cfg.RequestsTesting,
		immediateTesting: cfg.RequestsImmediateTesting,
		capacityCtrl:     capacity.New(cfg.Capacity.Min, cfg.Capacity.Max, cfg.CapacityTimeout, observer),
		arrays:           newArrays(int(envconfig.HardCapacityLimit)),
		p2p:              pqueue.NewP2PQueue[p2pEntry](32*1024, ncpus, cpus, cfg.QueuesFullFailure),
		coll:             pqueue.NewCollQueue[collEntry](32*1024, cfg.QueuesFullFailure),
		opPool:           allocator.New[operation.Operation](allocator.OperationCapacity, ncpus, cpus, observer),
		collPool:         allocator.New[operation.CollOperation](allocator.CollOperationCapacity, ncpus, cpus, observer),
		completion:       comp,
		transport:        t,
		observer:         observer,
		completedBuf:     make([]int, 0, envconfig.HardCapacityLimit),
	}
	return m, nil
}

// NewOperation draws a point-to-point Operation from the pool this Manager
// owns, bound to task. Freed back to the same pool once issued, inside
// transferEntries.
func (m *Manager) NewOperation(task runtime.TaskHandle, nature transport.OpNature, args transport.PointToPoint, status *transport.Status) *operation.Operation {
	return operation.NewOperation(m.opPool, task, nature, args, status)
}

// NewCollOperation draws a CollOperation from the pool this Manager owns, the
// collective counterpart of NewOperation.
func (m *Manager) NewCollOperation(task runtime.TaskHandle, nature transport.OpNature, args transport.Collective) *operation.CollOperation {
	return operation.NewCollOperation(m.collPool, task, nature, args)
}

// AddP2PTicket enqueues a point-to-point operation and its ticket onto the
// pre-queue for later adoption.
func (m *Manager) AddP2PTicket(op *operation.Operation, ticket *Ticket) {
	m.p2p.Push(p2pEntry{op: op, ticket: ticket})
}

// AddCollTicket enqueues a collective operation and its ticket onto the
// pre-queue for later adoption.
func (m *Manager) AddCollTicket(op *operation.CollOperation, ticket *Ticket) {
	m.coll.Push(collEntry{op: op, ticket: ticket})
}

// AddRequest directly inserts an already-issued request into the in-flight
// array at localPosition within ticket's group, bypassing the pre-queues and
// the capacity controller entirely: the request already exists regardless of
// what the controller would have admitted. This is the path Iwait/Iwaitall
// use to track a request the caller issued directly against the underlying
// library.
func (m *Manager) AddRequest(req transport.Request, ticket *Ticket, localPosition int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := m.pending
	m.arrays.associate(pos, req, ticket, localPosition)
	m.pending++
}

// CheckRequests drains the pre-queues into the in-flight array (while there
// is capacity) and tests in-flight requests, alternating until a full round
// does neither, then evaluates whether capacity should grow. It returns the
// number of requests completed on this call and the number still pending
// afterward. A non-nil err means the underlying transport returned an error
// from issuing or testing a request: the caller (the root package's polling
// tick) is expected to treat this as fatal and abort the process.
func (m *Manager) CheckRequests() (completedTotal, pending int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for {
		inserted := 0
		comp := 0

		if m.pending < int(m.capacityCtrl.Get()) {
			inserted, err = m.internalCheckEntryQueues(BatchSize * 2)
			if err != nil {
				return total, m.pending, err
			}
		}
		if m.pending > 0 {
			comp, err = m.internalCheckRequests()
			if err != nil {
				return total, m.pending, err
			}
		}
		total += comp

		if comp == 0 && inserted == 0 {
			break
		}
	}

	m.capacityCtrl.Evaluate(uint64(m.pending), uint64(total))
	m.observer.ObservePending(uint64(m.pending))

	return total, m.pending, nil
}

func (m *Manager) useCompletionManager() bool {
	return m.completion != nil && m.completion.Enabled()
}

// internalCheckRequests tests every in-flight request for completion and
// compacts the arrays. A
// transport error aborts immediately, leaving the arrays uncompacted: the
// caller is expected to terminate the process on a non-nil error, so the
// in-flight state no longer matters.
func (m *Manager) internalCheckRequests() (int, error) {
	pending := m.pending
	completedIdx := m.completedBuf[:0]

	useCompletion := m.useCompletionManager()

	var batchStatuses [BatchSize]transport.Status
	var ctxBatch [BatchSize]*taskctx.TaskContext

	checked := 0
	for checked < pending {
		count := pending - checked
		if count > BatchSize {
			count = BatchSize
		}

		reqs := m.arrays.requests[checked : checked+count]
		indices, err := operation.Dispatch(m.transport, m.generalTesting, reqs, batchStatuses[:count])
		if err != nil {
			return 0, fmt.Errorf("ticketmgr: test in-flight requests: %w", err)
		}

		for _, posInBatch := range indices {
			idx := checked + posInBatch

			local := m.arrays.localPos[idx]
			ticket := m.arrays.tickets[idx]
			if !ticket.IgnoreStatus() {
				ticket.StoreStatus(batchStatuses[posInBatch], local)
			}

			completedIdx = append(completedIdx, idx)
		}

		if useCompletion {
			n := len(indices)
			for c, posInBatch := range indices {
				ctxBatch[c] = m.arrays.tickets[checked+posInBatch].TaskContext()
			}
			if n > 0 {
				m.completion.Transfer(ctxBatch[:n])
			}
		} else {
			for _, posInBatch := range indices {
				m.arrays.tickets[checked+posInBatch].Complete()
			}
		}

		checked += count
	}

	completed := len(completedIdx)

	// Two-cursor compaction: slide still-pending requests down into the
	// holes left by completed ones, skipping replacements that are
	// themselves completed.
	replacement := pending - 1
	reverse := completed - 1
	for c := 0; c < completed; c++ {
		current := completedIdx[c]

		replace := false
		for replacement > current {
			if replacement != completedIdx[reverse] {
				replace = true
				break
			}
			replacement--
			reverse--
		}

		if replace {
			m.arrays.move(replacement, current)
			replacement--
		}
	}

	m.pending -= completed
	m.completedBuf = completedIdx[:0]
	return completed, nil
}

// internalCheckEntryQueues adopts up to maxEntries operations from the
// pre-queues into the in-flight arrays, alternating p2p and collective
// drains.
func (m *Manager) internalCheckEntryQueues(maxEntries int) (int, error) {
	avail := int(m.capacityCtrl.Get()) - m.pending
	if avail < 0 {
		avail = 0
	}
	navailable := avail
	if maxEntries < navailable {
		navailable = maxEntries
	}
	if navailable <= 0 {
		return 0, nil
	}

	var tmpP2P [BatchSize]p2pEntry
	var tmpColl [BatchSize]collEntry

	ntotal := 0
	for {
		np2p := navailable - ntotal
		if np2p > BatchSize {
			np2p = BatchSize
		}
		if np2p > 0 {
			np2p = m.p2p.PopCyclic(tmpP2P[:np2p])
		}
		if np2p > 0 {
			if err := transferEntries(m, tmpP2P[:np2p], m.opPool.Free); err != nil {
				return ntotal, err
			}
			ntotal += np2p
		}

		ncoll := navailable - ntotal
		if ncoll > BatchSize {
			ncoll = BatchSize
		}
		if ncoll > 0 {
			ncoll = m.coll.Pop(tmpColl[:ncoll])
		}
		if ncoll > 0 {
			if err := transferEntries(m, tmpColl[:ncoll], m.collPool.Free); err != nil {
				return ntotal, err
			}
			ntotal += ncoll
		}

		if ntotal >= navailable || (np2p == 0 && ncoll == 0) {
			break
		}
	}
	return ntotal, nil
}

// transferEntries issues the freshly adopted entries, immediately tests them
// once, completes whichever finished right away, and inserts the rest into
// the in-flight arrays. Every
// entry's operation object is returned to free (the pool it was allocated
// from) once issued: Issue has already copied whatever it needs into the
// transport.Request, so the Operation/CollOperation itself is done being
// useful at that point regardless of whether the request completed
// immediately or went on to the in-flight arrays. A transport error aborts
// before any freeing or array insertion happens, since the caller is
// expected to terminate the process on a non-nil return.
func transferEntries[T issuable](m *Manager, entries []entry[T], free func([]T)) error {
	count := len(entries)

	var requests [BatchSize]transport.Request
	var statuses [BatchSize]transport.Status
	var req2entry [BatchSize]int
	var complEntries [BatchSize]int
	var ctxBatch [BatchSize]*taskctx.TaskContext
	var ops [BatchSize]T

	nreqs := 0
	ncompl := 0

	useCompletion := m.useCompletionManager()

	for e := 0; e < count; e++ {
		ops[e] = entries[e].op

		req, err := entries[e].op.Issue(m.transport)
		if err != nil {
			return fmt.Errorf("ticketmgr: issue operation: %w", err)
		}
		if req != nil {
			requests[nreqs] = req
			req2entry[nreqs] = e
			nreqs++
		} else {
			complEntries[ncompl] = e
			ncompl++
		}
	}

	// TAMPI_REQUESTS_IMMEDIATE_TESTING=none skips this step entirely, leaving
	// every freshly issued request to be picked up by the next general test.
	if nreqs > 0 && m.immediateTesting != envconfig.TestNone {
		indices, err := operation.Dispatch(m.transport, m.immediateTesting, requests[:nreqs], statuses[:nreqs])
		if err != nil {
			return fmt.Errorf("ticketmgr: immediately test issued operations: %w", err)
		}
		for _, r := range indices {
			entryIdx := req2entry[r]
			ticket := entries[entryIdx].ticket
			if !ticket.IgnoreStatus() {
				ticket.StoreStatus(statuses[r], 0)
			}
			complEntries[ncompl] = entryIdx
			ncompl++
			req2entry[r] = -1
		}
	}

	if useCompletion {
		for c := 0; c < ncompl; c++ {
			ctxBatch[c] = entries[complEntries[c]].ticket.TaskContext()
		}
		if ncompl > 0 {
			m.completion.Transfer(ctxBatch[:ncompl])
		}
	} else {
		for c := 0; c < ncompl; c++ {
			entries[complEntries[c]].ticket.Complete()
		}
	}

	for r := 0; r < nreqs; r++ {
		entryIdx := req2entry[r]
		if entryIdx < 0 {
			continue
		}
		pos := m.pending
		m.arrays.associate(pos, requests[r], entries[entryIdx].ticket, 0)
		m.pending++
	}

	if count > 0 {
		free(ops[:count])
	}

	return nil
}
