// Package ticketmgr implements the Ticket Manager: the central structure
// that adopts operations from the pre-queues, issues them against a
// transport.Transport, and tests in-flight requests for completion.
package ticketmgr

import (
	"github.com/tampi-go/tampi/internal/taskctx"
	"github.com/tampi-go/tampi/transport"
)

// Ticket tracks the pending operation(s) issued by one task. A ticket
// created for a single non-blocking call tracks exactly one operation; a
// ticket created for a Waitall-style group tracks as many as the group has.
//
// A Ticket is always a separate heap allocation, kept alive by the garbage
// collector for as long as any request-array slot references it. Compaction
// only ever copies the pointer, never the Ticket itself, so no
// inline-versus-borrowed ownership distinction is needed.
type Ticket struct {
	ctx      *taskctx.TaskContext
	statuses []transport.Status // nil means the caller ignores statuses
}

// NewTicket builds a Ticket bound to ctx. statuses may be nil, meaning the
// caller passed MPI_STATUS(ES)_IGNORE and completion should not record them.
func NewTicket(ctx *taskctx.TaskContext, statuses []transport.Status) *Ticket {
	return &Ticket{ctx: ctx, statuses: statuses}
}

// AddPendingOperation records num more operations the ticket's task must
// observe complete before it unblocks.
func (t *Ticket) AddPendingOperation(num int) {
	t.ctx.AddPendingEvents(num)
}

// Complete marks one of the ticket's operations as finished.
func (t *Ticket) Complete() {
	t.ctx.CompleteEvents(1)
}

// Wait blocks the ticket's task until every one of its operations completes.
// Only valid for tickets backed by a blocking TaskContext.
func (t *Ticket) Wait() {
	t.ctx.WaitEventsCompletion()
}

// TaskContext returns the ticket's bound task context, used to hand
// completions off to the Completion Manager instead of completing inline.
func (t *Ticket) TaskContext() *taskctx.TaskContext {
	return t.ctx
}

// IgnoreStatus reports whether the caller requested no status be recorded.
func (t *Ticket) IgnoreStatus() bool {
	return t.statuses == nil
}

// StoreStatus records status at the given position within the ticket's
// group of operations (0 for a single-request ticket).
func (t *Ticket) StoreStatus(status transport.Status, position int) {
	t.statuses[position] = status
}
