package ticketmgr

import (
	"github.com/tampi-go/tampi/internal/operation"
	"github.com/tampi-go/tampi/transport"
)

// issuable is the common shape of *operation.Operation and
// *operation.CollOperation: the two kinds of entry a pre-queue carries.
type issuable interface {
	Issue(t transport.Transport) (transport.Request, error)
}

// entry pairs one operation with the ticket it belongs to, as a value type
// so pre-queues carry it directly rather than through another pointer
// indirection.
type entry[T issuable] struct {
	op     T
	ticket *Ticket
}

// p2pEntry and collEntry are the two concrete entry shapes the pre-queues
// carry.
type p2pEntry = entry[*operation.Operation]
type collEntry = entry[*operation.CollOperation]
