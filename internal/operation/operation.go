// Package operation wraps transport.PointToPoint and transport.Collective
// requests with the task binding and status destination TAMPI needs to
// complete them later, and dispatches the three testing-approach shapes
// (testsome, testany, test) the ticket manager drives on every tick.
package operation

import (
	"fmt"

	"github.com/tampi-go/tampi/internal/allocator"
	"github.com/tampi-go/tampi/internal/envconfig"
	"github.com/tampi-go/tampi/internal/runtime"
	"github.com/tampi-go/tampi/transport"
)

// Operation describes one posted point-to-point request.
type Operation struct {
	Task   runtime.TaskHandle
	Nature transport.OpNature
	Args   transport.PointToPoint
	Status *transport.Status
}

// NewOperation draws an Operation from pool and populates it, bound to task,
// instead of allocating a fresh composite literal: the object is returned to
// pool once issued.
func NewOperation(pool *allocator.Pool[Operation], task runtime.TaskHandle, nature transport.OpNature, args transport.PointToPoint, status *transport.Status) *Operation {
	op := pool.Alloc()
	*op = Operation{Task: task, Nature: nature, Args: args, Status: status}
	return op
}

// Tag returns the request's match tag.
func (o *Operation) Tag() int { return o.Args.Tag }

// Comm returns the communicator the request was issued against.
func (o *Operation) Comm() transport.Communicator { return o.Args.Comm }

// Issue posts the request to t.
func (o *Operation) Issue(t transport.Transport) (transport.Request, error) {
	return t.IssuePointToPoint(o.Args)
}

// CollOperation describes one posted collective request.
type CollOperation struct {
	Task   runtime.TaskHandle
	Nature transport.OpNature
	Args   transport.Collective
}

// NewCollOperation draws a CollOperation from pool and populates it, bound to
// task, the collective counterpart of NewOperation.
func NewCollOperation(pool *allocator.Pool[CollOperation], task runtime.TaskHandle, nature transport.OpNature, args transport.Collective) *CollOperation {
	c := pool.Alloc()
	*c = CollOperation{Task: task, Nature: nature, Args: args}
	return c
}

// Tag always returns 0: collectives have no match tag.
func (c *CollOperation) Tag() int { return 0 }

// Comm returns the communicator the request was issued against.
func (c *CollOperation) Comm() transport.Communicator { return c.Args.Comm }

// Issue posts the request to t.
func (c *CollOperation) Issue(t transport.Transport) (transport.Request, error) {
	return t.IssueCollective(c.Args)
}

// Dispatch tests requests for completion according to approach, returning the
// indices (into requests) that completed on this call. It panics on
// envconfig.TestNone, which is only valid for the immediate-request path that
// never reaches the ticket manager's general dispatch.
func Dispatch(t transport.Transport, approach envconfig.TestingApproach, requests []transport.Request, statuses []transport.Status) ([]int, error) {
	switch approach {
	case envconfig.TestSome:
		return dispatchTestSome(t, requests, statuses)
	case envconfig.TestAny:
		return dispatchTestAny(t, requests, statuses)
	case envconfig.Test:
		return dispatchTest(t, requests, statuses)
	default:
		panic(fmt.Sprintf("operation: dispatch called with unsupported testing approach %d", approach))
	}
}

func dispatchTestSome(t transport.Transport, requests []transport.Request, statuses []transport.Status) ([]int, error) {
	return t.TestSome(requests, statuses)
}

func dispatchTest(t transport.Transport, requests []transport.Request, statuses []transport.Status) ([]int, error) {
	var completed []int
	for i, r := range requests {
		var st transport.Status
		done, err := t.Test(r, &st)
		if err != nil {
			return completed, err
		}
		if done {
			completed = append(completed, i)
			if i < len(statuses) {
				statuses[i] = st
			}
		}
	}
	return completed, nil
}

// dispatchTestAny reproduces internalTestRequests' testany loop: it keeps
// calling TestAny over the shrinking set of still-active requests until one
// full pass reports nothing completed, rather than a single bulk call.
func dispatchTestAny(t transport.Transport, requests []transport.Request, statuses []transport.Status) ([]int, error) {
	active := make([]int, len(requests))
	for i := range active {
		active[i] = i
	}

	var completed []int
	for len(active) > 0 {
		sub := make([]transport.Request, len(active))
		for i, idx := range active {
			sub[i] = requests[idx]
		}

		var st transport.Status
		pos, done, err := t.TestAny(sub, &st)
		if err != nil {
			return completed, err
		}
		if !done {
			break
		}

		origIdx := active[pos]
		completed = append(completed, origIdx)
		if origIdx < len(statuses) {
			statuses[origIdx] = st
		}
		active = append(active[:pos], active[pos+1:]...)
	}
	return completed, nil
}
