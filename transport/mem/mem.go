// Package mem provides an in-process loopback transport.Transport: every
// rank lives in the same process and "messages" are plain byte copies
// between goroutines, matched the way TAMPI's real MPI transport would match
// them (by communicator, rank and tag). It exists for tests and for running
// TAMPI end to end without a real message-passing library installed.
//
// The mailbox lookup is sharded the way backend.Memory shards its byte range
// locks: independent communicators (and independent destination ranks within
// one communicator) hash to different shards, so five hundred unrelated
// communicators matching concurrently don't serialize behind one mutex.
package mem

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tampi-go/tampi/transport"
)

// NumShards is the number of independent mailbox shards. With 500
// communicators spread across 64 shards, matching for unrelated
// communicators rarely contends on the same lock.
const NumShards = 64

// ANYSOURCE and ANYTAG mirror MPI_ANY_SOURCE/MPI_ANY_TAG: a receive posted
// with either matches any sender rank or tag respectively.
const (
	ANYSOURCE = -1
	ANYTAG    = -1
)

// Comm identifies one rank's view of an independent communicator. Comms
// sharing the same id (produced by Peer) see each other's sends, barriers
// and collectives; comms with different ids never interact, matching the
// "independent communicators" isolation real MPI communicators provide.
type Comm struct {
	id   uuid.UUID
	rank int
	size int
}

// NewComm creates a fresh, independent communicator and returns rank's view
// of it.
func NewComm(rank, size int) Comm {
	return Comm{id: uuid.New(), rank: rank, size: size}
}

// Peer returns another rank's view of the same communicator as c.
func (c Comm) Peer(rank int) Comm {
	return Comm{id: c.id, rank: rank, size: c.size}
}

func (c Comm) Rank() int { return c.rank }
func (c Comm) Size() int { return c.size }

var _ transport.Communicator = Comm{}

// handle is the Request a pending send, receive or collective participation
// hands back when it cannot complete synchronously at Issue time. A receive
// that matches a waiting send at Issue time also hands back a handle, already
// completed, so that its status reaches the caller; only a send that matches a
// waiting receive returns a nil Request.
type handle struct {
	done   atomic.Bool
	status transport.Status
}

func (h *handle) complete(status transport.Status) {
	h.status = status
	h.done.Store(true)
}

type pendingSend struct {
	data   []byte
	tag    int
	source int
	h      *handle
}

type pendingRecv struct {
	buffer []byte
	tag    int
	source int
	h      *handle
}

type mailboxKey struct {
	comm uuid.UUID
	rank int
}

type collState struct {
	code    transport.OpCode
	root    int
	size    int
	arrived int
	data    [][]byte
	recvBuf [][]byte
	handles []*handle
}

func newCollState(code transport.OpCode, root, size int) *collState {
	return &collState{
		code:    code,
		root:    root,
		size:    size,
		data:    make([][]byte, size),
		recvBuf: make([][]byte, size),
		handles: make([]*handle, size),
	}
}

type shard struct {
	mu    sync.Mutex
	sends map[mailboxKey][]*pendingSend
	recvs map[mailboxKey][]*pendingRecv
	coll  map[uuid.UUID]*collState
}

// Transport is a loopback transport.Transport backed by in-memory mailboxes.
type Transport struct {
	shards [NumShards]shard
}

// New creates a ready-to-use loopback Transport.
func New() *Transport {
	t := &Transport{}
	for i := range t.shards {
		t.shards[i].sends = make(map[mailboxKey][]*pendingSend)
		t.shards[i].recvs = make(map[mailboxKey][]*pendingRecv)
		t.shards[i].coll = make(map[uuid.UUID]*collState)
	}
	return t
}

func mailboxShard(t *Transport, id uuid.UUID, rank int) *shard {
	h := fnv.New64a()
	h.Write(id[:])
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(rank))
	h.Write(buf[:])
	return &t.shards[h.Sum64()%NumShards]
}

func collShard(t *Transport, id uuid.UUID) *shard {
	h := fnv.New64a()
	h.Write(id[:])
	return &t.shards[h.Sum64()%NumShards]
}

func isSend(code transport.OpCode) bool {
	switch code {
	case transport.BSEND, transport.RSEND, transport.SEND, transport.SSEND:
		return true
	default:
		return false
	}
}

// IssuePointToPoint implements transport.Transport.
func (t *Transport) IssuePointToPoint(p transport.PointToPoint) (transport.Request, error) {
	c, ok := p.Comm.(Comm)
	if !ok {
		return nil, fmt.Errorf("mem: point-to-point request requires a mem.Comm, got %T", p.Comm)
	}
	if isSend(p.Code) {
		return t.issueSend(c, p)
	}
	if p.Code != transport.RECV {
		return nil, fmt.Errorf("mem: unsupported point-to-point opcode %s", p.Code)
	}
	return t.issueRecv(c, p)
}

func (t *Transport) issueSend(c Comm, p transport.PointToPoint) (transport.Request, error) {
	key := mailboxKey{comm: c.id, rank: p.Rank}
	sh := mailboxShard(t, c.id, p.Rank)

	sh.mu.Lock()
	recvs := sh.recvs[key]
	for i, r := range recvs {
		if (r.source == ANYSOURCE || r.source == c.rank) && (r.tag == ANYTAG || r.tag == p.Tag) {
			sh.recvs[key] = append(append(recvs[:i:i], recvs[i+1:]...))
			sh.mu.Unlock()

			n := copy(r.buffer, p.Buffer)
			r.h.complete(transport.Status{Source: c.rank, Tag: p.Tag, Count: n})
			return nil, nil
		}
	}

	h := &handle{}
	sh.sends[key] = append(sh.sends[key], &pendingSend{
		data:   append([]byte(nil), p.Buffer...),
		tag:    p.Tag,
		source: c.rank,
		h:      h,
	})
	sh.mu.Unlock()
	return h, nil
}

func (t *Transport) issueRecv(c Comm, p transport.PointToPoint) (transport.Request, error) {
	key := mailboxKey{comm: c.id, rank: c.rank}
	sh := mailboxShard(t, c.id, c.rank)

	sh.mu.Lock()
	sends := sh.sends[key]
	for i, s := range sends {
		if (p.Rank == ANYSOURCE || p.Rank == s.source) && (p.Tag == ANYTAG || p.Tag == s.tag) {
			sh.sends[key] = append(append(sends[:i:i], sends[i+1:]...))
			sh.mu.Unlock()

			n := copy(p.Buffer, s.data)
			status := transport.Status{Source: s.source, Tag: s.tag, Count: n}
			s.h.complete(status)
			h := &handle{}
			h.complete(status)
			return h, nil
		}
	}

	h := &handle{}
	sh.recvs[key] = append(sh.recvs[key], &pendingRecv{
		buffer: p.Buffer,
		tag:    p.Tag,
		source: p.Rank,
		h:      h,
	})
	sh.mu.Unlock()
	return h, nil
}

// IssueCollective implements transport.Transport. Every rank in the
// communicator must call it with the same Code before any of them completes;
// the last arrival performs the (simulated) data movement and wakes every
// rank's handle.
func (t *Transport) IssueCollective(col transport.Collective) (transport.Request, error) {
	c, ok := col.Comm.(Comm)
	if !ok {
		return nil, fmt.Errorf("mem: collective request requires a mem.Comm, got %T", col.Comm)
	}

	sh := collShard(t, c.id)
	h := &handle{}

	sh.mu.Lock()
	st, ok := sh.coll[c.id]
	if !ok {
		st = newCollState(col.Code, col.Root, c.size)
		sh.coll[c.id] = st
	}

	st.data[c.rank] = append([]byte(nil), sendBuffer(col)...)
	st.recvBuf[c.rank] = col.RecvBuffer
	st.handles[c.rank] = h
	st.arrived++

	if st.arrived == st.size {
		delete(sh.coll, c.id)
		sh.mu.Unlock()
		completeCollective(st)
	} else {
		sh.mu.Unlock()
	}

	return h, nil
}

// sendBuffer returns the per-rank input bytes a collective contributes,
// collapsing the struct's several send-side fields depending on Code.
func sendBuffer(col transport.Collective) []byte {
	if col.SendBuffer != nil {
		return col.SendBuffer
	}
	return col.RecvBuffer
}

// completeCollective performs the data movement implied by st.code and wakes
// every participating rank's handle. Only the structural, byte-moving
// collectives (barrier, broadcast, gather family, scatter, all-to-all) are
// actually simulated: reduction operators are opaque transport.ReduceOp
// values this package cannot interpret, so REDUCE/ALLREDUCE and the
// scatter-reduce variants only synchronize and copy rank 0's contribution
// through, rather than reduce it. Callers that need real numeric results
// from a reduction should exercise a real Transport.
func completeCollective(st *collState) {
	switch st.code {
	case transport.BARRIER:
		// synchronization only.
	case transport.BCAST:
		src := st.data[st.root]
		for r := 0; r < st.size; r++ {
			if st.recvBuf[r] != nil {
				copy(st.recvBuf[r], src)
			}
		}
	case transport.GATHER:
		deliverGather(st, st.root)
	case transport.ALLGATHER:
		for r := 0; r < st.size; r++ {
			deliverGather(st, r)
		}
	case transport.SCATTER:
		src := st.data[st.root]
		chunk := len(src) / st.size
		for r := 0; r < st.size; r++ {
			if chunk > 0 && st.recvBuf[r] != nil {
				copy(st.recvBuf[r], src[r*chunk:(r+1)*chunk])
			}
		}
	case transport.ALLTOALL:
		for src := 0; src < st.size; src++ {
			in := st.data[src]
			chunk := len(in) / st.size
			if chunk == 0 {
				continue
			}
			for dst := 0; dst < st.size; dst++ {
				if st.recvBuf[dst] == nil {
					continue
				}
				copy(st.recvBuf[dst][src*chunk:], in[dst*chunk:(dst+1)*chunk])
			}
		}
	case transport.REDUCE:
		if st.recvBuf[st.root] != nil {
			copy(st.recvBuf[st.root], st.data[0])
		}
	case transport.ALLREDUCE:
		for r := 0; r < st.size; r++ {
			if st.recvBuf[r] != nil {
				copy(st.recvBuf[r], st.data[0])
			}
		}
	default:
		// ALLGATHERV, ALLTOALLV, ALLTOALLW, GATHERV, SCATTERV, EXSCAN, SCAN,
		// REDUCESCATTER and REDUCESCATTERBLOCK only synchronize: their
		// varying- or reduced-count shapes need real typed data this
		// byte-oriented loopback doesn't have.
	}

	for r := 0; r < st.size; r++ {
		if st.handles[r] != nil {
			st.handles[r].complete(transport.Status{Source: r, Count: len(st.recvBuf[r])})
		}
	}
}

func deliverGather(st *collState, dest int) {
	if st.recvBuf[dest] == nil {
		return
	}
	off := 0
	buf := st.recvBuf[dest]
	for r := 0; r < st.size; r++ {
		n := copy(buf[off:], st.data[r])
		off += n
	}
}

func asHandle(req transport.Request) (*handle, error) {
	h, ok := req.(*handle)
	if !ok {
		return nil, fmt.Errorf("mem: request %T was not issued by this transport", req)
	}
	return h, nil
}

// Test implements transport.Transport.
func (t *Transport) Test(req transport.Request, status *transport.Status) (bool, error) {
	h, err := asHandle(req)
	if err != nil {
		return false, err
	}
	if !h.done.Load() {
		return false, nil
	}
	if status != nil {
		*status = h.status
	}
	return true, nil
}

// TestAny implements transport.Transport.
func (t *Transport) TestAny(requests []transport.Request, status *transport.Status) (int, bool, error) {
	for i, req := range requests {
		h, err := asHandle(req)
		if err != nil {
			return 0, false, err
		}
		if h.done.Load() {
			if status != nil {
				*status = h.status
			}
			return i, true, nil
		}
	}
	return 0, false, nil
}

// TestSome implements transport.Transport.
func (t *Transport) TestSome(requests []transport.Request, statuses []transport.Status) ([]int, error) {
	var indices []int
	for i, req := range requests {
		h, err := asHandle(req)
		if err != nil {
			return indices, err
		}
		if h.done.Load() {
			indices = append(indices, i)
			if i < len(statuses) {
				statuses[i] = h.status
			}
		}
	}
	return indices, nil
}

// Testall implements transport.Transport.
func (t *Transport) Testall(requests []transport.Request, statuses []transport.Status) (bool, error) {
	handles := make([]*handle, len(requests))
	for i, req := range requests {
		h, err := asHandle(req)
		if err != nil {
			return false, err
		}
		if !h.done.Load() {
			return false, nil
		}
		handles[i] = h
	}
	for i, h := range handles {
		if i < len(statuses) {
			statuses[i] = h.status
		}
	}
	return true, nil
}

var _ transport.Transport = (*Transport)(nil)
