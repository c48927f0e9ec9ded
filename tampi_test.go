package tampi

import (
	"os"
	goruntime "runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tampi-go/tampi/transport"
	"github.com/tampi-go/tampi/transport/mem"
)

func clearTampiEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TAMPI_POLLING_PERIOD", "TAMPI_POLLING_FREQUENCY",
		"TAMPI_POLLING_TASK_COMPLETION", "TAMPI_POLLING_TASK_COMPLETION_PERIOD",
		"TAMPI_CAPACITY", "TAMPI_CAPACITY_TIMEOUT",
		"TAMPI_REQUESTS_TESTING", "TAMPI_REQUESTS_IMMEDIATE_TESTING",
		"TAMPI_QUEUES_FULL_FAILURE", "TAMPI_INSTRUMENT",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

// initCore wires the singleton against tr and tears it down when the test
// ends. Tests sharing the singleton run sequentially by default, so no two
// initCore calls ever overlap.
func initCore(t *testing.T, tr transport.Transport) {
	t.Helper()
	provided, err := Init(ThreadMultiple, tr)
	require.NoError(t, err)
	require.Equal(t, ThreadMultiple, provided)
	t.Cleanup(func() { require.NoError(t, Finalize()) })
}

func pattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}

func TestInitTwiceIsAStateError(t *testing.T) {
	clearTampiEnv(t)
	initCore(t, NewMockTransport())

	_, err := Init(ThreadMultiple, NewMockTransport())
	require.Error(t, err)
	assert.True(t, IsClass(err, ClassState))
}

func TestFinalizeBeforeInitIsAStateError(t *testing.T) {
	err := Finalize()
	require.Error(t, err)
	assert.True(t, IsClass(err, ClassState))
}

func TestModesReflectInitialization(t *testing.T) {
	clearTampiEnv(t)
	assert.False(t, BlockingMode())
	assert.False(t, NonBlockingMode())

	initCore(t, NewMockTransport())
	assert.True(t, BlockingMode())
	assert.True(t, NonBlockingMode())
}

func TestBlockingPingPong(t *testing.T) {
	clearTampiEnv(t)
	tr := mem.New()
	initCore(t, tr)

	c0 := mem.NewComm(0, 2)
	c1 := c0.Peer(1)

	var wg sync.WaitGroup
	var recvBuf [1]byte
	var status transport.Status

	wg.Add(2)
	go func() {
		defer wg.Done()
		err := Issue(transport.Blocking, transport.PointToPoint{
			Code: transport.SEND, Buffer: []byte{123}, Count: 1,
			Rank: 1, Tag: 0, Comm: c0,
		}, nil)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		err := Issue(transport.Blocking, transport.PointToPoint{
			Code: transport.RECV, Buffer: recvBuf[:], Count: 1,
			Rank: 0, Tag: 0, Comm: c1,
		}, &status)
		assert.NoError(t, err)
	}()
	wg.Wait()

	assert.Equal(t, byte(123), recvBuf[0])
	assert.Equal(t, 0, status.Source)
	assert.Equal(t, 1, status.Count)
	assert.GreaterOrEqual(t, current().metrics.Snapshot().Completions, uint64(1))
}

func TestManyTaggedPointToPoint(t *testing.T) {
	clearTampiEnv(t)
	tr := mem.New()
	initCore(t, tr)

	const msgNum = 100
	const msgSize = 100

	c0 := mem.NewComm(0, 2)
	c1 := c0.Peer(1)

	recvBufs := make([][]byte, msgNum)
	statuses := make([]transport.Status, msgNum)

	var wg sync.WaitGroup
	for m := 0; m < msgNum; m++ {
		recvBufs[m] = make([]byte, msgSize)

		wg.Add(2)
		go func(m int) {
			defer wg.Done()
			err := Issue(transport.Blocking, transport.PointToPoint{
				Code: transport.SEND, Buffer: pattern(msgSize), Count: msgSize,
				Rank: 1, Tag: m, Comm: c0,
			}, nil)
			assert.NoError(t, err)
		}(m)
		go func(m int) {
			defer wg.Done()
			err := Issue(transport.Blocking, transport.PointToPoint{
				Code: transport.RECV, Buffer: recvBufs[m], Count: msgSize,
				Rank: 0, Tag: m, Comm: c1,
			}, &statuses[m])
			assert.NoError(t, err)
		}(m)
	}
	wg.Wait()

	want := pattern(msgSize)
	for m := 0; m < msgNum; m++ {
		assert.Equal(t, want, recvBufs[m], "message %d", m)
		assert.Equal(t, m, statuses[m].Tag, "message %d", m)
		assert.Equal(t, 0, statuses[m].Source, "message %d", m)
		assert.Equal(t, msgSize, statuses[m].Count, "message %d", m)
	}
}

func TestBroadcastOverIndependentCommunicators(t *testing.T) {
	clearTampiEnv(t)
	tr := mem.New()
	initCore(t, tr)

	const comms = 100
	const size = 100

	recvBufs := make([][]byte, comms)

	var wg sync.WaitGroup
	for i := 0; i < comms; i++ {
		root := mem.NewComm(0, 2)
		peer := root.Peer(1)
		recvBufs[i] = make([]byte, size)

		wg.Add(2)
		go func() {
			defer wg.Done()
			err := IssueCollective(transport.Blocking, transport.Collective{
				Code: transport.BCAST, SendBuffer: pattern(size), SendCount: size,
				Root: 0, Comm: root,
			})
			assert.NoError(t, err)
		}()
		go func(i int) {
			defer wg.Done()
			err := IssueCollective(transport.Blocking, transport.Collective{
				Code: transport.BCAST, RecvBuffer: recvBufs[i], RecvCount: size,
				Root: 0, Comm: peer,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	want := pattern(size)
	for i := 0; i < comms; i++ {
		assert.Equal(t, want, recvBufs[i], "communicator %d", i)
	}

	require.Eventually(t, func() bool {
		return current().metrics.Snapshot().PendingOperations == 0
	}, time.Second, time.Millisecond)
}

func TestIwaitTracksDirectlyIssuedRequest(t *testing.T) {
	clearTampiEnv(t)
	tr := mem.New()
	initCore(t, tr)

	c0 := mem.NewComm(0, 2)
	c1 := c0.Peer(1)

	recvBuf := make([]byte, 4)
	req, err := tr.IssuePointToPoint(transport.PointToPoint{
		Code: transport.RECV, Buffer: recvBuf, Count: 4,
		Rank: 1, Tag: 9, Comm: c0,
	})
	require.NoError(t, err)
	require.NotNil(t, req)

	var status transport.Status
	require.NoError(t, Iwait(req, &status))

	_, err = tr.IssuePointToPoint(transport.PointToPoint{
		Code: transport.SEND, Buffer: []byte{1, 2, 3, 4}, Count: 4,
		Rank: 0, Tag: 9, Comm: c1,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return status.Count == 4 }, time.Second, time.Millisecond)
	assert.Equal(t, []byte{1, 2, 3, 4}, recvBuf)
	assert.Equal(t, 1, status.Source)
	assert.Equal(t, 9, status.Tag)
}

func TestIwaitNullRequestIsANoOp(t *testing.T) {
	clearTampiEnv(t)
	initCore(t, NewMockTransport())

	var status transport.Status
	require.NoError(t, Iwait(nil, &status))
	assert.Zero(t, status)
}

func TestIwaitallWithNullEntry(t *testing.T) {
	clearTampiEnv(t)
	tr := mem.New()
	initCore(t, tr)

	c0 := mem.NewComm(0, 4)

	recvBufs := make([][]byte, 3)
	requests := make([]transport.Request, 4)
	for i := 0; i < 3; i++ {
		recvBufs[i] = make([]byte, 1)
		req, err := tr.IssuePointToPoint(transport.PointToPoint{
			Code: transport.RECV, Buffer: recvBufs[i], Count: 1,
			Rank: i + 1, Tag: 0, Comm: c0,
		})
		require.NoError(t, err)
		require.NotNil(t, req)
		requests[i] = req
	}
	requests[3] = nil

	statuses := make([]transport.Status, 4)
	require.NoError(t, Iwaitall(requests, statuses))

	for rank := 1; rank <= 3; rank++ {
		peer := c0.Peer(rank)
		_, err := tr.IssuePointToPoint(transport.PointToPoint{
			Code: transport.SEND, Buffer: []byte{byte(rank)}, Count: 1,
			Rank: 0, Tag: 0, Comm: peer,
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return statuses[0].Count == 1 && statuses[1].Count == 1 && statuses[2].Count == 1
	}, time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.Equal(t, []byte{byte(i + 1)}, recvBufs[i])
		assert.Equal(t, i+1, statuses[i].Source)
	}
	// The null entry contributed no status update.
	assert.Zero(t, statuses[3])
}

func TestSaturationGrowsCapacity(t *testing.T) {
	clearTampiEnv(t)
	t.Setenv("TAMPI_CAPACITY", "4:64")
	t.Setenv("TAMPI_CAPACITY_TIMEOUT", "1")

	mock := NewMockTransport()
	mock.SetAutoComplete(false)
	initCore(t, mock)

	fc := mem.NewComm(0, 1)

	const outstanding = 12
	var wg sync.WaitGroup
	for i := 0; i < outstanding; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := Issue(transport.Blocking, transport.PointToPoint{
				Code: transport.SEND, Buffer: []byte{0}, Count: 1,
				Rank: 0, Tag: i, Comm: fc,
			}, nil)
			assert.NoError(t, err)
		}(i)
	}

	require.Eventually(t, func() bool {
		return current().metrics.Snapshot().CapacityGrowths >= 1
	}, 5*time.Second, time.Millisecond)

	mock.SetAutoComplete(true)
	mock.CompleteAll()
	wg.Wait()
}

func TestThreadTaskAwareOffBypassesCore(t *testing.T) {
	clearTampiEnv(t)
	mock := NewMockTransport()
	initCore(t, mock)

	goruntime.LockOSThread()
	defer goruntime.UnlockOSThread()
	SetThreadTaskAware(false)
	defer ResetThreadTaskAware()
	require.False(t, ThreadTaskAware())

	fc := mem.NewComm(0, 1)
	const barriers = 100
	for i := 0; i < barriers; i++ {
		require.NoError(t, IssueCollective(transport.Blocking, transport.Collective{
			Code: transport.BARRIER, Comm: fc,
		}))
	}

	assert.Equal(t, barriers, mock.CallCounts()["issue_coll"])
	// Nothing passed through the core: the polling task never observed a
	// completion of its own.
	assert.Zero(t, current().metrics.Snapshot().Completions)
}
