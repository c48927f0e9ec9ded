package operation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tampi-go/tampi/internal/allocator"
	"github.com/tampi-go/tampi/internal/envconfig"
	"github.com/tampi-go/tampi/transport"
)

type fixedCPU struct{}

func (fixedCPU) GetCurrentLogicalCPU() int { return 0 }

type fakeComm struct{}

func (fakeComm) Rank() int { return 0 }
func (fakeComm) Size() int { return 1 }

// fakeTransport completes requests whose index (encoded as the Request value)
// is present in the doneSet.
type fakeTransport struct {
	doneSet map[int]bool
}

func (f *fakeTransport) IssuePointToPoint(transport.PointToPoint) (transport.Request, error) {
	return 0, nil
}
func (f *fakeTransport) IssueCollective(transport.Collective) (transport.Request, error) {
	return 0, nil
}

func (f *fakeTransport) Test(req transport.Request, status *transport.Status) (bool, error) {
	return f.doneSet[req.(int)], nil
}

func (f *fakeTransport) TestAny(requests []transport.Request, status *transport.Status) (int, bool, error) {
	for i, r := range requests {
		if f.doneSet[r.(int)] {
			if status != nil {
				*status = transport.Status{Tag: r.(int)}
			}
			return i, true, nil
		}
	}
	return 0, false, nil
}

func (f *fakeTransport) TestSome(requests []transport.Request, statuses []transport.Status) ([]int, error) {
	var completed []int
	for i, r := range requests {
		if f.doneSet[r.(int)] {
			completed = append(completed, i)
		}
	}
	return completed, nil
}

func (f *fakeTransport) Testall(requests []transport.Request, statuses []transport.Status) (bool, error) {
	for _, r := range requests {
		if !f.doneSet[r.(int)] {
			return false, nil
		}
	}
	return true, nil
}

var _ transport.Transport = (*fakeTransport)(nil)

func TestOperationIssueAndAccessors(t *testing.T) {
	args := transport.PointToPoint{Code: transport.SEND, Tag: 7, Comm: fakeComm{}}
	op := NewOperation(allocator.New[Operation](1, 1, fixedCPU{}, nil), 0, transport.Blocking, args, &transport.Status{})

	assert.Equal(t, 7, op.Tag())
	assert.Equal(t, fakeComm{}, op.Comm())

	req, err := op.Issue(&fakeTransport{})
	require.NoError(t, err)
	assert.NotNil(t, req)
}

func TestCollOperationTagIsZero(t *testing.T) {
	args := transport.Collective{Code: transport.BCAST, Comm: fakeComm{}}
	op := NewCollOperation(allocator.New[CollOperation](1, 1, fixedCPU{}, nil), 0, transport.Blocking, args)
	assert.Equal(t, 0, op.Tag())
}

func TestDispatchTestSome(t *testing.T) {
	ft := &fakeTransport{doneSet: map[int]bool{0: true, 2: true}}
	requests := []transport.Request{0, 1, 2}
	statuses := make([]transport.Status, 3)

	completed, err := Dispatch(ft, envconfig.TestSome, requests, statuses)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 2}, completed)
}

func TestDispatchTest(t *testing.T) {
	ft := &fakeTransport{doneSet: map[int]bool{1: true}}
	requests := []transport.Request{0, 1, 2}
	statuses := make([]transport.Status, 3)

	completed, err := Dispatch(ft, envconfig.Test, requests, statuses)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, completed)
}

func TestDispatchTestAnyDrainsUntilDry(t *testing.T) {
	ft := &fakeTransport{doneSet: map[int]bool{0: true, 1: true, 2: true}}
	requests := []transport.Request{0, 1, 2}
	statuses := make([]transport.Status, 3)

	completed, err := Dispatch(ft, envconfig.TestAny, requests, statuses)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1, 2}, completed)
	for _, i := range completed {
		assert.Equal(t, i, statuses[i].Tag)
	}
}

func TestDispatchTestAnyStopsWhenNothingCompletes(t *testing.T) {
	ft := &fakeTransport{doneSet: map[int]bool{}}
	requests := []transport.Request{0, 1, 2}

	completed, err := Dispatch(ft, envconfig.TestAny, requests, nil)
	require.NoError(t, err)
	assert.Empty(t, completed)
}

func TestDispatchPanicsOnTestNone(t *testing.T) {
	ft := &fakeTransport{}
	assert.Panics(t, func() {
		_, _ = Dispatch(ft, envconfig.TestNone, nil, nil)
	})
}
