package tampi

import (
	"sync"

	"github.com/tampi-go/tampi/transport"
)

// mockRequest is the concrete Request value MockTransport hands back: a
// Test/TestAny/TestSome/Testall call recognizes it by pointer identity and
// reports whatever status was set on it, never reaching into the caller's
// own bookkeeping.
type mockRequest struct {
	done   bool
	status transport.Status
}

// MockTransport is a test double for transport.Transport that tracks every
// request it is issued and every call made against it. By default every
// issued request completes immediately (AutoComplete), which is enough for
// tests that only care about TAMPI's own bookkeeping; tests exercising
// pending/incomplete requests call SetAutoComplete(false) and complete
// requests explicitly with CompleteNext/CompleteAll.
type MockTransport struct {
	mu sync.Mutex

	autoComplete bool

	p2p  []transport.PointToPoint
	coll []transport.Collective

	pending []*mockRequest

	p2pCalls  int
	collCalls int
	testCalls int
}

// NewMockTransport returns a MockTransport with AutoComplete enabled.
func NewMockTransport() *MockTransport {
	return &MockTransport{autoComplete: true}
}

// SetAutoComplete controls whether newly issued requests complete
// immediately (the default) or stay pending until explicitly completed.
func (m *MockTransport) SetAutoComplete(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoComplete = enabled
}

// IssuePointToPoint implements transport.Transport.
func (m *MockTransport) IssuePointToPoint(p transport.PointToPoint) (transport.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.p2pCalls++
	m.p2p = append(m.p2p, p)

	req := &mockRequest{done: m.autoComplete, status: transport.Status{
		Source: p.Rank, Tag: p.Tag, Count: p.Count,
	}}
	if !req.done {
		m.pending = append(m.pending, req)
	}
	return req, nil
}

// IssueCollective implements transport.Transport.
func (m *MockTransport) IssueCollective(c transport.Collective) (transport.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.collCalls++
	m.coll = append(m.coll, c)

	req := &mockRequest{done: m.autoComplete}
	if !req.done {
		m.pending = append(m.pending, req)
	}
	return req, nil
}

// Test implements transport.Transport.
func (m *MockTransport) Test(req transport.Request, status *transport.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.testCalls++
	mr, ok := req.(*mockRequest)
	if !ok {
		return false, NewError("Test", ClassUnexpectedShape, "request not produced by MockTransport")
	}
	if mr.done && status != nil {
		*status = mr.status
	}
	return mr.done, nil
}

// TestAny implements transport.Transport.
func (m *MockTransport) TestAny(requests []transport.Request, status *transport.Status) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.testCalls++
	for i, r := range requests {
		mr, ok := r.(*mockRequest)
		if !ok {
			return 0, false, NewError("TestAny", ClassUnexpectedShape, "request not produced by MockTransport")
		}
		if mr.done {
			if status != nil {
				*status = mr.status
			}
			return i, true, nil
		}
	}
	return 0, false, nil
}

// TestSome implements transport.Transport.
func (m *MockTransport) TestSome(requests []transport.Request, statuses []transport.Status) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.testCalls++
	var indices []int
	for i, r := range requests {
		mr, ok := r.(*mockRequest)
		if !ok {
			return nil, NewError("TestSome", ClassUnexpectedShape, "request not produced by MockTransport")
		}
		if mr.done {
			indices = append(indices, i)
			if statuses != nil {
				statuses[i] = mr.status
			}
		}
	}
	return indices, nil
}

// Testall implements transport.Transport.
func (m *MockTransport) Testall(requests []transport.Request, statuses []transport.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.testCalls++
	for _, r := range requests {
		mr, ok := r.(*mockRequest)
		if !ok {
			return false, NewError("Testall", ClassUnexpectedShape, "request not produced by MockTransport")
		}
		if !mr.done {
			return false, nil
		}
	}
	for i, r := range requests {
		mr := r.(*mockRequest)
		if statuses != nil {
			statuses[i] = mr.status
		}
	}
	return true, nil
}

// CompleteNext marks the oldest still-pending request (in issue order) as
// done, for tests driving completion by hand with AutoComplete disabled.
func (m *MockTransport) CompleteNext(status transport.Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return false
	}
	req := m.pending[0]
	m.pending = m.pending[1:]
	req.status = status
	req.done = true
	return true
}

// CompleteAll marks every still-pending request as done with a zero Status.
func (m *MockTransport) CompleteAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, req := range m.pending {
		req.done = true
	}
	m.pending = nil
}

// IssuedPointToPoint returns every PointToPoint request issued so far, in
// issue order.
func (m *MockTransport) IssuedPointToPoint() []transport.PointToPoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]transport.PointToPoint, len(m.p2p))
	copy(out, m.p2p)
	return out
}

// IssuedCollective returns every Collective request issued so far, in issue
// order.
func (m *MockTransport) IssuedCollective() []transport.Collective {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]transport.Collective, len(m.coll))
	copy(out, m.coll)
	return out
}

// CallCounts returns the number of times each Transport method group has
// been invoked.
func (m *MockTransport) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]int{
		"issue_p2p":  m.p2pCalls,
		"issue_coll": m.collCalls,
		"test":       m.testCalls,
	}
}

// Reset clears every recorded call and pending request, restoring
// AutoComplete to enabled.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.autoComplete = true
	m.p2p = nil
	m.coll = nil
	m.pending = nil
	m.p2pCalls = 0
	m.collCalls = 0
	m.testCalls = 0
}

var _ transport.Transport = (*MockTransport)(nil)
