package spsc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushPopOrder(t *testing.T) {
	q := New[int](4)
	assert.True(t, q.Push(1))
	assert.True(t, q.Push(2))
	assert.Equal(t, 2, q.Len())

	v, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestPushFailsWhenFull(t *testing.T) {
	q := New[int](2)
	assert.True(t, q.Push(1))
	assert.True(t, q.Push(2))
	assert.False(t, q.Push(3))
}

func TestPushNPopNWraparound(t *testing.T) {
	q := New[int](3)
	assert.Equal(t, 2, q.PushN([]int{1, 2}))
	out := make([]int, 1)
	assert.Equal(t, 1, q.PopN(out))
	assert.Equal(t, []int{1}, out)

	assert.Equal(t, 2, q.PushN([]int{3, 4}))

	out = make([]int, 4)
	n := q.PopN(out)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{2, 3, 4}, out[:n])
}

func TestPopNStopsWhenEmpty(t *testing.T) {
	q := New[int](4)
	q.Push(1)
	out := make([]int, 10)
	n := q.PopN(out)
	assert.Equal(t, 1, n)
}
