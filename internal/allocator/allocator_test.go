package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCPU struct{ cpu int }

func (f fixedCPU) GetCurrentLogicalCPU() int { return f.cpu }

type widget struct{ v int }

func TestAllocReturnsDistinctObjects(t *testing.T) {
	p := New[widget](BatchSize*2, 4, fixedCPU{0}, nil)

	a := p.Alloc()
	b := p.Alloc()
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.NotSame(t, a, b)
}

func TestAllocRefillsFromCentralInBatches(t *testing.T) {
	p := New[widget](BatchSize*3, 2, fixedCPU{0}, nil)

	seen := make(map[*widget]bool)
	for i := 0; i < BatchSize+1; i++ {
		obj := p.Alloc()
		require.False(t, seen[obj])
		seen[obj] = true
	}
	assert.Len(t, seen, BatchSize+1)
}

func TestFreeReturnsObjectsForReuse(t *testing.T) {
	p := New[widget](BatchSize, 1, fixedCPU{0}, nil)

	all := make([]*widget, 0, BatchSize)
	for i := 0; i < BatchSize; i++ {
		all = append(all, p.Alloc())
	}

	p.Free(all)

	// the pool is drained again; it should not panic, since Free replenished
	// the central list.
	assert.NotPanics(t, func() {
		for i := 0; i < BatchSize; i++ {
			p.Alloc()
		}
	})
}

func TestAllocPanicsWhenExhausted(t *testing.T) {
	p := New[widget](BatchSize, 1, fixedCPU{0}, nil)

	assert.Panics(t, func() {
		for i := 0; i < BatchSize+1; i++ {
			p.Alloc()
		}
	})
}

func TestLocalFreeFeedsSameCPUCache(t *testing.T) {
	p := New[widget](BatchSize*2, 2, fixedCPU{1}, nil)

	obj := p.Alloc()
	p.LocalFree([]*widget{obj})

	got := p.Alloc()
	assert.Same(t, obj, got)
}

func TestOutOfRangeCPUFallsBackToCacheZero(t *testing.T) {
	p := New[widget](BatchSize, 2, fixedCPU{99}, nil)
	assert.NotPanics(t, func() { p.Alloc() })
}
