// Package allocator implements the fixed-capacity object pools Operations and
// CollOperations are drawn from: a central SPSC free list refilled in
// batches into small per-logical-CPU caches.
package allocator

import (
	"fmt"
	"sync"

	"github.com/tampi-go/tampi/internal/metrics"
	"github.com/tampi-go/tampi/internal/spsc"
)

// BatchSize is how many objects an empty per-CPU cache pulls from the
// central free list at once.
const BatchSize = 64

// OperationCapacity and CollOperationCapacity size the two pools the root
// package wires up.
const (
	OperationCapacity     = 64 * 1000
	CollOperationCapacity = 8 * 1000
)

// CPUSource reports which logical CPU the calling goroutine is bound to, so
// the allocator can pick the matching per-CPU cache. internal/runtime.Runtime
// satisfies this.
type CPUSource interface {
	GetCurrentLogicalCPU() int
}

// Pool is a fixed-capacity object allocator for *T. Exactly one entity (the
// polling task) is expected to call Free; any number of entities may call
// Alloc concurrently, each pulling from its own logical CPU's cache.
type Pool[T any] struct {
	cpus     CPUSource
	ncaches  int
	capacity int

	caches []cache[T]

	central  *spsc.Queue[*T]
	consumer sync.Mutex

	observer metrics.Observer
}

type cache[T any] struct {
	mu    sync.Mutex
	items []*T
}

// New returns a Pool of the given capacity, pre-populated with freshly
// allocated *T values, with one cache per logical CPU cpus reports.
func New[T any](capacity int, ncpus int, cpus CPUSource, observer metrics.Observer) *Pool[T] {
	if observer == nil {
		observer = metrics.NoOpObserver{}
	}
	p := &Pool[T]{
		cpus:     cpus,
		ncaches:  ncpus,
		capacity: capacity,
		caches:   make([]cache[T], ncpus),
		central:  spsc.New[*T](capacity),
		observer: observer,
	}
	for i := 0; i < capacity; i++ {
		p.central.Push(new(T))
	}
	return p
}

// Alloc returns an object from the calling logical CPU's cache, refilling it
// in one batch from the central free list if empty. It panics if the central
// free list is exhausted: the pool's capacity is meant to be large enough
// that this never happens in practice, so starvation means the admission
// controller was overrun.
func (p *Pool[T]) Alloc() *T {
	cpu := p.cpus.GetCurrentLogicalCPU()
	if cpu < 0 || cpu >= p.ncaches {
		cpu = 0
	}
	c := &p.caches[cpu]

	c.mu.Lock()
	if len(c.items) > 0 {
		obj := c.items[len(c.items)-1]
		c.items = c.items[:len(c.items)-1]
		c.mu.Unlock()
		return obj
	}
	c.mu.Unlock()

	batch := make([]*T, BatchSize)
	p.consumer.Lock()
	n := p.central.PopN(batch)
	p.consumer.Unlock()

	if n == 0 {
		panic(fmt.Sprintf("allocator: exhausted pool of capacity %d", p.capacity))
	}
	p.observer.ObserveAllocatorRefill()

	obj := batch[0]
	if n > 1 {
		c.mu.Lock()
		c.items = append(c.items, batch[1:n]...)
		c.mu.Unlock()
	}
	return obj
}

// Free returns objects to the central free list. It must only be called by
// the single entity responsible for reclaiming this pool's objects (the
// polling task); the central queue's producer side is single-threaded.
func (p *Pool[T]) Free(objects []*T) {
	if len(objects) == 0 {
		return
	}
	pushed := p.central.PushN(objects)
	if pushed != len(objects) {
		panic("allocator: central free list overflow on Free")
	}
}

// LocalFree returns objects directly to the calling logical CPU's cache,
// skipping the central free list, for callers that free what they just
// allocated on the same CPU.
func (p *Pool[T]) LocalFree(objects []*T) {
	if len(objects) == 0 {
		return
	}
	cpu := p.cpus.GetCurrentLogicalCPU()
	if cpu < 0 || cpu >= p.ncaches {
		cpu = 0
	}
	c := &p.caches[cpu]
	c.mu.Lock()
	c.items = append(c.items, objects...)
	c.mu.Unlock()
}
