package resource

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sync"
)

// Ref is an opaque, dense handle into a Pool. The zero value is a valid
// slot index; use InvalidRef for "no resource".
type Ref uint32

// InvalidRef marks an absent resource.
const InvalidRef Ref = math.MaxUint32

// Valid reports whether r is not InvalidRef.
func (r Ref) Valid() bool { return r != InvalidRef }

// ErrStaleRef is returned when a ref does not name a live object.
var ErrStaleRef = errors.New("resource: stale or unknown ref")

// Pool is an arena of values with a free list. Freed slots are handed out
// again lowest index first, so refs stay dense. Growing the arena never
// invalidates a live ref.
//
// Pool is safe for concurrent use.
type Pool[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	free  freeList
	live  int
}

type slot[T any] struct {
	value T
	live  bool
}

// NewPool creates an empty pool.
func NewPool[T any]() *Pool[T] {
	return &Pool[T]{}
}

// Insert stores v and returns its ref.
func (p *Pool[T]) Insert(v T) Ref {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.live++
	if p.free.Len() > 0 {
		ref := heap.Pop(&p.free).(Ref)
		p.slots[ref] = slot[T]{value: v, live: true}
		return ref
	}
	p.slots = append(p.slots, slot[T]{value: v, live: true})
	return Ref(len(p.slots) - 1) //nolint:gosec // slot count is far below MaxUint32
}

// Get returns the value stored at ref. It panics if ref is not live:
// using a ref after destroying it is a programming error.
func (p *Pool[T]) Get(ref Ref) T {
	v, ok := p.Lookup(ref)
	if !ok {
		panic(fmt.Sprintf("resource: get of stale or unknown ref %d", ref))
	}
	return v
}

// Lookup returns the value stored at ref and whether the slot is live.
func (p *Pool[T]) Lookup(ref Ref) (T, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if int(ref) >= len(p.slots) || !p.slots[ref].live {
		var zero T
		return zero, false
	}
	return p.slots[ref].value, true
}

// Remove frees the slot at ref and returns the value it held.
func (p *Pool[T]) Remove(ref Ref) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	if int(ref) >= len(p.slots) || !p.slots[ref].live {
		return zero, false
	}
	v := p.slots[ref].value
	p.slots[ref] = slot[T]{}
	heap.Push(&p.free, ref)
	p.live--
	return v, true
}

// Len returns the number of live values.
func (p *Pool[T]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.live
}

// Refs returns the refs of all live values in ascending order.
func (p *Pool[T]) Refs() []Ref {
	p.mu.RLock()
	defer p.mu.RUnlock()

	refs := make([]Ref, 0, p.live)
	for i := range p.slots {
		if p.slots[i].live {
			refs = append(refs, Ref(i)) //nolint:gosec // bounded by slot count
		}
	}
	return refs
}

// freeList is a min-heap of free slot indices.
type freeList []Ref

func (f freeList) Len() int           { return len(f) }
func (f freeList) Less(i, j int) bool { return f[i] < f[j] }
func (f freeList) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }
func (f *freeList) Push(x any)        { *f = append(*f, x.(Ref)) }
func (f *freeList) Pop() any {
	old := *f
	n := len(old)
	x := old[n-1]
	*f = old[:n-1]
	return x
}
