// Package slot implements the scheduler's shared slot arena and allocator
// (spec.md §3 "Slot", §4.2 "Task-slot allocator").
//
// A Slot is a 64-byte fixed-width record reached by a 32-bit index rather
// than a pointer, so the arena can be indexed from any goroutine without
// pinning Go values across the executor boundary. The free list that hands
// out indices is a [code.hybscloud.com/wpool/ring.IndexFreeList]: ring
// already implements the exact ABA-safe FAA/cycle protocol spec.md's
// Treiber-style free list calls for (generation-tagged indices), so the
// allocator delegates to it rather than re-implementing a tagged-pointer
// stack by hand.
package slot

import (
	"sync/atomic"
)

// State is a Slot's lifecycle state.
type State uint32

const (
	StateFree State = iota
	StateAllocated
)

// Slot is the spec's 64-byte fixed-width arena record. Fields are ordered
// widest-first so the struct has no compiler-inserted padding ahead of the
// trailing pad array, keeping the record exactly one cache line.
type Slot struct {
	TaskID    uint64        // stable task id, valid only while State==StateAllocated
	Timestamp int64         // unix nanos at allocation
	state     atomic.Uint32 // State, transitioned by the allocator only
	MethodID  uint32        // registered method id; 0 for inline/closure bodies
	Priority  int32         // mirrors Task.Priority at allocation time
	refcount  atomic.Uint32 // returned to the free list when this reaches 0
	_         [32]byte      // pad to 64 bytes
}

// State returns the slot's current lifecycle state.
func (s *Slot) State() State {
	return State(s.state.Load())
}

// Arena is the shared slot arena: a fixed array of Slot records plus a
// lock-free free list of indices (spec.md §4.2).
//
// Allocate/Free are safe for concurrent use from any number of goroutines;
// this is what lets any caller submit a task (Allocate) while any executor
// goroutine completes one (Free), matching the coordinator's single-writer
// bookkeeping model only for the dispatch loop, not for slot lifecycle.
type Arena struct {
	slots    []Slot
	freeList freeList
}

// freeList is the contract Arena needs from its backing ring queue; it is
// satisfied by ring.IndexFreeList.
type freeList interface {
	Enqueue(elem uintptr) error
	Dequeue() (uintptr, error)
	Cap() int
}

// NewArena creates an arena with capacity slots (rounded up to a power of
// two by the backing free list) and enqueues every index into the free
// list. A free list that already holds all of its indices, as a new
// ring.IndexFreeList does, rejects these enqueues and is used as is.
func NewArena(capacity int, fl freeList) *Arena {
	a := &Arena{
		slots:    make([]Slot, fl.Cap()),
		freeList: fl,
	}
	for i := range a.slots {
		_ = fl.Enqueue(uintptr(i)) // fails only when fl is already full
	}
	return a
}

// Cap returns the arena's slot count.
func (a *Arena) Cap() int {
	return len(a.slots)
}

// Allocate reserves a free slot for taskID, stamping priority/methodID and
// an initial refcount of 1. Returns ok=false when the arena is exhausted;
// the coordinator surfaces this as ErrQueueFull (spec.md §4.2).
func (a *Arena) Allocate(taskID uint64, priority int32, methodID uint32, nowUnixNano int64) (index uint32, ok bool) {
	idx, err := a.freeList.Dequeue()
	if err != nil {
		return 0, false
	}
	s := &a.slots[idx]
	s.TaskID = taskID
	s.Timestamp = nowUnixNano
	s.MethodID = methodID
	s.Priority = priority
	s.refcount.Store(1)
	s.state.Store(uint32(StateAllocated))
	return uint32(idx), true
}

// Slot returns the slot record at index. The caller must only dereference
// fields while holding a reference acquired via Allocate/Pin.
func (a *Arena) Slot(index uint32) *Slot {
	return &a.slots[index]
}

// Pin increments a slot's refcount, used when more than one in-flight path
// (e.g. a timeout timer and the executor's reply) may race to finalize the
// same task; whichever decrements to zero returns the slot to the free list.
func (a *Arena) Pin(index uint32) {
	a.slots[index].refcount.Add(1)
}

// Release decrements a slot's refcount and, if it reaches zero, clears the
// slot and returns its index to the free list.
func (a *Arena) Release(index uint32) {
	s := &a.slots[index]
	if s.refcount.Add(^uint32(0)) != 0 { // Add(-1)
		return
	}
	s.state.Store(uint32(StateFree))
	s.TaskID = 0
	s.MethodID = 0
	s.Priority = 0
	s.Timestamp = 0
	_ = a.freeList.Enqueue(uintptr(index))
}
