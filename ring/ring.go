// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ring implements the scheduler's lock-free ring buffer (spec.md
// §3 "Queue entry"/"Ring buffer", §4.1 "Ring buffer (SPMC/MPMC)").
//
// A queue entry is a packed uint64: the high 32 bits carry the task's
// priority, the low 32 bits carry its slot index plus one (zero is the
// empty sentinel, so a legitimate slot index of zero is never confused
// with an unpublished entry). Ring is the MPMC backing store the
// coordinator publishes entries into and dequeues from; IndexFreeList is
// the companion MPMC queue of bare slot indices the arena's free list
// runs on.
//
// Both types are built on the same FAA-based SCQ algorithm (Nikolaev,
// DISC 2019): producers and consumers blindly advance tail/head with
// Fetch-And-Add, and a per-physical-slot cycle counter distinguishes a
// freshly published entry from a stale one without ever reusing an index
// ambiguously — the same ABA-safety spec.md asks the MPMC ring buffer's
// per-slot sequence numbers for, expressed the way this codebase already
// proved it out.
package ring

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// pad is cache line padding to prevent false sharing between the
// producer and consumer indexes.
type pad [64]byte

// roundToPow2 rounds n up to the next power of 2.
func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

const emptyEntry = 0

// packEntry encodes a queue entry per spec.md §3: high 32 bits priority,
// low 32 bits slot index + 1.
func packEntry(slotIndex uint32, priority uint32) uint64 {
	return uint64(priority)<<32 | uint64(slotIndex)+1
}

// unpackEntry reverses packEntry. Callers must not call this on
// emptyEntry.
func unpackEntry(v uint64) (slotIndex uint32, priority uint32) {
	return uint32(v) - 1, uint32(v >> 32)
}

type entrySlot struct {
	cycle atomix.Uint64
	data  uint64
	_     [64 - 16]byte // pad to cache line
}

// Ring is the scheduler's default ready-task queue: a lock-free MPMC
// FIFO over packed (priority, slot index) entries (spec.md §4.1). Push
// publishes a reference to an already-allocated slot; Pop hands that
// reference to exactly one consumer. Ring never touches the slot arena
// itself — callers resolve the returned slot index through their own
// arena handle.
type Ring struct {
	_         pad
	tail      atomix.Uint64
	_         pad
	head      atomix.Uint64
	_         pad
	threshold atomix.Int64
	_         pad
	draining  atomix.Bool
	_         pad
	buffer    []entrySlot
	capacity  uint64
	size      uint64
	mask      uint64
}

// NewRing creates a ring sized for capacity entries, rounded up to the
// next power of two. Physical storage is 2*capacity slots, the SCQ
// algorithm's requirement for cycle-based ABA safety.
func NewRing(capacity int) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	n := uint64(roundToPow2(capacity))
	size := n * 2

	r := &Ring{
		buffer:   make([]entrySlot, size),
		capacity: n,
		size:     size,
		mask:     size - 1,
	}
	r.threshold.StoreRelaxed(3*int64(n) - 1)
	for i := uint64(0); i < size; i++ {
		r.buffer[i].cycle.StoreRelaxed(i / n)
	}
	return r
}

// Push publishes slotIndex and priority as a queue entry. It reports
// false when the ring is at capacity (spec.md §4.1 "fails with Full");
// the caller is expected to already hold the only reference to
// slotIndex, so a failed Push never needs to be retried against the
// slot the caller picked.
func (r *Ring) Push(slotIndex uint32, priority uint32) bool {
	entry := packEntry(slotIndex, priority)
	sw := spin.Wait{}
	for {
		tail := r.tail.LoadAcquire()
		head := r.head.LoadAcquire()
		if tail >= head+r.capacity {
			return false
		}

		myTail := r.tail.AddAcqRel(1) - 1
		slot := &r.buffer[myTail&r.mask]
		expectedCycle := myTail / r.capacity
		slotCycle := slot.cycle.LoadAcquire()

		if slotCycle == expectedCycle {
			slot.data = entry
			slot.cycle.StoreRelease(expectedCycle + 1)
			r.threshold.StoreRelaxed(3*int64(r.capacity) - 1)
			return true
		}
		if int64(slotCycle) < int64(expectedCycle) {
			return false
		}
		sw.Once()
	}
}

// Pop dequeues the oldest published entry. ok is false when the ring is
// empty (spec.md §4.1 "returns Empty"); a bounded internal retry budget
// (the SCQ threshold) prevents livelock under a producer/consumer race
// without ever spinning indefinitely.
func (r *Ring) Pop() (slotIndex uint32, priority uint32, ok bool) {
	if !r.draining.LoadAcquire() && r.threshold.LoadRelaxed() < 0 {
		return 0, 0, false
	}

	sw := spin.Wait{}
	for {
		myHead := r.head.AddAcqRel(1) - 1
		slot := &r.buffer[myHead&r.mask]
		expectedCycle := myHead/r.capacity + 1
		slotCycle := slot.cycle.LoadAcquire()

		if slotCycle == expectedCycle {
			entry := slot.data
			slot.data = emptyEntry
			nextEnqCycle := (myHead + r.size) / r.capacity
			slot.cycle.StoreRelease(nextEnqCycle)
			idx, pr := unpackEntry(entry)
			return idx, pr, true
		}
		if int64(slotCycle) < int64(expectedCycle) {
			nextEnqCycle := (myHead + r.size) / r.capacity
			slot.cycle.CompareAndSwapAcqRel(slotCycle, nextEnqCycle)

			tail := r.tail.LoadAcquire()
			if tail <= myHead+1 {
				r.catchup(tail, myHead+1)
				r.threshold.AddAcqRel(-1)
				return 0, 0, false
			}
			if r.threshold.AddAcqRel(-1) <= 0 && !r.draining.LoadAcquire() {
				return 0, 0, false
			}
		}
		sw.Once()
	}
}

func (r *Ring) catchup(tail, head uint64) {
	for tail < head {
		if r.tail.CompareAndSwapRelaxed(tail, head) {
			break
		}
		tail = r.tail.LoadRelaxed()
		head = r.head.LoadRelaxed()
	}
}

// Drain signals that no more Push calls will occur, letting Pop ignore
// the livelock threshold and drain whatever remains.
func (r *Ring) Drain() {
	r.draining.StoreRelease(true)
}

// Cap returns the ring's usable capacity (entries, not physical slots).
func (r *Ring) Cap() int {
	return int(r.capacity)
}

// Size is an approximate, single-load observation of entry count
// (spec.md §4.1 "approximate, single-load"). It can read stale under
// concurrent Push/Pop.
func (r *Ring) Size() int {
	tail := r.tail.LoadAcquire()
	head := r.head.LoadAcquire()
	if tail <= head {
		return 0
	}
	n := tail - head
	if n > r.capacity {
		n = r.capacity
	}
	return int(n)
}

// IsEmpty is an approximate observation equivalent to Size() == 0.
func (r *Ring) IsEmpty() bool {
	return r.Size() == 0
}

// IsFull is an approximate observation equivalent to Size() == Cap().
func (r *Ring) IsFull() bool {
	return r.Size() >= int(r.capacity)
}

// Contains reports whether slotIndex currently appears in a published
// entry. It is O(capacity) and intended for diagnostics only (spec.md
// §4.1 "O(n) and rarely used").
func (r *Ring) Contains(slotIndex uint32) bool {
	for i := range r.buffer {
		data := r.buffer[i].data
		if data == emptyEntry {
			continue
		}
		idx, _ := unpackEntry(data)
		if idx == slotIndex {
			return true
		}
	}
	return false
}

// IndexFreeList is an MPMC FAA-based queue of bare uintptr slot indices,
// the same SCQ algorithm as Ring specialized for the arena's free list
// (spec.md §4.2): Allocate dequeues a free index, Release enqueues one
// back once a slot's refcount drops to zero.
type IndexFreeList struct {
	_         pad
	tail      atomix.Uint64
	_         pad
	head      atomix.Uint64
	_         pad
	threshold atomix.Int64
	_         pad
	buffer    []indexSlot
	capacity  uint64
	size      uint64
	mask      uint64
}

type indexSlot struct {
	cycle atomix.Uint64
	data  uint64
	_     [64 - 16]byte
}

// NewIndexFreeList creates a free list sized for capacity indices,
// rounded up to the next power of two, seeded with every index in
// [0, capacity).
func NewIndexFreeList(capacity int) *IndexFreeList {
	if capacity < 2 {
		capacity = 2
	}
	n := uint64(roundToPow2(capacity))
	size := n * 2

	fl := &IndexFreeList{
		buffer:   make([]indexSlot, size),
		capacity: n,
		size:     size,
		mask:     size - 1,
	}
	fl.threshold.StoreRelaxed(3*int64(n) - 1)
	for i := uint64(0); i < size; i++ {
		fl.buffer[i].cycle.StoreRelaxed(i / n)
	}
	for i := uint64(0); i < n; i++ {
		_ = fl.Enqueue(uintptr(i)) // n free slots, cannot fail
	}
	return fl
}

// Enqueue returns index to the free list.
func (fl *IndexFreeList) Enqueue(index uintptr) error {
	sw := spin.Wait{}
	for {
		tail := fl.tail.LoadAcquire()
		head := fl.head.LoadAcquire()
		if tail >= head+fl.capacity {
			return ErrWouldBlock
		}

		myTail := fl.tail.AddAcqRel(1) - 1
		slot := &fl.buffer[myTail&fl.mask]
		expectedCycle := myTail / fl.capacity
		slotCycle := slot.cycle.LoadAcquire()

		if slotCycle == expectedCycle {
			slot.data = uint64(index) + 1
			slot.cycle.StoreRelease(expectedCycle + 1)
			fl.threshold.StoreRelaxed(3*int64(fl.capacity) - 1)
			return nil
		}
		if int64(slotCycle) < int64(expectedCycle) {
			return ErrWouldBlock
		}
		sw.Once()
	}
}

// Dequeue removes and returns a free index.
func (fl *IndexFreeList) Dequeue() (uintptr, error) {
	if fl.threshold.LoadRelaxed() < 0 {
		return 0, ErrWouldBlock
	}

	sw := spin.Wait{}
	for {
		myHead := fl.head.AddAcqRel(1) - 1
		slot := &fl.buffer[myHead&fl.mask]
		expectedCycle := myHead/fl.capacity + 1
		slotCycle := slot.cycle.LoadAcquire()

		if slotCycle == expectedCycle {
			index := slot.data - 1
			slot.data = 0
			nextEnqCycle := (myHead + fl.size) / fl.capacity
			slot.cycle.StoreRelease(nextEnqCycle)
			return uintptr(index), nil
		}
		if int64(slotCycle) < int64(expectedCycle) {
			nextEnqCycle := (myHead + fl.size) / fl.capacity
			slot.cycle.CompareAndSwapAcqRel(slotCycle, nextEnqCycle)

			tail := fl.tail.LoadAcquire()
			if tail <= myHead+1 {
				fl.catchup(tail, myHead+1)
				fl.threshold.AddAcqRel(-1)
				return 0, ErrWouldBlock
			}
			if fl.threshold.AddAcqRel(-1) <= 0 {
				return 0, ErrWouldBlock
			}
		}
		sw.Once()
	}
}

func (fl *IndexFreeList) catchup(tail, head uint64) {
	for tail < head {
		if fl.tail.CompareAndSwapRelaxed(tail, head) {
			break
		}
		tail = fl.tail.LoadRelaxed()
		head = fl.head.LoadRelaxed()
	}
}

// Cap returns the free list's usable capacity.
func (fl *IndexFreeList) Cap() int {
	return int(fl.capacity)
}
