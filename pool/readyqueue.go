package pool

import (
	"hash/fnv"

	"code.hybscloud.com/wpool/queue"
	"code.hybscloud.com/wpool/ring"
	"code.hybscloud.com/wpool/slot"
)

// pendingQueue is the minimal contract the coordinator needs from its
// shared backlog. It is satisfied by queueAdapter (LIFO/Priority
// strategies, wrapping package queue's single-owner disciplines) and by
// ringQueue (the default FIFO strategy, backed by the lock-free ring
// buffer over the slot arena, spec.md §4.1/§4.2).
type pendingQueue interface {
	Push(item *taskItem) bool
	Pop() (*taskItem, bool)
	Size() int
}

// queueAdapter satisfies pendingQueue over queue.Queue[*taskItem]. Its
// backing disciplines grow rather than fail, so Push always reports ok.
type queueAdapter struct {
	q queue.Queue[*taskItem]
}

func (a queueAdapter) Push(item *taskItem) bool { a.q.Push(item); return true }
func (a queueAdapter) Pop() (*taskItem, bool)   { return a.q.Pop() }
func (a queueAdapter) Size() int                { return a.q.Size() }

// ringQueue is the coordinator's default FIFO backlog. Entries live in a
// ring.Ring as packed (priority, slot index) values; the full *taskItem
// is recovered from the pool's own pending bookkeeping by the task id
// stamped into the slot at allocation (spec.md §4.9 "allocate a task
// id... route").
//
// A slot's refcount (package slot) carries two independent references
// while an item sits in the ring: the bookkeeping reference Submit
// established at Allocate, and the one Push pins on top of it. Pop
// drops the ring's reference the moment it dequeues the entry;
// resolvePending drops the bookkeeping reference whenever the task
// actually finishes. Whichever happens second returns the slot to the
// free list — so a task cancelled while still queued doesn't free its
// slot out from under a stale entry the ring hasn't dequeued yet.
type ringQueue struct {
	r     *ring.Ring
	arena *slot.Arena
	pool  *Pool
}

func newRingQueue(capacity int, arena *slot.Arena, p *Pool) *ringQueue {
	return &ringQueue{r: ring.NewRing(capacity), arena: arena, pool: p}
}

func (q *ringQueue) Push(item *taskItem) bool {
	q.arena.Pin(item.slotIndex)
	if q.r.Push(item.slotIndex, uint32(uint16(item.priority))) {
		return true
	}
	q.arena.Release(item.slotIndex) // undo the Pin; ring was at capacity
	return false
}

func (q *ringQueue) Pop() (*taskItem, bool) {
	for {
		slotIdx, _, ok := q.r.Pop()
		if !ok {
			return nil, false
		}
		taskID := q.arena.Slot(slotIdx).TaskID
		q.arena.Release(slotIdx)

		q.pool.pendingMu.Lock()
		entry, ok := q.pool.pending[taskID]
		q.pool.pendingMu.Unlock()
		if !ok {
			continue // resolved (cancel/timeout) while still queued; try the next entry
		}
		return entry.item, true
	}
}

func (q *ringQueue) Size() int { return q.r.Size() }

// methodID derives a stable identifier for a slot's MethodID field
// (spec.md §3 Slot "registered method id") from a task's method name.
func methodID(method string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(method))
	return h.Sum32()
}
