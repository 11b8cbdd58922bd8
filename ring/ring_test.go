// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

import (
	"sync"
	"testing"
)

func TestRingPushPopFIFOOrder(t *testing.T) {
	r := NewRing(8)
	for i := uint32(0); i < 5; i++ {
		if !r.Push(i, i+100) {
			t.Fatalf("push %d: want ok", i)
		}
	}
	for want := uint32(0); want < 5; want++ {
		idx, pr, ok := r.Pop()
		if !ok {
			t.Fatalf("pop %d: want ok", want)
		}
		if idx != want || pr != want+100 {
			t.Fatalf("pop %d: got slot=%d priority=%d", want, idx, pr)
		}
	}
	if _, _, ok := r.Pop(); ok {
		t.Fatal("pop on drained ring: want Empty")
	}
}

func TestRingSlotIndexZeroNotConfusedWithEmpty(t *testing.T) {
	r := NewRing(4)
	if !r.Push(0, 7) {
		t.Fatal("push slot 0: want ok")
	}
	idx, pr, ok := r.Pop()
	if !ok || idx != 0 || pr != 7 {
		t.Fatalf("pop: got slot=%d priority=%d ok=%v, want slot=0 priority=7 ok=true", idx, pr, ok)
	}
}

func TestRingRespectsCapacity(t *testing.T) {
	r := NewRing(4) // rounds to 4
	for i := uint32(0); i < 4; i++ {
		if !r.Push(i, 0) {
			t.Fatalf("push %d: want ok within capacity", i)
		}
	}
	if r.Push(99, 0) {
		t.Fatal("push beyond capacity: want Full")
	}
	if !r.IsFull() {
		t.Fatal("IsFull: want true at capacity")
	}
	if _, _, ok := r.Pop(); !ok {
		t.Fatal("pop after full: want an entry to drain")
	}
	if !r.Push(99, 0) {
		t.Fatal("push after drain: want ok, one slot freed")
	}
}

func TestRingContains(t *testing.T) {
	r := NewRing(8)
	r.Push(3, 1)
	r.Push(5, 2)
	if !r.Contains(3) || !r.Contains(5) {
		t.Fatal("Contains: want both published slots found")
	}
	if r.Contains(9) {
		t.Fatal("Contains: want absent slot not found")
	}
	r.Pop()
	r.Pop()
	if r.Contains(3) || r.Contains(5) {
		t.Fatal("Contains: want nothing found after draining")
	}
}

func TestRingSizeIsEmpty(t *testing.T) {
	r := NewRing(8)
	if !r.IsEmpty() || r.Size() != 0 {
		t.Fatal("new ring: want empty")
	}
	r.Push(1, 0)
	r.Push(2, 0)
	if r.IsEmpty() || r.Size() != 2 {
		t.Fatalf("after two pushes: got size=%d empty=%v", r.Size(), r.IsEmpty())
	}
}

// TestRingConcurrentMPMC runs several producers and consumers against one
// ring and checks every published slot index is delivered to exactly one
// consumer, matching spec.md §4.1's "consumed by exactly one dequeuer".
func TestRingConcurrentMPMC(t *testing.T) {
	const perProducer = 2000
	const producers = 4
	const consumers = 4
	total := perProducer * producers

	r := NewRing(256)
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				slotIndex := uint32(p*perProducer + i)
				for !r.Push(slotIndex, uint32(i%8)) {
					// ring momentarily full; consumers are draining concurrently.
				}
			}
		}(p)
	}

	seen := make([]int32, total)
	var seenMu sync.Mutex
	var consumed int
	var consumedMu sync.Mutex
	done := make(chan struct{})

	var cwg sync.WaitGroup
	cwg.Add(consumers)
	for c := 0; c < consumers; c++ {
		go func() {
			defer cwg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				idx, _, ok := r.Pop()
				if !ok {
					continue
				}
				seenMu.Lock()
				seen[idx]++
				seenMu.Unlock()
				consumedMu.Lock()
				consumed++
				n := consumed
				consumedMu.Unlock()
				if n >= total {
					close(done)
					return
				}
			}
		}()
	}

	wg.Wait()
	cwg.Wait()

	for i, n := range seen {
		if n != 1 {
			t.Fatalf("slot %d delivered %d times, want exactly 1", i, n)
		}
	}
}

func TestIndexFreeListRoundTrip(t *testing.T) {
	fl := NewIndexFreeList(4)
	seen := map[uintptr]bool{}
	for i := 0; i < fl.Cap(); i++ {
		idx, err := fl.Dequeue()
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if seen[idx] {
			t.Fatalf("index %d dequeued twice", idx)
		}
		seen[idx] = true
	}
	if _, err := fl.Dequeue(); err == nil {
		t.Fatal("dequeue past capacity: want ErrWouldBlock")
	}
	for idx := range seen {
		if err := fl.Enqueue(idx); err != nil {
			t.Fatalf("enqueue %d: %v", idx, err)
		}
	}
	if _, err := fl.Dequeue(); err != nil {
		t.Fatal("dequeue after refill: want an index back")
	}
}

func TestIndexFreeListExhaustionIsWouldBlock(t *testing.T) {
	fl := NewIndexFreeList(2)
	for i := 0; i < fl.Cap(); i++ {
		if _, err := fl.Dequeue(); err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
	}
	_, err := fl.Dequeue()
	if !IsWouldBlock(err) {
		t.Fatalf("want IsWouldBlock(err) true, got %v", err)
	}
}
