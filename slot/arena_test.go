package slot_test

import (
	"testing"
	"time"

	"code.hybscloud.com/wpool/ring"
	"code.hybscloud.com/wpool/slot"
)

func TestArenaAllocateRelease(t *testing.T) {
	a := slot.NewArena(4, ring.NewIndexFreeList(4))

	if got, want := a.Cap(), 4; got != want {
		t.Fatalf("Cap(): got %d, want %d", got, want)
	}

	now := time.Now().UnixNano()

	idx, ok := a.Allocate(42, 5, 7, now)
	if !ok {
		t.Fatalf("Allocate: got ok=false, want true")
	}

	s := a.Slot(idx)
	if s.TaskID != 42 {
		t.Fatalf("TaskID: got %d, want 42", s.TaskID)
	}
	if s.Priority != 5 {
		t.Fatalf("Priority: got %d, want 5", s.Priority)
	}
	if s.MethodID != 7 {
		t.Fatalf("MethodID: got %d, want 7", s.MethodID)
	}
	if s.State() != slot.StateAllocated {
		t.Fatalf("State: got %v, want StateAllocated", s.State())
	}

	a.Release(idx)

	if s.State() != slot.StateFree {
		t.Fatalf("State after release: got %v, want StateFree", s.State())
	}
	if s.TaskID != 0 {
		t.Fatalf("TaskID after release: got %d, want 0", s.TaskID)
	}
}

func TestArenaExhaustion(t *testing.T) {
	a := slot.NewArena(2, ring.NewIndexFreeList(2))

	now := time.Now().UnixNano()

	if _, ok := a.Allocate(1, 0, 0, now); !ok {
		t.Fatalf("Allocate(1): got ok=false, want true")
	}
	if _, ok := a.Allocate(2, 0, 0, now); !ok {
		t.Fatalf("Allocate(2): got ok=false, want true")
	}

	if _, ok := a.Allocate(3, 0, 0, now); ok {
		t.Fatalf("Allocate(3) on exhausted arena: got ok=true, want false")
	}
}

func TestArenaRefcountPin(t *testing.T) {
	a := slot.NewArena(1, ring.NewIndexFreeList(1))

	idx, ok := a.Allocate(1, 0, 0, time.Now().UnixNano())
	if !ok {
		t.Fatalf("Allocate: got ok=false, want true")
	}

	a.Pin(idx) // refcount now 2: simulates a timeout racing the executor reply

	a.Release(idx) // one of the two releases
	if a.Slot(idx).State() != slot.StateAllocated {
		t.Fatalf("State after first release: got %v, want still StateAllocated", a.Slot(idx).State())
	}

	a.Release(idx) // second release drops refcount to 0
	if a.Slot(idx).State() != slot.StateFree {
		t.Fatalf("State after second release: got %v, want StateFree", a.Slot(idx).State())
	}

	// slot must be reusable now
	if _, ok := a.Allocate(2, 0, 0, time.Now().UnixNano()); !ok {
		t.Fatalf("Allocate after full release: got ok=false, want true")
	}
}
