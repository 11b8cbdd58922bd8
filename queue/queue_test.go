package queue_test

import (
	"testing"

	"code.hybscloud.com/wpool/queue"
)

func TestFIFOOrder(t *testing.T) {
	q := queue.NewFIFO[int](2)

	for i := range 5 {
		q.Push(i)
	}

	if got, want := q.Size(), 5; got != want {
		t.Fatalf("Size(): got %d, want %d", got, want)
	}

	for i := range 5 {
		v, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop(%d): got ok=false", i)
		}
		if v != i {
			t.Fatalf("Pop(%d): got %d, want %d", i, v, i)
		}
	}

	if _, ok := q.Pop(); ok {
		t.Fatalf("Pop on empty: got ok=true, want false")
	}
}

func TestFIFOGrowPreservesOrder(t *testing.T) {
	q := queue.NewFIFO[int](2)

	// push past initial capacity with interleaved pops, to exercise wrap
	// and grow together
	q.Push(1)
	q.Push(2)
	v, _ := q.Pop()
	if v != 1 {
		t.Fatalf("Pop: got %d, want 1", v)
	}
	q.Push(3)
	q.Push(4)
	q.Push(5) // forces grow with head != 0

	var got []int
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}

	want := []int{2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Pop sequence: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Pop sequence: got %v, want %v", got, want)
		}
	}
}

func TestLIFOOrder(t *testing.T) {
	q := queue.NewLIFO[int](4)

	for i := range 5 {
		q.Push(i)
	}

	for i := 4; i >= 0; i-- {
		v, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop: got ok=false")
		}
		if v != i {
			t.Fatalf("Pop: got %d, want %d", v, i)
		}
	}
}

func TestPriorityOrderAndTies(t *testing.T) {
	type task struct {
		id       int
		priority int16
	}

	q := queue.NewPriority(func(t task) int16 { return t.priority })

	q.Push(task{id: 1, priority: 5})
	q.Push(task{id: 2, priority: 10})
	q.Push(task{id: 3, priority: 10}) // tie with id 2, inserted after
	q.Push(task{id: 4, priority: 1})

	wantOrder := []int{2, 3, 1, 4}
	for i, want := range wantOrder {
		v, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop(%d): got ok=false", i)
		}
		if v.id != want {
			t.Fatalf("Pop(%d): got task %d, want task %d", i, v.id, want)
		}
	}
}

func TestQueueContainsAndClear(t *testing.T) {
	q := queue.NewFIFO[string](4)
	q.Push("a")
	q.Push("b")

	if !q.Contains(func(s string) bool { return s == "b" }) {
		t.Fatalf("Contains(b): got false, want true")
	}
	if q.Contains(func(s string) bool { return s == "z" }) {
		t.Fatalf("Contains(z): got true, want false")
	}

	q.Clear()
	if q.Size() != 0 {
		t.Fatalf("Size after Clear: got %d, want 0", q.Size())
	}
	if _, ok := q.Peek(); ok {
		t.Fatalf("Peek after Clear: got ok=true, want false")
	}
}

func TestFIFOAllIterationOrder(t *testing.T) {
	q := queue.NewFIFO[int](4)
	for i := range 4 {
		q.Push(i)
	}
	q.Pop() // head advances past 0

	var got []int
	for v := range q.All() {
		got = append(got, v)
	}

	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("All(): got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("All(): got %v, want %v", got, want)
		}
	}
}
