// Package queue implements the scheduler's alternative ordering disciplines
// (spec.md §4.3): FIFO, LIFO, and Priority, sharing one Queue contract so the
// pool coordinator can swap disciplines without touching call sites.
//
// These sit above package ring: ring buffers are the lock-free, fixed-
// capacity, multi-goroutine dispatch path; queue's implementations are
// single-owner, growable, and back the coordinator's shared pending list
// when it is configured for LIFO or priority order. Package steal's
// per-worker deques keep their own buffer and do not use this package.
package queue

import "iter"

// Queue is the contract every ordering discipline implements (spec.md
// §4.3): push, pop, peek, size, contains, clear, and iteration in dispatch
// order.
type Queue[T any] interface {
	Push(item T)
	Pop() (T, bool)
	Peek() (T, bool)
	Size() int
	Contains(match func(T) bool) bool
	Clear()
	All() iter.Seq[T]
}
