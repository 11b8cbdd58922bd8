// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ring provides the scheduler's two bounded lock-free FIFO
// buffers, both built on the same FAA-based SCQ core (see ring.go):
//
//   - Ring carries packed (priority, slot index) entries published by
//     the task-slot allocator and dequeued by the dispatch coordinator.
//   - IndexFreeList carries bare slot indices; the allocator's free list
//     runs on it directly.
//
// Both are safe for any number of concurrent producers and consumers.
package ring
