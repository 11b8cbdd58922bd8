// Package affinity implements the pool's affinity router (spec.md §4.6):
// a consistent-hash ring over executors plus a sticky map that
// short-circuits the ring while an entry remains valid.
package affinity

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// DefaultVirtualNodes is the number of ring replicas per executor
// (spec.md §4.6, "default 150").
const DefaultVirtualNodes = 150

type vnode struct {
	hash       uint64
	executorID string
}

// Ring is a consistent-hash ring over a set of executor IDs.
type Ring struct {
	virtualNodes int
	nodes        []vnode // sorted by hash
}

// NewRing creates an empty ring with the given virtual-node replication
// factor (0 selects DefaultVirtualNodes).
func NewRing(virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &Ring{virtualNodes: virtualNodes}
}

func hashKey(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Add inserts executorID's virtual nodes into the ring.
func (r *Ring) Add(executorID string) {
	for i := range r.virtualNodes {
		h := hashKey(fmt.Sprintf("worker:%s:%d", executorID, i))
		r.nodes = append(r.nodes, vnode{hash: h, executorID: executorID})
	}
	sort.Slice(r.nodes, func(i, j int) bool { return r.nodes[i].hash < r.nodes[j].hash })
}

// Remove deletes all of executorID's virtual nodes from the ring
// (spec.md §4.6: "Removing an executor deletes all ring entries for it").
func (r *Ring) Remove(executorID string) {
	out := r.nodes[:0]
	for _, n := range r.nodes {
		if n.executorID != executorID {
			out = append(out, n)
		}
	}
	r.nodes = out
}

// Lookup hashes key, binary-searches for the first entry >= hash(key),
// wrapping if needed, and returns that executor.
func (r *Ring) Lookup(key string) (string, bool) {
	if len(r.nodes) == 0 {
		return "", false
	}
	h := hashKey(key)
	idx := sort.Search(len(r.nodes), func(i int) bool { return r.nodes[i].hash >= h })
	if idx == len(r.nodes) {
		idx = 0
	}
	return r.nodes[idx].executorID, true
}

// PreferenceList returns the next n distinct executors on the ring
// starting at key's lookup point, for failover (spec.md §4.6).
func (r *Ring) PreferenceList(key string, n int) []string {
	if len(r.nodes) == 0 || n <= 0 {
		return nil
	}
	h := hashKey(key)
	start := sort.Search(len(r.nodes), func(i int) bool { return r.nodes[i].hash >= h })
	if start == len(r.nodes) {
		start = 0
	}

	seen := make(map[string]bool, n)
	out := make([]string, 0, n)
	for i := 0; i < len(r.nodes) && len(out) < n; i++ {
		node := r.nodes[(start+i)%len(r.nodes)]
		if seen[node.executorID] {
			continue
		}
		seen[node.executorID] = true
		out = append(out, node.executorID)
	}
	return out
}

// IsEmpty reports whether the ring has no executors.
func (r *Ring) IsEmpty() bool {
	return len(r.nodes) == 0
}
