package affinity

import "time"

// DefaultOverloadCeiling is the affinity_load value above which a
// candidate is considered significantly overloaded for confidence
// scoring purposes.
const DefaultOverloadCeiling = 100

// Decision is the affinity router's answer for a key (spec.md §4.6:
// "Router returns {executor_id, confidence ∈ [0,1]}").
type Decision struct {
	ExecutorID string
	Confidence float64
	StickyHit  bool
}

// LoadFunc reports an executor's current affinity load, used only to
// compute confidence on a fresh ring lookup.
type LoadFunc func(executorID string) int32

// Router binds a consistent-hash Ring to a sticky map and a confidence
// function (spec.md §4.6).
type Router struct {
	ring            *Ring
	sticky          *stickyMap
	load            LoadFunc
	overloadCeiling int32
}

// NewRouter creates a router. load may be nil, in which case confidence
// on a ring lookup is always the maximum 0.95 (no load signal available).
func NewRouter(virtualNodes int, ttl time.Duration, overloadCeiling int32, load LoadFunc) *Router {
	if overloadCeiling <= 0 {
		overloadCeiling = DefaultOverloadCeiling
	}
	return &Router{
		ring:            NewRing(virtualNodes),
		sticky:          newStickyMap(ttl),
		load:            load,
		overloadCeiling: overloadCeiling,
	}
}

// AddExecutor registers an executor's virtual nodes on the ring.
func (r *Router) AddExecutor(executorID string) {
	r.ring.Add(executorID)
}

// RemoveExecutor deletes executorID's ring entries and invalidates any
// sticky entry that maps to it (spec.md §4.6).
func (r *Router) RemoveExecutor(executorID string) {
	r.ring.Remove(executorID)
	r.sticky.invalidateExecutor(executorID)
}

// Route resolves key to an executor: a valid sticky entry short-circuits
// the ring lookup (spec.md §4.6), otherwise the ring is consulted and the
// result becomes the new sticky binding.
func (r *Router) Route(key string, now time.Time) (Decision, bool) {
	if id, ok := r.sticky.get(key, now); ok {
		return Decision{ExecutorID: id, Confidence: 1.0, StickyHit: true}, true
	}

	id, ok := r.ring.Lookup(key)
	if !ok {
		return Decision{}, false
	}
	r.sticky.set(key, id, now)
	return Decision{ExecutorID: id, Confidence: r.confidence(id), StickyHit: false}, true
}

// confidence implements the pinned formula: confidence = 1 - min(1,
// affinity_load/overloadCeiling)/2, clamped to [0.5, 0.95].
func (r *Router) confidence(executorID string) float64 {
	if r.load == nil {
		return 0.95
	}
	load := r.load(executorID)
	ratio := float64(load) / float64(r.overloadCeiling)
	if ratio > 1 {
		ratio = 1
	}
	c := 1 - ratio/2
	if c < 0.5 {
		c = 0.5
	}
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// PreferenceList returns up to n distinct executors for key, for
// caller-driven failover when the primary is unavailable.
func (r *Router) PreferenceList(key string, n int) []string {
	return r.ring.PreferenceList(key, n)
}

// Invalidate drops key's sticky binding on demand.
func (r *Router) Invalidate(key string) {
	r.sticky.invalidate(key)
}
