// Package heartbeat implements the pool's liveness probing (spec.md
// §4.8): a periodic request/response round trip per executor, a missed
// counter with a bounded threshold, and unresponsive/recovered
// transitions reported to the coordinator.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"code.hybscloud.com/wpool/executor"
	"code.hybscloud.com/wpool/wire"
)

// Defaults per spec.md §4.8.
const (
	DefaultInterval  = 5 * time.Second
	DefaultTimeout   = 3 * time.Second
	DefaultMaxMissed = 3
)

// Event is emitted when an executor's liveness status changes.
type Event struct {
	ExecutorID string
	Kind       string // "unresponsive" or "recovered"
}

// Sink receives heartbeat status-change events.
type Sink interface {
	Emit(Event)
}

// Callbacks let the coordinator react to liveness transitions: failing
// in-flight tasks and requesting a replacement worker belong to package
// pool, not here.
type Callbacks struct {
	// OnUnresponsive is called once when an executor crosses MaxMissed
	// consecutive misses.
	OnUnresponsive func(executorID string)
	// OnRecovered is called once when a previously unresponsive
	// executor answers again.
	OnRecovered func(executorID string)
}

// Config tunes the probe cadence and the unresponsive threshold.
type Config struct {
	Interval  time.Duration
	Timeout   time.Duration
	MaxMissed int32
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxMissed <= 0 {
		c.MaxMissed = DefaultMaxMissed
	}
}

// Monitor probes a set of executor handles on a fixed cadence.
type Monitor struct {
	cfg       Config
	sink      Sink
	callbacks Callbacks
	limiter   *rate.Limiter

	mu           sync.Mutex
	unresponsive map[string]bool
}

// New creates a monitor. cfg's zero fields fall back to spec defaults.
func New(cfg Config, sink Sink, callbacks Callbacks) *Monitor {
	cfg.setDefaults()
	return &Monitor{
		cfg:          cfg,
		sink:         sink,
		callbacks:    callbacks,
		limiter:      rate.NewLimiter(rate.Every(cfg.Interval), 1),
		unresponsive: make(map[string]bool),
	}
}

// CheckOne sends one heartbeat to h and blocks up to cfg.Timeout for the
// reply, updating h.Record's heartbeat bookkeeping and firing the
// unresponsive/recovered callbacks on a threshold crossing.
func (m *Monitor) CheckOne(ctx context.Context, h *executor.Handle, now time.Time) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req := wire.Header{Version: wire.Version, Type: wire.TypeHeartbeatReq}
	_, err := h.Ping(ctx, executor.Frame{Header: req})

	id := h.Record.ID
	if err != nil {
		h.Record.MissHeartbeat()
		if h.Record.MissedHeartbeats() >= m.cfg.MaxMissed {
			m.markUnresponsive(id)
		}
		return
	}

	h.Record.Heartbeat(now)
	m.markRecoveredIfNeeded(id)
}

func (m *Monitor) markUnresponsive(id string) {
	m.mu.Lock()
	already := m.unresponsive[id]
	m.unresponsive[id] = true
	m.mu.Unlock()

	if already {
		return
	}
	m.sink.Emit(Event{ExecutorID: id, Kind: "unresponsive"})
	if m.callbacks.OnUnresponsive != nil {
		m.callbacks.OnUnresponsive(id)
	}
}

func (m *Monitor) markRecoveredIfNeeded(id string) {
	m.mu.Lock()
	was := m.unresponsive[id]
	delete(m.unresponsive, id)
	m.mu.Unlock()

	if !was {
		return
	}
	m.sink.Emit(Event{ExecutorID: id, Kind: "recovered"})
	if m.callbacks.OnRecovered != nil {
		m.callbacks.OnRecovered(id)
	}
}

// IsUnresponsive reports whether id is currently marked unresponsive.
func (m *Monitor) IsUnresponsive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unresponsive[id]
}

// Run blocks, probing every handle in handles() at cfg.Interval until
// ctx is cancelled. handles is called fresh on each round so the
// coordinator can add/remove executors between probes. Cadence is
// gated by a rate.Limiter rather than a bare ticker so the same
// cooldown/rate-gating primitive the scaler uses for scale-up/down
// also drives the probe interval here.
func (m *Monitor) Run(ctx context.Context, handles func() []*executor.Handle) {
	for {
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}
		now := time.Now()
		for _, h := range handles() {
			m.CheckOne(ctx, h, now)
		}
	}
}
