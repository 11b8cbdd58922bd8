// Package scaler implements the pool's adaptive grow/shrink loop
// (spec.md §4.7): a fixed-interval background evaluation of load ratio
// that spawns or terminates workers subject to bounds and a cooldown.
package scaler

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Defaults per spec.md §4.7.
const (
	DefaultInterval             = time.Second
	DefaultScaleUpThreshold     = 2.0
	DefaultScaleUpStep          = 1
	DefaultScaleDownStep        = 1
	DefaultCooldown             = 5 * time.Second
	DefaultScaleDownIdleTimeout = 30 * time.Second
)

// Event is emitted on the event channel on every scaling action
// (spec.md §4.7: "{kind, count, reason}").
type Event struct {
	Kind   string // "scale_up" or "scale_down"
	Count  int
	Reason string
}

// Sink receives scaling events.
type Sink interface {
	Emit(Event)
}

// IdleWorker describes a worker candidate for scale-down.
type IdleWorker struct {
	ID        string
	IdleSince time.Time
}

// LoadSource reports the pool's current load for the scaler to evaluate.
type LoadSource interface {
	Queued() int
	Active() int
	CurrentWorkers() int
	IdleWorkers() []IdleWorker
}

// Config bounds and tunes the scaler's decisions.
type Config struct {
	Interval             time.Duration
	ScaleUpThreshold     float64
	ScaleUpStep          int
	MaxWorkers           int
	MinWorkers           int
	ScaleDownStep        int
	ScaleDownIdleTimeout time.Duration
	Cooldown             time.Duration
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ScaleUpThreshold <= 0 {
		c.ScaleUpThreshold = DefaultScaleUpThreshold
	}
	if c.ScaleUpStep <= 0 {
		c.ScaleUpStep = DefaultScaleUpStep
	}
	if c.ScaleDownStep <= 0 {
		c.ScaleDownStep = DefaultScaleDownStep
	}
	if c.ScaleDownIdleTimeout <= 0 {
		c.ScaleDownIdleTimeout = DefaultScaleDownIdleTimeout
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 1 << 20
	}
}

// SpawnFunc requests n new workers and returns how many were actually
// spawned (subject to the caller's own resource limits).
type SpawnFunc func(n int) int

// TerminateFunc requests termination of the given worker IDs.
type TerminateFunc func(ids []string)

// Scaler drives the adaptive grow/shrink loop.
type Scaler struct {
	cfg         Config
	source      LoadSource
	spawn       SpawnFunc
	terminate   TerminateFunc
	sink        Sink
	upLimiter   *rate.Limiter
	downLimiter *rate.Limiter
}

// New creates a scaler. cfg's zero fields are replaced with their
// spec-defined defaults.
func New(cfg Config, source LoadSource, spawn SpawnFunc, terminate TerminateFunc, sink Sink) *Scaler {
	cfg.setDefaults()
	return &Scaler{
		cfg:         cfg,
		source:      source,
		spawn:       spawn,
		terminate:   terminate,
		sink:        sink,
		upLimiter:   rate.NewLimiter(rate.Every(cfg.Cooldown), 1),
		downLimiter: rate.NewLimiter(rate.Every(cfg.Cooldown), 1),
	}
}

// Run blocks, evaluating at cfg.Interval until ctx is cancelled.
func (s *Scaler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Evaluate(time.Now())
		}
	}
}

// Evaluate runs one scaling decision against now, the caller-supplied
// clock reading (kept as a parameter so the cooldown gates are
// deterministically testable).
func (s *Scaler) Evaluate(now time.Time) {
	current := s.source.CurrentWorkers()
	if current <= 0 {
		return
	}
	queued := s.source.Queued()
	active := s.source.Active()
	loadRatio := float64(queued+active) / float64(current)

	if loadRatio >= s.cfg.ScaleUpThreshold && current < s.cfg.MaxWorkers {
		s.tryScaleUp(now, current, loadRatio)
		return
	}
	if queued == 0 {
		s.tryScaleDown(now, current)
	}
}

func (s *Scaler) tryScaleUp(now time.Time, current int, loadRatio float64) {
	step := s.cfg.ScaleUpStep
	if current+step > s.cfg.MaxWorkers {
		step = s.cfg.MaxWorkers - current
	}
	if step <= 0 {
		return
	}
	if !s.upLimiter.AllowN(now, 1) {
		return
	}
	spawned := s.spawn(step)
	if spawned > 0 {
		s.sink.Emit(Event{Kind: "scale_up", Count: spawned, Reason: "load_ratio"})
	}
}

func (s *Scaler) tryScaleDown(now time.Time, current int) {
	idle := s.source.IdleWorkers()
	if len(idle) == 0 {
		return
	}
	candidates := make([]string, 0, len(idle))
	for _, w := range idle {
		if now.Sub(w.IdleSince) >= s.cfg.ScaleDownIdleTimeout {
			candidates = append(candidates, w.ID)
		}
	}
	if len(candidates) == 0 {
		return
	}

	step := s.cfg.ScaleDownStep
	if current-step < s.cfg.MinWorkers {
		step = current - s.cfg.MinWorkers
	}
	if step <= 0 {
		return
	}
	if step > len(candidates) {
		step = len(candidates)
	}
	if !s.downLimiter.AllowN(now, 1) {
		return
	}

	s.terminate(candidates[:step])
	s.sink.Emit(Event{Kind: "scale_down", Count: step, Reason: "idle_timeout"})
}
