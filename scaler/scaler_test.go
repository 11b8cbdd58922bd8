package scaler_test

import (
	"testing"
	"time"

	"code.hybscloud.com/wpool/scaler"
)

type fakeSource struct {
	queued, active, current int
	idle                    []scaler.IdleWorker
}

func (f *fakeSource) Queued() int                      { return f.queued }
func (f *fakeSource) Active() int                      { return f.active }
func (f *fakeSource) CurrentWorkers() int              { return f.current }
func (f *fakeSource) IdleWorkers() []scaler.IdleWorker { return f.idle }

type fakeSink struct {
	events []scaler.Event
}

func (f *fakeSink) Emit(e scaler.Event) { f.events = append(f.events, e) }

func TestScalerScalesUpWhenLoadRatioExceedsThreshold(t *testing.T) {
	src := &fakeSource{queued: 8, active: 4, current: 2} // ratio 6.0 >= 2.0
	sink := &fakeSink{}
	spawnedN := 0
	s := scaler.New(scaler.Config{MaxWorkers: 10}, src, func(n int) int {
		spawnedN = n
		return n
	}, func(ids []string) {}, sink)

	s.Evaluate(time.Unix(0, 0))

	if spawnedN != scaler.DefaultScaleUpStep {
		t.Fatalf("spawn count: got %d, want %d", spawnedN, scaler.DefaultScaleUpStep)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != "scale_up" {
		t.Fatalf("events: got %v, want one scale_up event", sink.events)
	}
}

func TestScalerScaleUpRespectsMaxWorkers(t *testing.T) {
	src := &fakeSource{queued: 20, active: 20, current: 9}
	sink := &fakeSink{}
	var gotN int
	s := scaler.New(scaler.Config{MaxWorkers: 10, ScaleUpStep: 5}, src, func(n int) int {
		gotN = n
		return n
	}, func(ids []string) {}, sink)

	s.Evaluate(time.Unix(0, 0))

	if gotN != 1 { // only room for 1 more worker before hitting MaxWorkers=10
		t.Fatalf("spawn count capped by MaxWorkers: got %d, want 1", gotN)
	}
}

func TestScalerScaleUpRespectsCooldown(t *testing.T) {
	src := &fakeSource{queued: 10, active: 10, current: 2}
	sink := &fakeSink{}
	calls := 0
	s := scaler.New(scaler.Config{MaxWorkers: 100, Cooldown: time.Minute}, src, func(n int) int {
		calls++
		return n
	}, func(ids []string) {}, sink)

	base := time.Unix(1000, 0)
	s.Evaluate(base)
	s.Evaluate(base.Add(time.Second)) // within cooldown window

	if calls != 1 {
		t.Fatalf("spawn calls: got %d, want 1 (second attempt within cooldown)", calls)
	}
}

func TestScalerDoesNotScaleUpAtMaxWorkers(t *testing.T) {
	src := &fakeSource{queued: 20, active: 20, current: 10}
	sink := &fakeSink{}
	calls := 0
	s := scaler.New(scaler.Config{MaxWorkers: 10}, src, func(n int) int {
		calls++
		return n
	}, func(ids []string) {}, sink)

	s.Evaluate(time.Unix(0, 0))

	if calls != 0 {
		t.Fatalf("spawn calls at MaxWorkers: got %d, want 0", calls)
	}
}

func TestScalerScalesDownIdleWorkersPastTimeout(t *testing.T) {
	now := time.Unix(10000, 0)
	src := &fakeSource{
		queued: 0, active: 0, current: 5,
		idle: []scaler.IdleWorker{
			{ID: "w1", IdleSince: now.Add(-40 * time.Second)},
			{ID: "w2", IdleSince: now.Add(-5 * time.Second)}, // not idle long enough
		},
	}
	sink := &fakeSink{}
	var terminated []string
	s := scaler.New(scaler.Config{MinWorkers: 1, ScaleDownStep: 2}, src, func(n int) int { return n }, func(ids []string) {
		terminated = ids
	}, sink)

	s.Evaluate(now)

	if len(terminated) != 1 || terminated[0] != "w1" {
		t.Fatalf("terminated: got %v, want [w1]", terminated)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != "scale_down" {
		t.Fatalf("events: got %v, want one scale_down event", sink.events)
	}
}

func TestScalerScaleDownRespectsMinWorkers(t *testing.T) {
	now := time.Unix(10000, 0)
	src := &fakeSource{
		queued: 0, active: 0, current: 2,
		idle: []scaler.IdleWorker{
			{ID: "w1", IdleSince: now.Add(-40 * time.Second)},
			{ID: "w2", IdleSince: now.Add(-40 * time.Second)},
		},
	}
	sink := &fakeSink{}
	var terminated []string
	s := scaler.New(scaler.Config{MinWorkers: 1, ScaleDownStep: 2}, src, func(n int) int { return n }, func(ids []string) {
		terminated = ids
	}, sink)

	s.Evaluate(now)

	if len(terminated) != 1 {
		t.Fatalf("terminated count: got %d, want 1 (bounded by MinWorkers=1)", len(terminated))
	}
}

func TestScalerNoActionWhenLoadNormalAndNoIdleWorkers(t *testing.T) {
	src := &fakeSource{queued: 1, active: 1, current: 5}
	sink := &fakeSink{}
	s := scaler.New(scaler.Config{MaxWorkers: 10}, src, func(n int) int { return n }, func(ids []string) {}, sink)

	s.Evaluate(time.Unix(0, 0))

	if len(sink.events) != 0 {
		t.Fatalf("events: got %v, want none", sink.events)
	}
}

func TestScalerSkipsScaleDownWhenQueueNonEmpty(t *testing.T) {
	now := time.Unix(10000, 0)
	src := &fakeSource{
		queued: 1, active: 0, current: 5,
		idle: []scaler.IdleWorker{{ID: "w1", IdleSince: now.Add(-40 * time.Second)}},
	}
	sink := &fakeSink{}
	s := scaler.New(scaler.Config{MinWorkers: 1}, src, func(n int) int { return n }, func(ids []string) {}, sink)

	s.Evaluate(now)

	if len(sink.events) != 0 {
		t.Fatalf("events with queued > 0: got %v, want none", sink.events)
	}
}
