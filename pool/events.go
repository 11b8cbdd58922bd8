package pool

import (
	"os"

	"github.com/rs/zerolog"
)

// Event is the pool's unified diagnostic/status event: executor
// lifecycle (started, removed, crashed), scaling (spec.md §4.7) and
// heartbeat transitions (§4.8). Steal statistics and per-task lifecycle
// are not emitted as events.
type Event struct {
	Kind       string
	ExecutorID string
	TaskID     uint64
	Count      int
	Reason     string
}

// Sink receives pool events. Callers may supply their own (a channel
// drained elsewhere, a metrics exporter); NewZerologSink wraps a
// zerolog.Logger as a default.
type Sink interface {
	Emit(Event)
}

// zerologSink structurally logs every event at info level.
type zerologSink struct {
	log zerolog.Logger
}

// NewZerologSink builds the default event sink, logging structured
// JSON to stderr.
func NewZerologSink() Sink {
	return &zerologSink{log: zerolog.New(os.Stderr).With().Timestamp().Logger()}
}

func (s *zerologSink) Emit(e Event) {
	s.log.Info().
		Str("kind", e.Kind).
		Str("executor_id", e.ExecutorID).
		Uint64("task_id", e.TaskID).
		Int("count", e.Count).
		Str("reason", e.Reason).
		Msg("pool event")
}

// chanSink fans events out to a channel the caller drains, for
// programmatic consumption alongside (or instead of) logging.
type chanSink struct {
	ch chan<- Event
}

// NewChannelSink returns a Sink that forwards every event to ch,
// dropping it when the send cannot complete at once (no receiver
// waiting and no free buffer space) rather than blocking the dispatch
// loop.
func NewChannelSink(ch chan<- Event) Sink {
	return &chanSink{ch: ch}
}

func (s *chanSink) Emit(e Event) {
	select {
	case s.ch <- e:
	default:
	}
}

// multiSink fans out to more than one sink, e.g. log and channel.
type multiSink struct {
	sinks []Sink
}

// NewMultiSink combines several sinks into one.
func NewMultiSink(sinks ...Sink) Sink {
	return &multiSink{sinks: sinks}
}

func (s *multiSink) Emit(e Event) {
	for _, sink := range s.sinks {
		sink.Emit(e)
	}
}
