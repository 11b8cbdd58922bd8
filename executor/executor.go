// Package executor defines the boundary between the scheduler core and a
// worker running in its own protection domain (spec.md §1 "Explicitly out
// of scope: worker-spawn mechanics ... the core consumes an Executor trait
// that only exposes start/send/receive/kill"), plus the per-worker state
// machine and bookkeeping record (§3 "Executor record") the rest of the
// core reads and writes.
package executor

import (
	"context"

	"code.hybscloud.com/wpool/wire"
)

// Frame is one wire-framed message: a decoded Header plus its raw payload
// bytes. The executor package never interprets payload contents beyond
// what Header.Type implies is present; that's package pool's job.
type Frame struct {
	Header  wire.Header
	Payload []byte
}

// Executor is the contract the core requires of a worker running in its
// own protection domain (OS thread, OS process, or web worker). Spawning,
// entry-point resolution, and the actual user-code execution are outside
// this package entirely.
type Executor interface {
	// Start brings the worker up to the point where Send/Receive are
	// valid; it is the cold → warming transition's side effect.
	Start(ctx context.Context) error
	// Send transmits a framed message to the worker.
	Send(ctx context.Context, f Frame) error
	// Receive blocks for the worker's next framed message.
	Receive(ctx context.Context) (Frame, error)
	// Kill forcibly terminates the worker, used when graceful Terminate
	// exceeds its cleanup timeout.
	Kill() error
}
