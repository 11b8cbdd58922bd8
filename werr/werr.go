// Package werr defines the scheduler's stable error vocabulary.
//
// Mirrors the shape of code.hybscloud.com/iox's semantic errors (a handful
// of sentinel values plus small classification predicates) rather than a
// custom error-code type hierarchy: callers check errors.Is against a
// sentinel, or call CodeOf/IsRetryable/IsFatal when they need the wire-level
// numeric code or routing behavior from spec.md §6.4/§7.
package werr

import "errors"

// Submission errors (spec.md §7.1). Surfaced synchronously from Submit.
var (
	ErrQueueFull          = errors.New("wpool: queue full")
	ErrValidation         = errors.New("wpool: validation failed")
	ErrNoWorkersAvailable = errors.New("wpool: no workers available")
)

// Execution errors (§7.2). Surfaced via the task future.
var (
	ErrMethodNotFound  = errors.New("wpool: method not found")
	ErrInvalidParams   = errors.New("wpool: invalid params")
	ErrExecutionFailed = errors.New("wpool: execution failed")
)

// Lifecycle errors (§7.3). Surfaced via the task future.
var (
	ErrTimeout   = errors.New("wpool: timeout")
	ErrCancelled = errors.New("wpool: cancelled")
)

// Executor errors (§7.4). Fail all in-flight tasks on the affected executor.
var (
	ErrWorkerCrashed      = errors.New("wpool: worker crashed")
	ErrWorkerUnresponsive = errors.New("wpool: worker unresponsive")
	ErrCommunicationLost  = errors.New("wpool: communication lost")
)

// Fatal pool errors (§7.5). The pool transitions to poisoned; it must be recreated.
var (
	ErrArenaCorrupt     = errors.New("wpool: slot arena corrupt")
	ErrProtocolMismatch = errors.New("wpool: protocol magic/version mismatch")
	ErrPoisoned         = errors.New("wpool: pool is poisoned")
)

// Code is the stable u16 error code space from spec.md §6.4.
type Code uint16

const (
	CodeWorkerCrashed      Code = 1001
	CodeWorkerUnresponsive Code = 1003
	CodeCommunicationLost  Code = 2001
	CodeMethodNotFound     Code = 3001
	CodeInvalidParams      Code = 3002
	CodeExecutionFailed    Code = 3003
	CodeCancelled          Code = 3004
	CodeTimeout            Code = 3005
)

// codeMeta records the retryable/fatal classification for each stable code.
var codeMeta = map[Code]struct {
	retryable bool
	fatal     bool
}{
	CodeWorkerCrashed:      {retryable: true, fatal: false},  // not retryable at the same executor, but the task may be resubmitted
	CodeWorkerUnresponsive: {retryable: true, fatal: false},
	CodeCommunicationLost:  {retryable: true, fatal: false},
	CodeMethodNotFound:     {retryable: false, fatal: false},
	CodeInvalidParams:      {retryable: false, fatal: false},
	CodeExecutionFailed:    {retryable: false, fatal: false},
	CodeCancelled:          {retryable: false, fatal: false},
	CodeTimeout:            {retryable: true, fatal: false},
}

var sentinelCode = map[error]Code{
	ErrWorkerCrashed:      CodeWorkerCrashed,
	ErrWorkerUnresponsive: CodeWorkerUnresponsive,
	ErrCommunicationLost:  CodeCommunicationLost,
	ErrMethodNotFound:     CodeMethodNotFound,
	ErrInvalidParams:      CodeInvalidParams,
	ErrExecutionFailed:    CodeExecutionFailed,
	ErrCancelled:          CodeCancelled,
	ErrTimeout:            CodeTimeout,
}

// TaskError is the wire-encodable execution/lifecycle error carried in a
// TaskResponse/TaskError payload (spec.md §6.3).
type TaskError struct {
	ErrCode Code
	Message string
	Stack   string
}

func (e *TaskError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "wpool: task error"
}

// CodeOf reports the stable numeric code for err, and whether one was found.
// Accepts both *TaskError and any of this package's sentinel errors.
func CodeOf(err error) (Code, bool) {
	var te *TaskError
	if errors.As(err, &te) {
		return te.ErrCode, true
	}
	for sentinel, code := range sentinelCode {
		if errors.Is(err, sentinel) {
			return code, true
		}
	}
	return 0, false
}

// IsRetryable reports whether err's stable code is marked retryable.
func IsRetryable(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	return codeMeta[code].retryable
}

// IsFatal reports whether err should poison the pool (§7.5): arena
// corruption or a wire protocol mismatch, neither of which has a stable
// task-level code because they are not attributable to one task.
func IsFatal(err error) bool {
	return errors.Is(err, ErrArenaCorrupt) || errors.Is(err, ErrProtocolMismatch)
}
