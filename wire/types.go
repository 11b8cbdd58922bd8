package wire

// Type is the wire message type carried in Header.Type (spec.md §6.2).
type Type uint8

const (
	TypeTaskRequest  Type = 1
	TypeTaskResponse Type = 2
	TypeTaskError    Type = 3
	TypeEvent        Type = 4
	TypeHeartbeatReq Type = 5
	TypeHeartbeatRes Type = 6
	TypeCleanupReq   Type = 7
	TypeCleanupRes   Type = 8
	TypeTerminate    Type = 9
	TypeBatch        Type = 10
	TypeStreamChunk  Type = 11
)

func (t Type) String() string {
	switch t {
	case TypeTaskRequest:
		return "TaskRequest"
	case TypeTaskResponse:
		return "TaskResponse"
	case TypeTaskError:
		return "TaskError"
	case TypeEvent:
		return "Event"
	case TypeHeartbeatReq:
		return "HeartbeatReq"
	case TypeHeartbeatRes:
		return "HeartbeatRes"
	case TypeCleanupReq:
		return "CleanupReq"
	case TypeCleanupRes:
		return "CleanupRes"
	case TypeTerminate:
		return "Terminate"
	case TypeBatch:
		return "Batch"
	case TypeStreamChunk:
		return "StreamChunk"
	default:
		return "Unknown"
	}
}
