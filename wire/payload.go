package wire

import (
	"encoding/binary"
	"fmt"

	"code.hybscloud.com/wpool/werr"
)

// TaskRequestPayload is the TaskRequest payload encoding (spec.md §6.3):
// `u16 method_len | method_utf8 | u32 params_len | params_bytes`.
type TaskRequestPayload struct {
	Method string
	Params []byte
}

func (p TaskRequestPayload) Encode() []byte {
	buf := make([]byte, 2+len(p.Method)+4+len(p.Params))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(p.Method)))
	n := 2
	n += copy(buf[n:], p.Method)
	binary.LittleEndian.PutUint32(buf[n:n+4], uint32(len(p.Params)))
	n += 4
	copy(buf[n:], p.Params)
	return buf
}

func DecodeTaskRequestPayload(buf []byte) (TaskRequestPayload, error) {
	if len(buf) < 2 {
		return TaskRequestPayload{}, fmt.Errorf("wire: short TaskRequest payload")
	}
	methodLen := int(binary.LittleEndian.Uint16(buf[0:2]))
	n := 2
	if len(buf) < n+methodLen+4 {
		return TaskRequestPayload{}, fmt.Errorf("wire: truncated TaskRequest method/params_len")
	}
	method := string(buf[n : n+methodLen])
	n += methodLen
	paramsLen := int(binary.LittleEndian.Uint32(buf[n : n+4]))
	n += 4
	if len(buf) < n+paramsLen {
		return TaskRequestPayload{}, fmt.Errorf("wire: truncated TaskRequest params")
	}
	params := buf[n : n+paramsLen]
	return TaskRequestPayload{Method: method, Params: params}, nil
}

// TaskResultPayload is the TaskResponse/TaskError payload encoding:
// `u8 success | u32 result_len | result_bytes`. When success is 0,
// result_bytes is itself the Error-as-result encoding below.
type TaskResultPayload struct {
	Success bool
	Result  []byte
}

func (p TaskResultPayload) Encode() []byte {
	buf := make([]byte, 1+4+len(p.Result))
	if p.Success {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(p.Result)))
	copy(buf[5:], p.Result)
	return buf
}

func DecodeTaskResultPayload(buf []byte) (TaskResultPayload, error) {
	if len(buf) < 5 {
		return TaskResultPayload{}, fmt.Errorf("wire: short TaskResult payload")
	}
	resultLen := int(binary.LittleEndian.Uint32(buf[1:5]))
	if len(buf) < 5+resultLen {
		return TaskResultPayload{}, fmt.Errorf("wire: truncated TaskResult result")
	}
	return TaskResultPayload{
		Success: buf[0] != 0,
		Result:  buf[5 : 5+resultLen],
	}, nil
}

// ErrorPayload is the "Error (as result)" encoding:
// `u16 error_code | u16 message_len | message | u16 stack_len | stack`.
type ErrorPayload struct {
	Code    werr.Code
	Message string
	Stack   string
}

func (p ErrorPayload) Encode() []byte {
	buf := make([]byte, 2+2+len(p.Message)+2+len(p.Stack))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(p.Code))
	n := 2
	binary.LittleEndian.PutUint16(buf[n:n+2], uint16(len(p.Message)))
	n += 2
	n += copy(buf[n:], p.Message)
	binary.LittleEndian.PutUint16(buf[n:n+2], uint16(len(p.Stack)))
	n += 2
	copy(buf[n:], p.Stack)
	return buf
}

func DecodeErrorPayload(buf []byte) (ErrorPayload, error) {
	if len(buf) < 4 {
		return ErrorPayload{}, fmt.Errorf("wire: short Error payload")
	}
	code := werr.Code(binary.LittleEndian.Uint16(buf[0:2]))
	msgLen := int(binary.LittleEndian.Uint16(buf[2:4]))
	n := 4
	if len(buf) < n+msgLen+2 {
		return ErrorPayload{}, fmt.Errorf("wire: truncated Error message/stack_len")
	}
	message := string(buf[n : n+msgLen])
	n += msgLen
	stackLen := int(binary.LittleEndian.Uint16(buf[n : n+2]))
	n += 2
	if len(buf) < n+stackLen {
		return ErrorPayload{}, fmt.Errorf("wire: truncated Error stack")
	}
	stack := string(buf[n : n+stackLen])
	return ErrorPayload{Code: code, Message: message, Stack: stack}, nil
}

// HeartbeatResPayload is the HeartbeatRes payload encoding:
// `u8 status | u32 task_count | u64 memory_bytes | u64 uptime_ms`.
type HeartbeatResPayload struct {
	Status     uint8
	TaskCount  uint32
	MemoryByte uint64
	UptimeMs   uint64
}

func (p HeartbeatResPayload) Encode() []byte {
	buf := make([]byte, 1+4+8+8)
	buf[0] = p.Status
	binary.LittleEndian.PutUint32(buf[1:5], p.TaskCount)
	binary.LittleEndian.PutUint64(buf[5:13], p.MemoryByte)
	binary.LittleEndian.PutUint64(buf[13:21], p.UptimeMs)
	return buf
}

func DecodeHeartbeatResPayload(buf []byte) (HeartbeatResPayload, error) {
	if len(buf) < 21 {
		return HeartbeatResPayload{}, fmt.Errorf("wire: short HeartbeatRes payload")
	}
	return HeartbeatResPayload{
		Status:     buf[0],
		TaskCount:  binary.LittleEndian.Uint32(buf[1:5]),
		MemoryByte: binary.LittleEndian.Uint64(buf[5:13]),
		UptimeMs:   binary.LittleEndian.Uint64(buf[13:21]),
	}, nil
}

// BatchHeaderPayload is the Batch header encoding:
// `u16 batch_id_len | batch_id | u32 task_count | u16 chunk_index | u16 total_chunks`.
type BatchHeaderPayload struct {
	BatchID     string
	TaskCount   uint32
	ChunkIndex  uint16
	TotalChunks uint16
}

func (p BatchHeaderPayload) Encode() []byte {
	buf := make([]byte, 2+len(p.BatchID)+4+2+2)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(p.BatchID)))
	n := 2
	n += copy(buf[n:], p.BatchID)
	binary.LittleEndian.PutUint32(buf[n:n+4], p.TaskCount)
	n += 4
	binary.LittleEndian.PutUint16(buf[n:n+2], p.ChunkIndex)
	n += 2
	binary.LittleEndian.PutUint16(buf[n:n+2], p.TotalChunks)
	return buf
}

func DecodeBatchHeaderPayload(buf []byte) (BatchHeaderPayload, error) {
	if len(buf) < 2 {
		return BatchHeaderPayload{}, fmt.Errorf("wire: short Batch header payload")
	}
	idLen := int(binary.LittleEndian.Uint16(buf[0:2]))
	n := 2
	if len(buf) < n+idLen+8 {
		return BatchHeaderPayload{}, fmt.Errorf("wire: truncated Batch header")
	}
	id := string(buf[n : n+idLen])
	n += idLen
	taskCount := binary.LittleEndian.Uint32(buf[n : n+4])
	n += 4
	chunkIndex := binary.LittleEndian.Uint16(buf[n : n+2])
	n += 2
	totalChunks := binary.LittleEndian.Uint16(buf[n : n+2])
	return BatchHeaderPayload{
		BatchID:     id,
		TaskCount:   taskCount,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
	}, nil
}
