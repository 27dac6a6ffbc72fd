package shmqueue

import (
	"encoding/binary"
	"fmt"
)

// MessageType tags a frame carried over an RPC ring pair.
type MessageType uint8

const (
	MessageRequest   MessageType = 1
	MessageResponse  MessageType = 2
	MessageHeartbeat MessageType = 3
	MessageError     MessageType = 4
)

// ReqRingName and RespRingName derive the fixed shared-memory object
// names for a channel's request/response ring pair. The two rings carry
// opposite directions, with creator/attacher roles swapped per direction
// so each ring keeps exactly one producer and one consumer.
func ReqRingName(channel string) string  { return "/coremesh_" + channel + "_req" }
func RespRingName(channel string) string { return "/coremesh_" + channel + "_resp" }

// Frame is one RPC message as laid out in a ring slot: a fixed header
// {message_id u64, message_type u8, method_name_len u32, payload_size
// u32, error_code u32} followed by method_name bytes then payload bytes.
// Byte order is the host's native order; both ends of a ring always live
// on the same host.
type Frame struct {
	MessageID  uint64
	Type       MessageType
	ErrorCode  uint32
	MethodName string
	Payload    []byte
}

const frameHeaderSize = 8 + 1 + 4 + 4 + 4

// EncodedSize returns the slot space f occupies once marshaled.
func (f Frame) EncodedSize() int {
	return frameHeaderSize + len(f.MethodName) + len(f.Payload)
}

// Marshal lays f out header-first into a fresh byte slice sized exactly
// to EncodedSize, suitable for Ring.Enqueue.
func (f Frame) Marshal() []byte {
	buf := make([]byte, f.EncodedSize())
	binary.NativeEndian.PutUint64(buf[0:], f.MessageID)
	buf[8] = byte(f.Type)
	binary.NativeEndian.PutUint32(buf[9:], uint32(len(f.MethodName)))
	binary.NativeEndian.PutUint32(buf[13:], uint32(len(f.Payload)))
	binary.NativeEndian.PutUint32(buf[17:], f.ErrorCode)
	n := copy(buf[frameHeaderSize:], f.MethodName)
	copy(buf[frameHeaderSize+n:], f.Payload)
	return buf
}

// UnmarshalFrame decodes a slot previously written by Marshal. The input
// may be longer than the frame (a ring slot is fixed-size); trailing slot
// bytes beyond the declared lengths are ignored.
func UnmarshalFrame(data []byte) (Frame, error) {
	if len(data) < frameHeaderSize {
		return Frame{}, fmt.Errorf("shmqueue: frame too short: %d bytes", len(data))
	}
	nameLen := binary.NativeEndian.Uint32(data[9:])
	payloadLen := binary.NativeEndian.Uint32(data[13:])
	total := uint64(frameHeaderSize) + uint64(nameLen) + uint64(payloadLen)
	if total > uint64(len(data)) {
		return Frame{}, fmt.Errorf("shmqueue: frame declares %d bytes, slot has %d", total, len(data))
	}

	f := Frame{
		MessageID: binary.NativeEndian.Uint64(data[0:]),
		Type:      MessageType(data[8]),
		ErrorCode: binary.NativeEndian.Uint32(data[17:]),
	}
	f.MethodName = string(data[frameHeaderSize : frameHeaderSize+nameLen])
	if payloadLen > 0 {
		f.Payload = append([]byte(nil), data[frameHeaderSize+nameLen:frameHeaderSize+nameLen+payloadLen]...)
	}
	return f, nil
}
