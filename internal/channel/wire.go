package channel

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope is the on-wire form a cross-package delivery is serialized to
// (shared-memory RPC frames have their own layout, see
// internal/shmqueue/wire.go). It is hand encoded against the protobuf
// wire format via protowire rather than a .proto-generated type, keeping
// the build free of a protoc step; protowire is the same low-level
// primitive package protoc-gen-go itself builds on, so the wire bytes are
// indistinguishable from a generated message with fields {1: topic,
// 2: msg_type, 3: pkg, 4: payload}.
type Envelope struct {
	Topic   string
	MsgType string
	Pkg     string
	Payload []byte
}

const (
	fieldTopic   = 1
	fieldMsgType = 2
	fieldPkg     = 3
	fieldPayload = 4
)

// Marshal encodes e as protobuf wire-format bytes with the field numbers
// listed on Envelope.
func (e Envelope) Marshal() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldTopic, protowire.BytesType)
	buf = protowire.AppendString(buf, e.Topic)
	buf = protowire.AppendTag(buf, fieldMsgType, protowire.BytesType)
	buf = protowire.AppendString(buf, e.MsgType)
	buf = protowire.AppendTag(buf, fieldPkg, protowire.BytesType)
	buf = protowire.AppendString(buf, e.Pkg)
	buf = protowire.AppendTag(buf, fieldPayload, protowire.BytesType)
	buf = protowire.AppendBytes(buf, e.Payload)
	return buf
}

// Unmarshal decodes bytes produced by Marshal, ignoring unknown fields.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Envelope{}, fmt.Errorf("channel: malformed envelope tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Envelope{}, fmt.Errorf("channel: malformed envelope field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return Envelope{}, fmt.Errorf("channel: malformed envelope field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldTopic:
			e.Topic = string(v)
		case fieldMsgType:
			e.MsgType = string(v)
		case fieldPkg:
			e.Pkg = string(v)
		case fieldPayload:
			e.Payload = append([]byte(nil), v...)
		}
	}
	return e, nil
}
