package shmqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingNames(t *testing.T) {
	assert.Equal(t, "/coremesh_telemetry_req", ReqRingName("telemetry"))
	assert.Equal(t, "/coremesh_telemetry_resp", RespRingName("telemetry"))
}

// A request frame survives a trip through a ring slot, including the
// slot's zero-padding beyond the frame's declared lengths.
func TestFrame_ThroughRing(t *testing.T) {
	ring, err := Init(Options{
		Name:             ReqRingName("echo"),
		Capacity:         8,
		SlotSize:         256,
		Creator:          true,
		SharedMemoryRoot: t.TempDir(),
	})
	require.NoError(t, err)
	defer ring.Close()

	sent := Frame{
		MessageID:  42,
		Type:       MessageRequest,
		MethodName: "Echo",
		Payload:    []byte("ping"),
	}
	require.True(t, ring.Enqueue(sent.Marshal()))

	slot := make([]byte, 256)
	_, ok := ring.Dequeue(slot)
	require.True(t, ok)

	got, err := UnmarshalFrame(slot)
	require.NoError(t, err)
	assert.Equal(t, sent, got)
}

func TestFrame_ErrorResponseCarriesCode(t *testing.T) {
	f := Frame{MessageID: 7, Type: MessageError, ErrorCode: 503}
	got, err := UnmarshalFrame(f.Marshal())
	require.NoError(t, err)
	assert.Equal(t, MessageError, got.Type)
	assert.EqualValues(t, 503, got.ErrorCode)
	assert.Empty(t, got.MethodName)
	assert.Nil(t, got.Payload)
}

func TestUnmarshalFrame_RejectsTruncatedInput(t *testing.T) {
	_, err := UnmarshalFrame(make([]byte, 5))
	assert.Error(t, err)

	f := Frame{MessageID: 1, Type: MessageRequest, MethodName: "M", Payload: []byte{1}}
	enc := f.Marshal()
	_, err = UnmarshalFrame(enc[:len(enc)-1])
	assert.Error(t, err)
}
