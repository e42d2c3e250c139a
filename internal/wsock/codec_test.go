package wsock

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRawFrame(t *testing.T, buf *bytes.Buffer, fin bool, opcode Opcode, payload []byte) {
	t.Helper()
	require.NoError(t, WriteFrame(buf, fin, opcode, payload, false, nil))
}

func TestReassemblerJoinsFragments(t *testing.T) {
	var buf bytes.Buffer
	writeRawFrame(t, &buf, false, OpText, []byte("foo"))
	writeRawFrame(t, &buf, true, OpContinuation, []byte("bar"))

	rs := NewReassembler(false)
	msg, ctrl, err := rs.Next(&buf)
	require.NoError(t, err)
	assert.Nil(t, ctrl)
	require.NotNil(t, msg)
	assert.Equal(t, OpText, msg.Opcode)
	assert.Equal(t, "foobar", string(msg.Payload))
}

func TestReassemblerUnfragmentedMessage(t *testing.T) {
	var buf bytes.Buffer
	writeRawFrame(t, &buf, true, OpBinary, []byte{1, 2, 3})

	rs := NewReassembler(false)
	msg, ctrl, err := rs.Next(&buf)
	require.NoError(t, err)
	assert.Nil(t, ctrl)
	assert.Equal(t, []byte{1, 2, 3}, msg.Payload)
}

func TestReassemblerSurfacesControlFrameMidStream(t *testing.T) {
	var buf bytes.Buffer
	writeRawFrame(t, &buf, true, OpPing, []byte("ping"))
	writeRawFrame(t, &buf, true, OpText, []byte("hi"))

	rs := NewReassembler(false)
	msg, ctrl, err := rs.Next(&buf)
	require.NoError(t, err)
	assert.Nil(t, msg)
	require.NotNil(t, ctrl)
	assert.Equal(t, OpPing, ctrl.Opcode)

	msg2, ctrl2, err := rs.Next(&buf)
	require.NoError(t, err)
	assert.Nil(t, ctrl2)
	assert.Equal(t, "hi", string(msg2.Payload))
}

func TestReassemblerRejectsContinuationWithoutStart(t *testing.T) {
	var buf bytes.Buffer
	writeRawFrame(t, &buf, true, OpContinuation, []byte("x"))

	rs := NewReassembler(false)
	_, _, err := rs.Next(&buf)
	assert.Error(t, err)
}

func TestReassemblerRejectsDataFrameMidFragmentation(t *testing.T) {
	var buf bytes.Buffer
	writeRawFrame(t, &buf, false, OpText, []byte("foo"))
	writeRawFrame(t, &buf, true, OpBinary, []byte("bar"))

	rs := NewReassembler(false)
	_, _, err := rs.Next(&buf)
	assert.Error(t, err)
}
