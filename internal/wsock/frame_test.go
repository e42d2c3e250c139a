package wsock

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, fin bool, opcode Opcode, payload []byte, mask bool) *Frame {
	t.Helper()
	var buf bytes.Buffer
	key := []byte{0x12, 0x34, 0x56, 0x78}
	err := WriteFrame(&buf, fin, opcode, payload, mask, func(k []byte) error {
		copy(k, key)
		return nil
	})
	require.NoError(t, err)

	f, err := ReadFrame(&buf, mask)
	require.NoError(t, err)
	return f
}

func TestFrameRoundTripUnmasked(t *testing.T) {
	for _, n := range []int{0, 1, 125, 126, 127, 65535, 65536} {
		payload := bytes.Repeat([]byte{0xAB}, n)
		f := roundTrip(t, true, OpBinary, payload, false)
		assert.True(t, f.FIN)
		assert.Equal(t, OpBinary, f.Opcode)
		assert.Equal(t, payload, f.Payload)
	}
}

func TestFrameRoundTripMasked(t *testing.T) {
	payload := []byte("hello, masked world")
	f := roundTrip(t, true, OpText, payload, true)
	assert.Equal(t, payload, f.Payload)
}

func TestFrameRejectsReservedBits(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x90, 0x00}) // FIN+RSV1 set, opcode 0 (continuation)
	_, err := ReadFrame(&buf, false)
	assert.Error(t, err)
}

func TestFrameRejectsFragmentedControlFrame(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, false, OpPing, []byte("x"), false, nil)
	assert.Error(t, err)
}

func TestFrameRejectsOversizedControlFrame(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, true, OpPong, bytes.Repeat([]byte{1}, 200), false, nil)
	assert.Error(t, err)
}

func TestFrameRejectsMaskMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, true, OpText, []byte("hi"), false, nil))
	_, err := ReadFrame(&buf, true)
	assert.Error(t, err)
}

func TestCloseReasonRoundTrip(t *testing.T) {
	payload := EncodeCloseReason(1000, "bye")
	code, reason := DecodeCloseReason(payload)
	assert.EqualValues(t, 1000, code)
	assert.Equal(t, "bye", reason)
}

func TestDecodeCloseReasonEmptyPayload(t *testing.T) {
	code, reason := DecodeCloseReason(nil)
	assert.EqualValues(t, 0, code)
	assert.Equal(t, "", reason)
}
