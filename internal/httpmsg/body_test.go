package httpmsg

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyContentLengthBounded(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("hello-extra-bytes-after"))
	h := NewHeader()
	closed := false
	b := NewBody(br, h, 5, true, func(cancelled bool) { closed = true })

	got, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.True(t, closed)
}

func TestBodyZeroLengthClosesImmediately(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("ignored"))
	closed := false
	b := NewBody(br, NewHeader(), 0, true, func(cancelled bool) { closed = true })

	n, err := b.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, closed)
}

func TestBodyUnannouncedRequestBodyIsEmpty(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("next-request-bytes"))
	b := NewBody(br, NewHeader(), -1, false, nil)

	n, err := b.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	// the reader was never consumed, so the next request's bytes remain.
	rest, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Equal(t, "next-request-bytes", string(rest))
}

func TestBodyUnannouncedResponseBodyRunsToClose(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("until eof"))
	b := NewBody(br, NewHeader(), -1, true, nil)

	got, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "until eof", string(got))
}

func TestBodyCancelMarksCancelled(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("partial"))
	b := NewBody(br, NewHeader(), 7, true, nil)

	assert.NoError(t, b.Cancel())
	assert.True(t, b.Cancelled())

	_, err := b.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestBodyCancelTellsOnCloseToForceClose(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("partial"))
	var gotCancelled bool
	b := NewBody(br, NewHeader(), 7, true, func(cancelled bool) { gotCancelled = cancelled })

	require.NoError(t, b.Cancel())
	assert.True(t, gotCancelled)
}

func TestBodyCloseIsIdempotent(t *testing.T) {
	br := bufio.NewReader(strings.NewReader(""))
	calls := 0
	b := NewBody(br, NewHeader(), 0, true, func(cancelled bool) { calls++ })

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, calls)
}
