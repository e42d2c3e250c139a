package connpool

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStateTransitions(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	c := NewPlainConnection(client)

	assert.Equal(t, ConnConnecting, c.State())

	c.MarkActive()
	assert.Equal(t, ConnActive, c.State())

	c.MarkIdle()
	assert.Equal(t, ConnIdle, c.State())
	assert.Equal(t, 1, c.RequestsServed())

	c.MarkClosed()
	assert.Equal(t, ConnClosed, c.State())
}

func TestConnectionArmIdleTimerFires(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	c := NewPlainConnection(client)

	fired := make(chan struct{})
	c.ArmIdleTimer(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("idle timer did not fire")
	}
}

func TestConnectionStopIdleTimerPreventsFire(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	c := NewPlainConnection(client)

	fired := false
	c.ArmIdleTimer(10*time.Millisecond, func() { fired = true })
	c.StopIdleTimer()

	time.Sleep(30 * time.Millisecond)
	assert.False(t, fired)
}

func TestConnectionPlaintextReadWrite(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := NewPlainConnection(client)

	go func() {
		buf := make([]byte, 5)
		n, _ := server.Read(buf)
		server.Write(buf[:n])
	}()

	_, err := c.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}
