package connpool

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cobalt-run/tjs/internal/rterrors"
	"github.com/cobalt-run/tjs/internal/tlspipe"
)

// ConnState is the lifecycle state of a pooled Connection.
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnIdle
	ConnActive
	ConnClosed
)

// Connection unifies a plaintext or TLS-piped socket behind one read/write
// interface, and carries the bookkeeping the client pool and server
// accept loop both need: lifecycle state, keep-alive accounting, and the
// pendingCiphertext buffer the steady-state TLS read loop requires to
// hold back ciphertext a Feed call didn't fully consume.
type Connection struct {
	mu sync.Mutex

	raw       net.Conn
	tlsEngine tlspipe.Engine // nil for plaintext connections

	state          ConnState
	lastUsed       time.Time
	requestsServed int
	keepAlive      bool

	pendingCiphertext []byte

	idleTimer *time.Timer

	// proxySrc/proxyDst, if set, are the real peer endpoints a PROXY
	// protocol preamble reported ahead of this socket's own addresses
	// (which would otherwise just name the relayer).
	proxySrc *net.TCPAddr
	proxyDst *net.TCPAddr
}

// NewPlainConnection wraps raw as a non-TLS Connection.
func NewPlainConnection(raw net.Conn) *Connection {
	return &Connection{raw: raw, state: ConnConnecting, lastUsed: time.Now(), keepAlive: true}
}

// NewTLSConnection wraps raw as a Connection whose reads/writes are
// encrypted/decrypted by engine.
func NewTLSConnection(raw net.Conn, engine tlspipe.Engine) *Connection {
	return &Connection{raw: raw, tlsEngine: engine, state: ConnConnecting, lastUsed: time.Now(), keepAlive: true}
}

// State returns c's current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// MarkActive transitions c to ACTIVE, stopping any armed idle timer — the
// pool or accept loop is handing it to a request/response pair.
func (c *Connection) MarkActive() {
	c.StopIdleTimer()
	c.setState(ConnActive)
}

// MarkIdle transitions c to IDLE — a request completed and released it.
func (c *Connection) MarkIdle() {
	c.mu.Lock()
	c.requestsServed++
	c.mu.Unlock()
	c.setState(ConnIdle)
}

// MarkClosed transitions c to CLOSED, the terminal state.
func (c *Connection) MarkClosed() {
	c.StopIdleTimer()
	c.setState(ConnClosed)
}

// SetKeepAlive records whether the peer supports HTTP keep-alive on this
// connection (affects whether Release arms an idle timer).
func (c *Connection) SetKeepAlive(v bool) {
	c.mu.Lock()
	c.keepAlive = v
	c.mu.Unlock()
}

func (c *Connection) KeepAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlive
}

func (c *Connection) RequestsServed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestsServed
}

// ArmIdleTimer closes the connection after d if it is not reused first.
func (c *Connection) ArmIdleTimer(d time.Duration, onExpire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(d, onExpire)
}

// StopIdleTimer cancels any armed idle timer.
func (c *Connection) StopIdleTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

// ApplyPROXYAddrs records the real peer endpoints a PROXY protocol
// preamble reported, so LocalAddr/RemoteAddr report them instead of the
// relayer's own socket addresses for the rest of c's lifetime.
func (c *Connection) ApplyPROXYAddrs(src, dst *net.TCPAddr) {
	c.mu.Lock()
	c.proxySrc, c.proxyDst = src, dst
	c.mu.Unlock()
}

// LocalAddr and RemoteAddr report the PROXY-reported endpoint, if one was
// applied, and otherwise pass through to the underlying socket.
func (c *Connection) LocalAddr() net.Addr {
	c.mu.Lock()
	dst := c.proxyDst
	c.mu.Unlock()
	if dst != nil {
		return dst
	}
	return c.raw.LocalAddr()
}

func (c *Connection) RemoteAddr() net.Addr {
	c.mu.Lock()
	src := c.proxySrc
	c.mu.Unlock()
	if src != nil {
		return src
	}
	return c.raw.RemoteAddr()
}

// SetDeadline, SetReadDeadline, SetWriteDeadline pass through to the
// underlying socket; the TLS record layer does not need its own deadline
// handling since it never blocks independently of raw reads/writes.
func (c *Connection) SetDeadline(t time.Time) error      { return c.raw.SetDeadline(t) }
func (c *Connection) SetReadDeadline(t time.Time) error  { return c.raw.SetReadDeadline(t) }
func (c *Connection) SetWriteDeadline(t time.Time) error { return c.raw.SetWriteDeadline(t) }

// Close tears down the underlying socket (and TLS engine, if present) and
// marks the connection CLOSED.
func (c *Connection) Close() error {
	c.MarkClosed()
	if c.tlsEngine != nil {
		c.tlsEngine.Shutdown()
	}
	return c.raw.Close()
}

// Read implements the unified I/O interface: plaintext connections
// read straight through; TLS connections drain buffered plaintext, retry
// pendingCiphertext, then pull more ciphertext from the socket and feed
// it, recording any unconsumed suffix back into pendingCiphertext.
func (c *Connection) Read(p []byte) (int, error) {
	if c.tlsEngine == nil {
		return c.raw.Read(p)
	}
	return c.tlsRead(p)
}

func (c *Connection) tlsRead(p []byte) (int, error) {
	if out, err := c.tlsEngine.Read(len(p)); err != nil {
		return 0, err
	} else if len(out) > 0 {
		return copy(p, out), nil
	}

	c.mu.Lock()
	pending := c.pendingCiphertext
	c.mu.Unlock()
	if len(pending) > 0 {
		consumed, err := c.tlsEngine.Feed(pending)
		if err != nil {
			return 0, err
		}
		c.mu.Lock()
		c.pendingCiphertext = append([]byte(nil), pending[consumed:]...)
		c.mu.Unlock()

		if out, err := c.tlsEngine.Read(len(p)); err != nil {
			return 0, err
		} else if len(out) > 0 {
			return copy(p, out), nil
		}
	}

	buf := make([]byte, 16*1024)
	n, rerr := c.raw.Read(buf)
	if n > 0 {
		consumed, ferr := c.tlsEngine.Feed(buf[:n])
		if ferr != nil {
			return 0, ferr
		}
		if consumed < n {
			c.mu.Lock()
			c.pendingCiphertext = append(c.pendingCiphertext, buf[consumed:n]...)
			c.mu.Unlock()
		}
	}
	if rerr != nil {
		return 0, rerr
	}

	out, err := c.tlsEngine.Read(len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, out), nil
}

// Write implements the unified I/O interface's write half: plaintext
// connections write straight through; TLS connections feed the engine,
// then drain and transmit the ciphertext it produced ("Steady-state
// write").
func (c *Connection) Write(p []byte) (int, error) {
	if c.tlsEngine == nil {
		return c.raw.Write(p)
	}

	n, err := c.tlsEngine.Write(p)
	if err != nil {
		return n, err
	}

	if out := c.tlsEngine.GetOutput(); len(out) > 0 {
		if _, werr := c.raw.Write(out); werr != nil {
			return 0, fmt.Errorf("%w: %v", rterrors.ErrConnectionClosed, werr)
		}
	}

	return n, nil
}

// DriveHandshake steps a TLS Connection's handshake to completion,
// pumping ciphertext to/from the raw socket. It is a no-op for plaintext
// connections.
func (c *Connection) DriveHandshake() error {
	if c.tlsEngine == nil {
		return nil
	}

	buf := make([]byte, 16*1024)
	var pending []byte
	for !c.tlsEngine.HandshakeComplete() {
		if err := c.tlsEngine.Handshake(); err != nil {
			return err
		}

		if out := c.tlsEngine.GetOutput(); len(out) > 0 {
			if _, err := c.raw.Write(out); err != nil {
				return fmt.Errorf("%w: %v", rterrors.ErrConnectionClosed, err)
			}
		}

		if c.tlsEngine.HandshakeComplete() {
			break
		}

		if len(pending) == 0 {
			n, err := c.raw.Read(buf)
			if err != nil {
				return fmt.Errorf("%w: %v", rterrors.ErrConnectionClosed, err)
			}
			pending = buf[:n]
		}

		for len(pending) > 0 {
			consumed, ferr := c.tlsEngine.Feed(pending)
			if ferr != nil {
				return ferr
			}
			if consumed == 0 {
				break
			}
			pending = pending[consumed:]
		}
	}

	if len(pending) > 0 {
		c.mu.Lock()
		c.pendingCiphertext = append(c.pendingCiphertext, pending...)
		c.mu.Unlock()
	}

	return nil
}
