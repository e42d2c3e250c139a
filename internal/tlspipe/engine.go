package tlspipe

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/cobalt-run/tjs/internal/rterrors"
)

// feedBufCap bounds how much offered ciphertext Engine.Feed will accept
// before returning a short count, reproducing the "feed's short-return"
// contract that a real streaming TLS library exhibits under
// backpressure.
const feedBufCap = 64 * 1024

// Engine is a record-oriented TLS driver: a byte-stream socket is bridged
// to it by feeding it ciphertext read from the socket and writing
// ciphertext it produces back to the socket.
type Engine interface {
	// Feed offers ciphertext read from the socket to the engine,
	// returning how much of it was consumed; callers must retain any
	// unconsumed suffix and feed it again on the next call.
	Feed(ciphertext []byte) (consumed int, err error)

	// Read returns decrypted application bytes, or (0, nil) if no full
	// record is currently buffered; (0, io.EOF) once the peer has
	// closed cleanly.
	Read(max int) ([]byte, error)

	// Write encrypts plaintext for transmission; the resulting
	// ciphertext is retrieved via GetOutput.
	Write(plaintext []byte) (accepted int, err error)

	// GetOutput drains and returns ciphertext produced by Handshake or
	// Write that the caller must send to the socket.
	GetOutput() []byte

	// Handshake steps the handshake state machine. It returns nil both
	// once the handshake completes and while it is still in progress
	// (HandshakeComplete tells the two apart), or an error wrapping
	// rterrors.ErrTLSHandshakeFailed.
	Handshake() error

	// HandshakeComplete reports whether the handshake has finished
	// successfully.
	HandshakeComplete() bool

	// GetALPNProtocol returns the negotiated ALPN protocol, or "" if
	// none was negotiated.
	GetALPNProtocol() string

	// Shutdown sends a close_notify and releases the engine's internal
	// resources. It does not close the caller's socket.
	Shutdown() error
}

// cryptoTLSEngine implements Engine by driving a standard-library
// crypto/tls.Conn over an in-process net.Pipe: one pipe endpoint is
// wrapped by tls.Conn and exposed to callers only via Read/Write/
// Handshake; the other endpoint is pumped to/from the Feed/GetOutput
// buffers by two background goroutines, so the engine's record framing
// comes from crypto/tls itself while ciphertext transport stays under
// the caller's explicit control.
type cryptoTLSEngine struct {
	conn    *tls.Conn
	netSide net.Conn

	feedMu   sync.Mutex
	feedCond *sync.Cond
	feedBuf  bytes.Buffer
	closed   bool

	outMu  sync.Mutex
	outBuf bytes.Buffer

	handshakeOnce sync.Once
	handshakeDone chan struct{}
	handshakeErr  error
}

// NewEngine returns an Engine that will drive ctx's handshake role when
// Handshake is first called.
func NewEngine(ctx *Context) Engine {
	appSide, netSide := net.Pipe()

	var conn *tls.Conn
	if ctx.mode == ModeServer {
		conn = tls.Server(appSide, ctx.tls)
	} else {
		conn = tls.Client(appSide, ctx.tls)
	}

	e := &cryptoTLSEngine{
		conn:          conn,
		netSide:       netSide,
		handshakeDone: make(chan struct{}),
	}
	e.feedCond = sync.NewCond(&e.feedMu)

	go e.pumpOutbound()
	go e.pumpInbound()

	return e
}

// pumpOutbound copies ciphertext crypto/tls writes to its side of the
// pipe (i.e. produces for transmission) into outBuf, where GetOutput
// drains it.
func (e *cryptoTLSEngine) pumpOutbound() {
	buf := make([]byte, 16*1024)
	for {
		n, err := e.netSide.Read(buf)
		if n > 0 {
			e.outMu.Lock()
			e.outBuf.Write(buf[:n])
			e.outMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// pumpInbound blocks until Feed has queued ciphertext, then writes it to
// the pipe so crypto/tls can consume it as incoming record bytes.
func (e *cryptoTLSEngine) pumpInbound() {
	for {
		e.feedMu.Lock()
		for e.feedBuf.Len() == 0 && !e.closed {
			e.feedCond.Wait()
		}
		if e.closed && e.feedBuf.Len() == 0 {
			e.feedMu.Unlock()
			return
		}
		chunk := make([]byte, e.feedBuf.Len())
		copy(chunk, e.feedBuf.Bytes())
		e.feedBuf.Reset()
		e.feedMu.Unlock()

		if _, err := e.netSide.Write(chunk); err != nil {
			return
		}
	}
}

func (e *cryptoTLSEngine) Feed(ciphertext []byte) (int, error) {
	e.feedMu.Lock()
	defer e.feedMu.Unlock()

	if e.closed {
		return 0, fmt.Errorf("%w: engine shut down", rterrors.ErrConnectionClosed)
	}

	room := feedBufCap - e.feedBuf.Len()
	if room <= 0 {
		return 0, nil
	}

	n := len(ciphertext)
	if n > room {
		n = room
	}
	e.feedBuf.Write(ciphertext[:n])
	e.feedCond.Signal()

	return n, nil
}

func (e *cryptoTLSEngine) Read(max int) ([]byte, error) {
	buf := make([]byte, max)
	n, err := e.conn.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", rterrors.ErrConnectionClosed, err)
	}
	return buf[:n], nil
}

func (e *cryptoTLSEngine) Write(plaintext []byte) (int, error) {
	n, err := e.conn.Write(plaintext)
	if err != nil {
		return n, fmt.Errorf("%w: %v", rterrors.ErrTLSProgressFailed, err)
	}
	return n, nil
}

func (e *cryptoTLSEngine) GetOutput() []byte {
	e.outMu.Lock()
	defer e.outMu.Unlock()

	if e.outBuf.Len() == 0 {
		return nil
	}
	out := make([]byte, e.outBuf.Len())
	copy(out, e.outBuf.Bytes())
	e.outBuf.Reset()
	return out
}

func (e *cryptoTLSEngine) Handshake() error {
	e.handshakeOnce.Do(func() {
		go func() {
			e.handshakeErr = e.conn.Handshake()
			close(e.handshakeDone)
		}()
	})

	select {
	case <-e.handshakeDone:
	default:
		return nil // not yet complete; caller re-steps
	}

	if e.handshakeErr != nil {
		return fmt.Errorf("%w: %v", rterrors.ErrTLSHandshakeFailed, e.handshakeErr)
	}
	return nil
}

func (e *cryptoTLSEngine) HandshakeComplete() bool {
	select {
	case <-e.handshakeDone:
		return e.handshakeErr == nil
	default:
		return false
	}
}

func (e *cryptoTLSEngine) GetALPNProtocol() string {
	return e.conn.ConnectionState().NegotiatedProtocol
}

func (e *cryptoTLSEngine) Shutdown() error {
	err := e.conn.Close()

	e.feedMu.Lock()
	e.closed = true
	e.feedCond.Broadcast()
	e.feedMu.Unlock()

	e.netSide.Close()

	if err != nil {
		return fmt.Errorf("%w: %v", rterrors.ErrTLSHandshakeFailed, err)
	}
	return nil
}
