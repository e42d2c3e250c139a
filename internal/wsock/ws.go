package wsock

import (
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cobalt-run/tjs/internal/rterrors"
)

// Role identifies which end of the handshake this WebSocket plays,
// which in turn dictates which direction masks frames: clients mask
// outbound frames and expect unmasked inbound frames, servers never
// mask and expect masked inbound frames.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// ReadyState mirrors the WHATWG WebSocket readyState values.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

// BinaryType selects how a received BINARY message is exposed.
type BinaryType int

const (
	BinaryTypeBytes BinaryType = iota
	BinaryTypeBlob
)

// Config tunes a WebSocket's keepalive and close-handshake timing.
type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	CloseTimeout time.Duration
}

// DefaultConfig returns the standard keepalive timing: a PING every 30s,
// a 5s pong timeout, and a 1s wait for the peer's CLOSE echo.
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		PongTimeout:  5 * time.Second,
		CloseTimeout: time.Second,
	}
}

// WebSocket is one RFC 6455 connection: a frame codec plus the
// CONNECTING/OPEN/CLOSING/CLOSED state machine, ping/pong keepalive, and
// EventTarget-style dispatch ("open", "message", "ping", "pong",
// "close", "error").
type WebSocket struct {
	conn        io.ReadWriteCloser
	role        Role
	cfg         Config
	subprotocol string

	reassembler *Reassembler
	events      *eventListeners

	mu         sync.Mutex
	state      ReadyState
	binaryType BinaryType
	pongTimer  *time.Timer

	writeMu       sync.Mutex
	keepaliveStop chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// New returns a WebSocket in CONNECTING state wrapping conn, which must
// already have completed the HTTP upgrade handshake (see
// internal/httpmsg's BuildUpgradeRequest/BuildUpgradeResponse). Call
// Start to transition to OPEN and begin the read and keepalive loops.
func New(conn io.ReadWriteCloser, role Role, subprotocol string, cfg Config) *WebSocket {
	return &WebSocket{
		conn:          conn,
		role:          role,
		cfg:           cfg,
		subprotocol:   subprotocol,
		reassembler:   NewReassembler(role == RoleServer),
		events:        newEventListeners(),
		state:         StateConnecting,
		keepaliveStop: make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start transitions the WebSocket to OPEN, fires "open", and launches
// the background read and keepalive loops. Call once.
func (ws *WebSocket) Start() {
	ws.mu.Lock()
	ws.state = StateOpen
	ws.mu.Unlock()

	ws.events.dispatch(&Event{Type: EventOpen})

	go ws.keepaliveLoop()
	go ws.readLoop()
}

// ReadyState returns the current state.
func (ws *WebSocket) ReadyState() ReadyState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// Subprotocol returns the negotiated subprotocol, or "" if none.
func (ws *WebSocket) Subprotocol() string { return ws.subprotocol }

// SetBinaryType selects how future BINARY messages are exposed.
func (ws *WebSocket) SetBinaryType(t BinaryType) {
	ws.mu.Lock()
	ws.binaryType = t
	ws.mu.Unlock()
}

// BinaryType returns the current binary-message exposure mode.
func (ws *WebSocket) BinaryType() BinaryType {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.binaryType
}

// AddEventListener registers fn to run whenever an event of typ fires,
// in registration order alongside any previously added listeners.
func (ws *WebSocket) AddEventListener(typ EventType, fn func(*Event)) {
	ws.events.add(typ, fn)
}

// SendText sends a single unfragmented TEXT frame.
func (ws *WebSocket) SendText(text string) error {
	if ws.ReadyState() != StateOpen {
		return rterrors.ErrConnectionClosed
	}
	return ws.writeFrame(true, OpText, []byte(text))
}

// SendBinary sends a single unfragmented BINARY frame.
func (ws *WebSocket) SendBinary(data []byte) error {
	if ws.ReadyState() != StateOpen {
		return rterrors.ErrConnectionClosed
	}
	return ws.writeFrame(true, OpBinary, data)
}

// Close performs the graceful close handshake: send a CLOSE frame
// carrying code/reason, wait up to Config.CloseTimeout for the peer's
// CLOSE echo (observed by the read loop), then finalize. If the peer
// never echoes, the connection is force-closed with code 1006 and the
// "close" event reports wasClean:false.
func (ws *WebSocket) Close(code uint16, reason string) error {
	ws.mu.Lock()
	switch ws.state {
	case StateClosed:
		ws.mu.Unlock()
		return nil
	case StateOpen:
		ws.state = StateClosing
	}
	ws.mu.Unlock()

	writeErr := ws.writeFrame(true, OpClose, EncodeCloseReason(code, reason))

	select {
	case <-ws.done:
	case <-time.After(ws.cfg.CloseTimeout):
		ws.finalizeClose(1006, "close handshake timed out")
	}
	return writeErr
}

func (ws *WebSocket) readLoop() {
	for {
		msg, ctrl, err := ws.reassembler.Next(ws.conn)
		if err != nil {
			if errors.Is(err, rterrors.ErrProtocol) {
				ws.protocolError(err)
			} else {
				ws.connectionLost(err)
			}
			return
		}

		if ctrl != nil {
			if !ws.handleControl(ctrl) {
				return
			}
			continue
		}

		me := &MessageEvent{Opcode: msg.Opcode}
		if msg.Opcode == OpText {
			me.Text = string(msg.Payload)
		} else {
			me.Binary = msg.Payload
		}
		ws.events.dispatch(&Event{Type: EventMessage, Data: me})
	}
}

// handleControl dispatches one control frame per RFC 6455's table,
// returning false if the connection is now finished (a CLOSE was
// processed) and the read loop should stop.
func (ws *WebSocket) handleControl(f *Frame) bool {
	switch f.Opcode {
	case OpPing:
		ws.events.dispatch(&Event{Type: EventPing, Data: f.Payload})
		if err := ws.writeFrame(true, OpPong, f.Payload); err != nil {
			ws.connectionLost(err)
			return false
		}
		return true
	case OpPong:
		ws.mu.Lock()
		if ws.pongTimer != nil {
			ws.pongTimer.Stop()
			ws.pongTimer = nil
		}
		ws.mu.Unlock()
		ws.events.dispatch(&Event{Type: EventPong, Data: f.Payload})
		return true
	case OpClose:
		code, reason := DecodeCloseReason(f.Payload)
		if ws.ReadyState() == StateOpen {
			ws.writeFrame(true, OpClose, f.Payload)
		}
		ws.finalizeClose(code, reason)
		return false
	default:
		ws.protocolError(rterrors.ErrProtocol)
		return false
	}
}

func (ws *WebSocket) keepaliveLoop() {
	if ws.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(ws.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ws.keepaliveStop:
			return
		case <-ticker.C:
			if ws.ReadyState() != StateOpen {
				return
			}
			if err := ws.writeFrame(true, OpPing, nil); err != nil {
				ws.connectionLost(err)
				return
			}
			timer := time.AfterFunc(ws.cfg.PongTimeout, func() {
				ws.finalizeClose(1006, "pong timeout")
			})
			ws.mu.Lock()
			ws.pongTimer = timer
			ws.mu.Unlock()
		}
	}
}

// protocolError reports err via the "error" event, sends a best-effort
// CLOSE 1002, and finalizes as an unclean close.
func (ws *WebSocket) protocolError(err error) {
	ws.events.dispatch(&Event{Type: EventError, Data: err})
	if ws.ReadyState() == StateOpen || ws.ReadyState() == StateClosing {
		ws.writeFrame(true, OpClose, EncodeCloseReason(1002, ""))
	}
	ws.finalizeClose(1002, "")
}

// connectionLost reports a transport-level failure and finalizes as an
// abnormal closure (1006), per the state machine's "abnormal paths jump
// directly to CLOSED with code 1006".
func (ws *WebSocket) connectionLost(err error) {
	if err != nil && err != io.EOF {
		ws.events.dispatch(&Event{Type: EventError, Data: err})
	}
	ws.finalizeClose(1006, "")
}

func (ws *WebSocket) finalizeClose(code uint16, reason string) {
	ws.closeOnce.Do(func() {
		ws.mu.Lock()
		ws.state = StateClosed
		if ws.pongTimer != nil {
			ws.pongTimer.Stop()
			ws.pongTimer = nil
		}
		ws.mu.Unlock()

		close(ws.keepaliveStop)
		ws.conn.Close()
		close(ws.done)

		ws.events.dispatch(&Event{Type: EventClose, Data: &CloseEvent{
			Code:     code,
			Reason:   reason,
			WasClean: code == 1000,
		}})
	})
}

func (ws *WebSocket) writeFrame(fin bool, opcode Opcode, payload []byte) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	mask := ws.role == RoleClient
	return WriteFrame(ws.conn, fin, opcode, payload, mask, func(key []byte) error {
		_, err := rand.Read(key)
		return err
	})
}
