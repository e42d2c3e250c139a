package tjs

import (
	"bufio"
	"io"

	"github.com/cobalt-run/tjs/internal/wsock"
)

// WebSocket is an accepted, already-upgraded WebSocket connection. See
// internal/wsock for the full frame codec and state machine; this alias
// is what a WebSocketHandler's onAccept callback receives.
type WebSocket = wsock.WebSocket

// Event, MessageEvent, and CloseEvent are the payloads dispatched to
// listeners registered with WebSocket.AddEventListener.
type (
	Event        = wsock.Event
	MessageEvent = wsock.MessageEvent
	CloseEvent   = wsock.CloseEvent
)

// WebSocket event types, for AddEventListener.
const (
	EventOpen    = wsock.EventOpen
	EventMessage = wsock.EventMessage
	EventPing    = wsock.EventPing
	EventPong    = wsock.EventPong
	EventClose   = wsock.EventClose
	EventError   = wsock.EventError
)

// WebSocketHandler is consulted for every request carrying a valid
// WebSocket upgrade handshake. Returning ok=false rejects the request
// with 403; otherwise onAccept (if non-nil) is called with the new
// WebSocket, already past the handshake but not yet started, so it can
// register event listeners before any frame traffic is processed.
type WebSocketHandler func(req *Request) (onAccept func(ws *WebSocket), ok bool)

// bufferedConn lets the WebSocket codec read frame bytes through a
// bufio.Reader that may already hold bytes buffered ahead of the upgrade
// response — a peer that writes its first frame immediately after the
// handshake completes can have bytes sitting in the parser's buffer
// before the codec ever looks at the socket — while writes and Close go
// straight to the hijacked connection.
type bufferedConn struct {
	io.ReadWriteCloser
	br *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.br.Read(p) }
