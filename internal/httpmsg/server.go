package httpmsg

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/cobalt-run/tjs/internal/connpool"
	"github.com/cobalt-run/tjs/internal/rterrors"
)

// Handler processes one parsed request against w, reading req's body (if
// any) and writing a response through w. Returning an error aborts the
// connection; a nil error with w left unwritten auto-emits 200 with
// Content-Length: 0.
type Handler func(req *RequestHead, body *Body, w *ResponseWriter) error

// WebSocketUpgradeHandler completes a validated upgrade handshake: it
// must write a response (typically via BuildUpgradeResponse and w.Hijack)
// and take over the connection for as long as the WebSocket lives. br
// carries any bytes the parser already buffered past the header block, so
// the caller must read frame traffic through it rather than w.Hijack()
// directly — a peer that writes its first frame immediately after the
// handshake may already have bytes sitting in br's buffer.
type WebSocketUpgradeHandler func(req *RequestHead, w *ResponseWriter, br *bufio.Reader) error

// RequestPipeline adapts a Handler into the connpool.Server.Handler shape,
// keeping one Parser alive per ServerConnection across keep-alive reuse so
// buffered bytes from one request's trailing body carry into the next
// request-line read.
type RequestPipeline struct {
	App                   Handler
	WebSocketUpgrade      WebSocketUpgradeHandler
	MaxHeaderBytes        int
	OnSwallowedDrainError func(err error)

	mu      sync.Mutex
	parsers map[*connpool.ServerConnection]*Parser
}

// NewRequestPipeline returns a RequestPipeline that dispatches parsed
// requests to app. webSocketUpgrade, if non-nil, is consulted for any
// request carrying a valid WebSocket upgrade handshake.
func NewRequestPipeline(app Handler, webSocketUpgrade WebSocketUpgradeHandler) *RequestPipeline {
	return &RequestPipeline{
		App:              app,
		WebSocketUpgrade: webSocketUpgrade,
		parsers:          make(map[*connpool.ServerConnection]*Parser),
	}
}

// Handle is bound to connpool.Server.Handler; it serves exactly one
// request on sc.
func (p *RequestPipeline) Handle(sc *connpool.ServerConnection) (connpool.HandlerResult, error) {
	parser := p.parserFor(sc)

	reqHead, _, err := parser.ParseHead()
	if err == io.EOF {
		p.forget(sc)
		return connpool.HandlerResult{KeepAlive: false}, nil
	}
	if err != nil {
		p.forget(sc)
		respondServerError(sc)
		return connpool.HandlerResult{}, fmt.Errorf("%w: %v", rterrors.ErrHTTPParse, err)
	}

	if IsUpgrade(reqHead.Header) && p.WebSocketUpgrade != nil {
		w := newResponseWriter(sc)
		if err := p.WebSocketUpgrade(reqHead, w, parser.BufioReader()); err != nil {
			p.forget(sc)
			return connpool.HandlerResult{}, err
		}
		p.forget(sc)
		return connpool.HandlerResult{Upgraded: true}, nil
	}

	if IsUpgradeAttempt(reqHead.Header) && !IsUpgrade(reqHead.Header) {
		p.forget(sc)
		respondMalformedUpgrade(reqHead, sc)
		return connpool.HandlerResult{}, fmt.Errorf("%w: malformed websocket upgrade request", rterrors.ErrProtocol)
	}

	var drainErr error
	reqBody := NewBody(parser.BufioReader(), reqHead.Header, reqHead.ContentLength, false, nil)

	w := newResponseWriter(sc)
	handlerErr := p.App(reqHead, reqBody, w)

	if !reqBody.Cancelled() {
		drainErr = reqBody.drainRemaining()
	}

	if handlerErr != nil {
		p.forget(sc)
		if !w.headerWritten {
			w.Header().Set("Content-Length", "0")
			w.WriteHead(500)
		}
		return connpool.HandlerResult{}, handlerErr
	}

	if err := w.finish(); err != nil {
		p.forget(sc)
		return connpool.HandlerResult{}, err
	}

	keepAlive := requestKeepAlive(reqHead) && w.keepAliveEligible() && !reqBody.Cancelled()
	if drainErr != nil {
		if p.OnSwallowedDrainError != nil {
			p.OnSwallowedDrainError(drainErr)
		}
		keepAlive = false
	}

	if !keepAlive {
		p.forget(sc)
	}

	return connpool.HandlerResult{KeepAlive: keepAlive}, nil
}

// respondServerError writes a bare 500 response on sc for a request that
// never reached a handler (the request line or header block failed to
// parse), so the connection is closed with an explicit status instead of
// silently. Errors from the write itself are ignored: the connection is
// already on its way to being force-closed by the caller.
func respondServerError(sc *connpool.ServerConnection) {
	w := newResponseWriter(sc)
	w.Header().Set("Content-Length", "0")
	w.WriteHead(500)
}

// respondMalformedUpgrade answers an Upgrade: websocket request that
// fails one of the other handshake requirements (RFC 6455 §4.2.1): 426
// with an advertised Sec-WebSocket-Version when the version is the
// specific problem, 400 otherwise (missing/invalid key, wrong
// Connection token).
func respondMalformedUpgrade(req *RequestHead, sc *connpool.ServerConnection) {
	w := newResponseWriter(sc)
	status := 400
	if v := req.Header.Get("Sec-WebSocket-Version"); v != "" && v != "13" {
		status = 426
		w.Header().Set("Sec-WebSocket-Version", "13")
	}
	w.Header().Set("Content-Length", "0")
	w.WriteHead(status)
}

func (p *RequestPipeline) parserFor(sc *connpool.ServerConnection) *Parser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if parser, ok := p.parsers[sc]; ok {
		return parser
	}
	parser := NewParser(TypeRequest, sc)
	p.parsers[sc] = parser
	return parser
}

func (p *RequestPipeline) forget(sc *connpool.ServerConnection) {
	p.mu.Lock()
	delete(p.parsers, sc)
	p.mu.Unlock()
}

// requestKeepAlive reports whether the request itself permits reuse:
// HTTP/1.1 defaults to keep-alive unless Connection: close is present;
// HTTP/1.0 requires an explicit Connection: keep-alive.
func requestKeepAlive(req *RequestHead) bool {
	if headerTokenContains(req.Header.Get("Connection"), "close") {
		return false
	}
	if req.Proto == "HTTP/1.0" {
		return headerTokenContains(req.Header.Get("Connection"), "keep-alive")
	}
	return true
}

// ResponseWriter is the handler-facing half of a server response: an
// explicit WriteHead, incremental Write calls, and an End. Writing
// without a prior WriteHead auto-emits 200; writing without a
// Content-Length switches to chunked transfer-coding.
type ResponseWriter struct {
	sc *connpool.ServerConnection

	headerWritten bool
	chunked       bool
	contentLength int64 // -1 once unknown (chunked), else the declared length
	written       int64
	status        int
	header        Header

	closeSignaled bool // handler explicitly set Connection: close
}

func newResponseWriter(sc *connpool.ServerConnection) *ResponseWriter {
	return &ResponseWriter{sc: sc, status: 200, header: NewHeader()}
}

// Header returns the header map to populate before the first Write or
// WriteHead call.
func (w *ResponseWriter) Header() Header { return w.header }

// Hijack exposes the underlying connection for a WebSocketUpgradeHandler,
// which must write its own 101 response bytes (via BuildUpgradeResponse)
// rather than go through Write/WriteHead's Content-Length/chunked framing.
func (w *ResponseWriter) Hijack() io.ReadWriteCloser { return w.sc }

// WriteHead sends status and the accumulated header immediately. It must
// be called, if at all, before the first Write.
func (w *ResponseWriter) WriteHead(status int) error {
	if w.headerWritten {
		return fmt.Errorf("httpmsg: response head already written")
	}
	w.status = status
	return w.flushHead(nil)
}

func (w *ResponseWriter) flushHead(firstChunk []byte) error {
	if w.headerWritten {
		return nil
	}

	if headerTokenContains(w.header.Get("Connection"), "close") {
		w.closeSignaled = true
	}

	switch {
	case w.header.Get("Content-Length") != "":
		if n, err := strconv.ParseInt(w.header.Get("Content-Length"), 10, 64); err == nil {
			w.contentLength = n
		}
	case IsChunked(w.header):
		w.chunked = true
		w.contentLength = -1
	default:
		w.chunked = true
		w.contentLength = -1
		w.header.Set("Transfer-Encoding", "chunked")
	}

	head, err := BuildResponse(w.status, statusReason(w.status), w.header, nil)
	if err != nil {
		return err
	}

	if _, err := w.sc.Write(head); err != nil {
		return fmt.Errorf("%w: %v", rterrors.ErrConnectionClosed, err)
	}
	w.headerWritten = true

	if len(firstChunk) > 0 {
		return w.writeBody(firstChunk)
	}
	return nil
}

// Write writes part of the response body, auto-emitting the head (with
// status 200 if WriteHead was never called) on the first call.
func (w *ResponseWriter) Write(p []byte) (int, error) {
	if !w.headerWritten {
		if w.header.Get("Content-Length") == "" && w.header.Get("Transfer-Encoding") == "" {
			w.chunked = true
		}
		if err := w.flushHead(p); err != nil {
			return 0, err
		}
		w.written += int64(len(p))
		return len(p), nil
	}
	if err := w.writeBody(p); err != nil {
		return 0, err
	}
	w.written += int64(len(p))
	return len(p), nil
}

func (w *ResponseWriter) writeBody(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if w.chunked {
		return WriteChunk(w.sc, p)
	}
	_, err := w.sc.Write(p)
	if err != nil {
		return fmt.Errorf("%w: %v", rterrors.ErrConnectionClosed, err)
	}
	return nil
}

// finish flushes the head (for handlers that wrote nothing, producing a
// 200 with Content-Length: 0) and closes out chunked framing.
func (w *ResponseWriter) finish() error {
	if !w.headerWritten {
		w.header.Set("Content-Length", "0")
		if err := w.flushHead(nil); err != nil {
			return err
		}
		return nil
	}
	if w.chunked {
		return WriteChunkedTrailer(w.sc)
	}
	return nil
}

// keepAliveEligible reports whether the response framing leaves the
// connection at an unambiguous boundary: a declared Content-Length or
// chunked trailer, and no explicit Connection: close.
func (w *ResponseWriter) keepAliveEligible() bool {
	if w.closeSignaled {
		return false
	}
	return w.chunked || w.contentLength >= 0
}

func statusReason(status int) string {
	if reason, ok := statusReasons[status]; ok {
		return reason
	}
	return "Status"
}

var statusReasons = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	413: "Payload Too Large",
	414: "URI Too Long",
	426: "Upgrade Required",
	429: "Too Many Requests",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}
