package tjs

import "github.com/cobalt-run/tjs/internal/httpmsg"

// Request is an incoming HTTP or WebSocket-upgrade request as seen by a
// Handler or WebSocketHandler.
type Request struct {
	Method string
	URL    string
	Proto  string
	Header *Headers

	// Body streams the request payload. It is nil for a WebSocket
	// upgrade request, which carries no body. Handlers that return
	// without fully reading Body cause its remaining bytes to be
	// drained automatically, unless Body.Cancel was called explicitly
	// (e.g. because the handler rejected the request), which forces the
	// connection closed instead of reused.
	Body *httpmsg.Body
}

// headersFromHTTP copies an internal httpmsg.Header into the public,
// order-preserving Headers representation handlers see.
func headersFromHTTP(h httpmsg.Header) *Headers {
	out := NewHeaders()
	for k, vs := range h {
		for _, v := range vs {
			out.Append(k, v)
		}
	}
	return out
}

// httpHeaderFromHeaders is the inverse of headersFromHTTP, used when
// building an outgoing request or response from a caller-populated
// Headers value.
func httpHeaderFromHeaders(h *Headers) httpmsg.Header {
	out := httpmsg.NewHeader()
	if h == nil {
		return out
	}
	for _, k := range h.Keys() {
		for _, v := range h.Get(k) {
			out.Add(k, v)
		}
	}
	return out
}
