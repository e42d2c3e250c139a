package tjs

import "github.com/cobalt-run/tjs/internal/httpmsg"

// Response is a received response to a Fetch call: the status/header
// already parsed, and a lazy Body the caller must Read (or Body.Cancel,
// e.g. it decided not to consume the payload) to completion.
type Response struct {
	Status int
	Header *Headers
	Body   *httpmsg.Body

	// URL is the final URL after following any redirects.
	URL string
}

// ResponseWriter is the handler-facing half of a server response: set
// Header, then WriteHead and/or Write. Writing without a prior WriteHead
// auto-emits 200; writing without a Content-Length header switches to
// chunked transfer-coding.
type ResponseWriter struct {
	inner  *httpmsg.ResponseWriter
	header *Headers
	synced bool
}

func newResponseWriter(inner *httpmsg.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{inner: inner, header: NewHeaders()}
}

// Header returns the header map to populate before the first Write or
// WriteHead call.
func (w *ResponseWriter) Header() *Headers { return w.header }

// WriteHead sends status and the accumulated header immediately. It must
// be called, if at all, before the first Write.
func (w *ResponseWriter) WriteHead(status int) error {
	w.sync()
	return w.inner.WriteHead(status)
}

// Write writes part of the response body, auto-emitting the head (with
// status 200 if WriteHead was never called) on the first call.
func (w *ResponseWriter) Write(p []byte) (int, error) {
	w.sync()
	return w.inner.Write(p)
}

// sync copies the accumulated public Headers into the internal writer's
// header map exactly once, just before the first byte of the response
// (head or body) goes out — headers set after that point have no effect,
// matching the underlying writer's own contract.
func (w *ResponseWriter) sync() {
	if w.synced {
		return
	}
	w.synced = true
	ih := w.inner.Header()
	for _, k := range w.header.Keys() {
		for _, v := range w.header.Get(k) {
			ih.Add(k, v)
		}
	}
}
