// Package httpmsg implements HTTP/1.1 message handling: request
// building, the incremental response/request parser, chunked transfer
// encoding, the client fetch pipeline, the server request pipeline, and
// the WebSocket upgrade handshake.
package httpmsg

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Header is a simple case-insensitive header map: canonical-cased keys,
// each with one or more values in insertion order, matching net/http's
// own shape so callers can fold/lookup the way the standard library does.
// Key order is not kept; writeFolded emits keys sorted.
type Header map[string][]string

func NewHeader() Header { return make(Header) }

func (h Header) Set(key, value string) { h[CanonicalHeaderKey(key)] = []string{value} }
func (h Header) Add(key, value string) {
	k := CanonicalHeaderKey(key)
	h[k] = append(h[k], value)
}
func (h Header) Get(key string) string {
	v := h[CanonicalHeaderKey(key)]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}
func (h Header) Del(key string) { delete(h, CanonicalHeaderKey(key)) }

// CanonicalHeaderKey title-cases a header field name ("content-type" ->
// "Content-Type"), matching net/textproto's MIME canonicalization.
func CanonicalHeaderKey(key string) string {
	parts := strings.Split(key, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, "-")
}

// validate rejects header field names/values that would produce
// malformed wire bytes.
func (h Header) validate() error {
	for key, values := range h {
		if !httpguts.ValidHeaderFieldName(key) {
			return fmt.Errorf("httpmsg: invalid header field name %q", key)
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return fmt.Errorf("httpmsg: invalid header field value for %q", key)
			}
		}
	}
	return nil
}

// writeFolded writes h in "Key: value\r\n" form, one line per value, in
// a stable (sorted) key order so wire output is deterministic.
func (h Header) writeFolded(w *strings.Builder) {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			w.WriteString(k)
			w.WriteString(": ")
			w.WriteString(v)
			w.WriteString("\r\n")
		}
	}
}

// RequestHead is the request-line plus headers.
type RequestHead struct {
	Method        string
	Path          string
	Proto         string // "HTTP/1.1"
	Header        Header
	ContentLength int64 // -1 means unknown/chunked
}

// ResponseHead is the status-line plus headers a server writes or a
// client parses.
type ResponseHead struct {
	Status        int
	Reason        string
	Proto         string
	Header        Header
	ContentLength int64
}

const defaultUserAgent = "tjs/1.0"

// BuildRequest composes the request-line, folded headers, a blank line,
// and body into a single buffer. host and body may be empty; defaults
// fill Host, Content-Length (when body is non-empty), and User-Agent
// when absent.
func BuildRequest(method, path, host string, header Header, body []byte) ([]byte, error) {
	if header == nil {
		header = NewHeader()
	}
	if header.Get("Host") == "" && host != "" {
		header.Set("Host", host)
	}
	if len(body) > 0 && header.Get("Content-Length") == "" {
		header.Set("Content-Length", strconv.Itoa(len(body)))
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", defaultUserAgent)
	}
	if err := header.validate(); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, path)
	header.writeFolded(&b)
	b.WriteString("\r\n")

	out := append([]byte(b.String()), body...)
	return out, nil
}

// BuildResponse composes a status-line, folded headers, a blank line,
// and body. The server's auto-emit path (when a handler writes nothing)
// and explicit handler-written responses both go through this.
func BuildResponse(status int, reason string, header Header, body []byte) ([]byte, error) {
	if header == nil {
		header = NewHeader()
	}
	if header.Get("Content-Length") == "" && header.Get("Transfer-Encoding") == "" {
		header.Set("Content-Length", strconv.Itoa(len(body)))
	}
	if err := header.validate(); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, reason)
	header.writeFolded(&b)
	b.WriteString("\r\n")

	out := append([]byte(b.String()), body...)
	return out, nil
}
