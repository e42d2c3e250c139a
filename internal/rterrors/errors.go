// Package rterrors holds the runtime's error taxonomy as sentinel
// values shared by every internal package and re-exported from the root
// package, so errors.Is/As works the same way regardless of which layer
// of the runtime a failure originated in.
package rterrors

import "errors"

var (
	// ErrResolutionFailed means no resolution candidate existed for a
	// specifier (all extension/path probes exhausted).
	ErrResolutionFailed = errors.New("tjs: module resolution failed")

	// ErrFetchFailed means an HTTP non-200 response or a network/DNS
	// error occurred while fetching a remote module or JSR metadata.
	ErrFetchFailed = errors.New("tjs: module fetch failed")

	// ErrTransformFailed means the transpiler rejected the source text.
	ErrTransformFailed = errors.New("tjs: source transformation failed")

	// ErrDisabledProtocol means HTTP, JSR or node: resolution was
	// attempted while disabled by configuration.
	ErrDisabledProtocol = errors.New("tjs: protocol disabled by configuration")

	// ErrPoolTimeout means acquire() found no connection available
	// before Config.PoolAcquireTimeout elapsed.
	ErrPoolTimeout = errors.New("tjs: connection pool acquire timed out")

	// ErrConnectionClosed means the peer closed the socket unexpectedly.
	ErrConnectionClosed = errors.New("tjs: connection closed unexpectedly")

	// ErrTLSHandshakeFailed wraps a closure or rejection during the TLS
	// handshake.
	ErrTLSHandshakeFailed = errors.New("tjs: tls handshake failed")

	// ErrTLSProgressFailed means feed or write on the TLS engine
	// returned a negative/invalid result; it is not recoverable.
	ErrTLSProgressFailed = errors.New("tjs: tls engine made no progress")

	// ErrHTTPParse means the HTTP parser's error state became non-zero
	// on something other than a protocol upgrade.
	ErrHTTPParse = errors.New("tjs: http parse error")

	// ErrAborted is the user-visible name for a cooperatively cancelled
	// operation (an AbortSignal fired).
	ErrAborted = errors.New("tjs: operation aborted")

	// ErrTooManyRedirects means a fetch redirect chain exceeded
	// Config.MaxRedirects hops (20 by default).
	ErrTooManyRedirects = errors.New("tjs: too many redirects")

	// ErrProtocol means a WebSocket frame violated an RFC 6455
	// invariant; the connection is closed with code 1002.
	ErrProtocol = errors.New("tjs: websocket protocol error")

	// ErrNotSupported means the implementation deliberately omits this
	// branch (e.g. a UNIX-socket HTTP server).
	ErrNotSupported = errors.New("tjs: not supported")

	// ErrPROXYHeader means a whitelisted relayer's PROXY protocol v1/v2
	// preamble failed to parse.
	ErrPROXYHeader = errors.New("tjs: proxy protocol header error")
)
