package tjs

import "github.com/cobalt-run/tjs/internal/rterrors"

// The error taxonomy of the runtime. Every failure surfaced to a
// guest script or to Go caller code maps to exactly one of these kinds;
// internal packages wrap the underlying cause with
// fmt.Errorf("...: %w", cause) so errors.Is/As still find the sentinel.
// These are aliases of the internal/rterrors values so every layer of the
// runtime shares one taxonomy.
var (
	// ErrResolutionFailed means no resolution candidate existed for a
	// specifier (all extension/path probes exhausted).
	ErrResolutionFailed = rterrors.ErrResolutionFailed

	// ErrFetchFailed means an HTTP non-200 response or a network/DNS
	// error occurred while fetching a remote module or JSR metadata.
	ErrFetchFailed = rterrors.ErrFetchFailed

	// ErrTransformFailed means the transpiler rejected the source text.
	ErrTransformFailed = rterrors.ErrTransformFailed

	// ErrDisabledProtocol means HTTP, JSR or node: resolution was
	// attempted while disabled by configuration.
	ErrDisabledProtocol = rterrors.ErrDisabledProtocol

	// ErrPoolTimeout means acquire() found no connection available
	// before Config.PoolAcquireTimeout elapsed.
	ErrPoolTimeout = rterrors.ErrPoolTimeout

	// ErrConnectionClosed means the peer closed the socket unexpectedly.
	ErrConnectionClosed = rterrors.ErrConnectionClosed

	// ErrTLSHandshakeFailed wraps a closure or rejection during the TLS
	// handshake.
	ErrTLSHandshakeFailed = rterrors.ErrTLSHandshakeFailed

	// ErrTLSProgressFailed means feed or write on the TLS engine
	// returned a negative/invalid result; it is not recoverable.
	ErrTLSProgressFailed = rterrors.ErrTLSProgressFailed

	// ErrHTTPParse means the HTTP parser's error state became non-zero
	// on something other than a protocol upgrade.
	ErrHTTPParse = rterrors.ErrHTTPParse

	// ErrAborted is the user-visible name for a cooperatively cancelled
	// operation (an AbortSignal fired).
	ErrAborted = rterrors.ErrAborted

	// ErrTooManyRedirects means a fetch redirect chain exceeded
	// Config.MaxRedirects hops (20 by default).
	ErrTooManyRedirects = rterrors.ErrTooManyRedirects

	// ErrProtocol means a WebSocket frame violated an RFC 6455
	// invariant; the connection is closed with code 1002.
	ErrProtocol = rterrors.ErrProtocol

	// ErrNotSupported means the implementation deliberately omits this
	// branch (e.g. a UNIX-socket HTTP server).
	ErrNotSupported = rterrors.ErrNotSupported

	// ErrPROXYHeader means a whitelisted relayer's PROXY protocol v1/v2
	// preamble failed to parse.
	ErrPROXYHeader = rterrors.ErrPROXYHeader
)
