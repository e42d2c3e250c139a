package httpmsg

import (
	"bufio"
	"fmt"
	"io"

	"github.com/cobalt-run/tjs/internal/rterrors"
)

// Body is a lazy byte sequence: a pull-based producer of a finite,
// non-restartable byte stream with an explicit close signal. NewBody
// selects a Content-Length-bounded or chunked-decoding reader depending
// on the parsed head.
type Body struct {
	r         io.Reader
	onClose   func(cancelled bool)
	closed    bool
	cancelled bool
}

// NewBody builds the body reader for a parsed head: chunked decoding
// takes precedence over Content-Length. unboundedAllowed selects what an
// absent Content-Length (and no chunked encoding) means: for a response,
// true, since the body legitimately runs until the connection closes;
// for a request, false, since RFC 7230 requires a request body to be
// announced by one of those two headers, so its absence means no body.
// onClose, if non-nil, is invoked exactly once when the body is closed,
// with cancelled reporting whether Close arrived via natural completion
// (false) or explicit Cancel (true) — callers use it to decide whether
// the owning Connection can be released back to its pool or must be
// force-closed instead, since a cancelled body leaves unread bytes on
// the wire that would otherwise desynchronize the next request.
func NewBody(br *bufio.Reader, header Header, contentLength int64, unboundedAllowed bool, onClose func(cancelled bool)) *Body {
	var r io.Reader
	switch {
	case IsChunked(header):
		r = NewChunkedReader(br)
	case contentLength > 0:
		r = io.LimitReader(br, contentLength)
	case contentLength == 0:
		r = io.LimitReader(br, 0)
	case unboundedAllowed:
		r = br
	default:
		r = io.LimitReader(br, 0)
	}
	return &Body{r: r, onClose: onClose}
}

func (b *Body) Read(p []byte) (int, error) {
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := b.r.Read(p)
	if err == io.EOF {
		b.Close()
	}
	return n, err
}

// Close marks the body consumed and releases its connection, per
// natural completion.
func (b *Body) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.onClose != nil {
		b.onClose(b.cancelled)
	}
	return nil
}

// Cancel aborts the body before it is fully read: the owning connection
// is not reusable, since its remaining bytes were never drained, so
// onClose is told to force-close it rather than return it to a
// keep-alive pool.
func (b *Body) Cancel() error {
	if b.closed {
		return nil
	}
	b.cancelled = true
	return b.Close()
}

// Cancelled reports whether the body was closed via Cancel rather than
// by being fully read.
func (b *Body) Cancelled() bool { return b.cancelled }

// drainRemaining discards whatever is left of b so the underlying
// Connection's parser is left at a clean message boundary before reuse.
func (b *Body) drainRemaining() error {
	_, err := io.Copy(io.Discard, b.r)
	if err != nil {
		return fmt.Errorf("%w: %v", rterrors.ErrHTTPParse, err)
	}
	return nil
}
