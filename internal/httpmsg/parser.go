package httpmsg

import (
	"bufio"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/cobalt-run/tjs/internal/rterrors"
)

// ParserType selects which half of a message Parser reads: a parser is
// constructed as either a request parser or a response parser.
type ParserType int

const (
	TypeRequest ParserType = iota
	TypeResponse
)

// ParserState exposes the fields an in-progress parse has discovered so
// far: method, status, negotiated HTTP version, and whether the peer
// closed before sending anything.
type ParserState struct {
	Method    string
	Status    int
	HTTPMajor int
	HTTPMinor int
	EOF       bool
}

// Parser adapts bufio.Reader + net/textproto.Reader into an incremental
// head parser, reading directly from whatever already implements the
// connection layer's unified read/write interface rather than being
// pushed discrete byte chunks — feeding it ciphertext chunks by hand
// would just re-buffer what bufio.Reader already buffers. See
// DESIGN.md for why no pack library's parser fits closely enough to
// prefer over this adapter.
type Parser struct {
	typ   ParserType
	br    *bufio.Reader
	tp    *textproto.Reader
	State ParserState
}

// NewParser constructs a parser of typ reading from r.
func NewParser(typ ParserType, r io.Reader) *Parser {
	br := bufio.NewReaderSize(r, 4096)
	return &Parser{typ: typ, br: br, tp: textproto.NewReader(br)}
}

// Reset rebinds p to read a new message from r, for connection reuse
// across keep-alive requests.
func (p *Parser) Reset(r io.Reader) {
	p.br.Reset(r)
	p.tp = textproto.NewReader(p.br)
	p.State = ParserState{}
}

// BufioReader exposes the underlying buffered reader so a caller can pull
// exactly Content-Length/chunked body bytes after ParseHead returns.
func (p *Parser) BufioReader() *bufio.Reader { return p.br }

// ParseHead reads the request-line or status-line and the header block,
// updating p.State, and returns the parsed head. io.EOF (with p.State.EOF
// set) means the peer closed before sending anything — the ordinary
// keep-alive "no more requests" case, not a parse error.
func (p *Parser) ParseHead() (*RequestHead, *ResponseHead, error) {
	line, err := p.tp.ReadLine()
	if err != nil {
		if err == io.EOF {
			p.State.EOF = true
			return nil, nil, io.EOF
		}
		return nil, nil, fmt.Errorf("%w: %v", rterrors.ErrHTTPParse, err)
	}

	mimeHeader, err := p.tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("%w: %v", rterrors.ErrHTTPParse, err)
	}

	header := Header(mimeHeader)

	switch p.typ {
	case TypeRequest:
		head, err := p.parseRequestLine(line, header)
		if err != nil {
			return nil, nil, err
		}
		return head, nil, nil
	default:
		head, err := p.parseStatusLine(line, header)
		if err != nil {
			return nil, nil, err
		}
		return nil, head, nil
	}
}

func (p *Parser) parseRequestLine(line string, header Header) (*RequestHead, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: malformed request line %q", rterrors.ErrHTTPParse, line)
	}

	major, minor, err := parseHTTPVersion(parts[2])
	if err != nil {
		return nil, err
	}

	p.State.Method = parts[0]
	p.State.HTTPMajor, p.State.HTTPMinor = major, minor

	return &RequestHead{
		Method:        parts[0],
		Path:          parts[1],
		Proto:         parts[2],
		Header:        header,
		ContentLength: contentLength(header),
	}, nil
}

func (p *Parser) parseStatusLine(line string, header Header) (*ResponseHead, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: malformed status line %q", rterrors.ErrHTTPParse, line)
	}

	major, minor, err := parseHTTPVersion(parts[0])
	if err != nil {
		return nil, err
	}

	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed status code %q", rterrors.ErrHTTPParse, parts[1])
	}

	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}

	p.State.Status = status
	p.State.HTTPMajor, p.State.HTTPMinor = major, minor

	return &ResponseHead{
		Status:        status,
		Reason:        reason,
		Proto:         parts[0],
		Header:        header,
		ContentLength: contentLength(header),
	}, nil
}

func parseHTTPVersion(proto string) (major, minor int, err error) {
	if !strings.HasPrefix(proto, "HTTP/") {
		return 0, 0, fmt.Errorf("%w: unsupported protocol %q", rterrors.ErrHTTPParse, proto)
	}
	ver := strings.TrimPrefix(proto, "HTTP/")
	parts := strings.SplitN(ver, ".", 2)
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: unsupported protocol %q", rterrors.ErrHTTPParse, proto)
	}
	minor = 0
	if len(parts) == 2 {
		minor, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: unsupported protocol %q", rterrors.ErrHTTPParse, proto)
		}
	}
	return major, minor, nil
}

func contentLength(header Header) int64 {
	v := header.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// IsChunked reports whether header names "chunked" as the (final)
// Transfer-Encoding.
func IsChunked(header Header) bool {
	te := header.Get("Transfer-Encoding")
	if te == "" {
		return false
	}
	parts := strings.Split(te, ",")
	last := strings.TrimSpace(parts[len(parts)-1])
	return strings.EqualFold(last, "chunked")
}

// IsUpgrade reports whether header carries a WebSocket upgrade request.
func IsUpgrade(header Header) bool {
	return strings.EqualFold(header.Get("Upgrade"), "websocket") &&
		headerTokenContains(header.Get("Connection"), "upgrade") &&
		header.Get("Sec-WebSocket-Version") == "13" &&
		header.Get("Sec-WebSocket-Key") != ""
}

// IsUpgradeAttempt reports whether header names an Upgrade: websocket
// request at all, regardless of whether the rest of the handshake is
// valid — used to tell a malformed handshake apart from an ordinary
// request that never asked to upgrade.
func IsUpgradeAttempt(header Header) bool {
	return strings.EqualFold(header.Get("Upgrade"), "websocket")
}

func headerTokenContains(field, token string) bool {
	for _, part := range strings.Split(field, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
