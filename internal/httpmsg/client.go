package httpmsg

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/cobalt-run/tjs/internal/connpool"
	"github.com/cobalt-run/tjs/internal/rterrors"
	"github.com/cobalt-run/tjs/internal/tlspipe"
)

// ClientConfig carries the subset of runtime configuration the fetch
// pipeline needs, so this package does not import the root package.
type ClientConfig struct {
	MaxSocketsPerHost  int
	PoolAcquireTimeout time.Duration
	IdleConnTimeout    time.Duration
	MaxRedirects       int
	DialTimeout        time.Duration
	TLSConfig          *tls.Config
}

// Client drives the HTTP/1.1 fetch pipeline: pool key computation,
// connection acquisition, request building, response parsing, and
// redirect following.
type Client struct {
	cfg  ClientConfig
	pool *connpool.Pool
}

// NewClient returns a Client backed by its own connection pool.
func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxSocketsPerHost <= 0 {
		cfg.MaxSocketsPerHost = 6
	}
	return &Client{cfg: cfg, pool: connpool.NewPool(cfg.MaxSocketsPerHost)}
}

// Close releases every pooled connection this client holds open. Callers
// shutting down a Runtime call this once fetching is done.
func (c *Client) Close() {
	c.pool.CloseAll()
}

// Response is a received response head plus a lazy Body that streams its
// payload; the caller must Close or Cancel it.
type Response struct {
	Head *ResponseHead
	Body *Body
	URL  string // final URL after following redirects
}

// Fetch sends a request for method/rawURL, following redirects per
// WHATWG semantics up to cfg.MaxRedirects, and returns the final
// response with its body left unread.
func (c *Client) Fetch(ctx context.Context, method, rawURL string, header Header, body []byte) (*Response, error) {
	maxRedirects := c.cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 20
	}

	for redirects := 0; ; redirects++ {
		if redirects > maxRedirects {
			return nil, fmt.Errorf("%w: exceeded %d redirects fetching %s", rterrors.ErrTooManyRedirects, maxRedirects, rawURL)
		}

		resp, err := c.fetchOnce(ctx, method, rawURL, header, body)
		if err != nil {
			return nil, err
		}

		if !isRedirectStatus(resp.Head.Status) {
			resp.URL = rawURL
			return resp, nil
		}

		location := resp.Head.Header.Get("Location")
		if location == "" {
			resp.URL = rawURL
			return resp, nil
		}
		resp.Body.Cancel()

		nextURL, err := resolveLocation(rawURL, location)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed redirect location %q: %v", rterrors.ErrFetchFailed, location, err)
		}

		method, body = downgradeForRedirect(resp.Head.Status, method, body)
		rawURL = nextURL
	}
}

// isRedirectStatus reports whether status is a redirect this client
// follows automatically.
func isRedirectStatus(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	default:
		return false
	}
}

// downgradeForRedirect applies the WHATWG fetch redirect method rules:
// 303 always downgrades to GET with no body; 301/302 downgrade POST to
// GET with no body but leave other methods untouched; 307/308 always
// preserve method and body.
func downgradeForRedirect(status int, method string, body []byte) (string, []byte) {
	switch status {
	case 303:
		return "GET", nil
	case 301, 302:
		if method == "POST" {
			return "GET", nil
		}
		return method, body
	default: // 307, 308
		return method, body
	}
}

func resolveLocation(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	locURL, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(locURL).String(), nil
}

func (c *Client) fetchOnce(ctx context.Context, method, rawURL string, header Header, body []byte) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed url %q: %v", rterrors.ErrFetchFailed, rawURL, err)
	}

	poolKey, hostport, useTLS := c.dialTarget(u)

	conn, err := c.pool.Acquire(ctx, poolKey, c.cfg.PoolAcquireTimeout, func() (*connpool.Connection, error) {
		return c.dial(ctx, hostport, useTLS, u.Hostname())
	})
	if err != nil {
		return nil, err
	}

	path := u.RequestURI()
	if path == "" {
		path = "/"
	}

	req, err := BuildRequest(method, path, u.Host, header, body)
	if err != nil {
		c.release(poolKey, conn, false)
		return nil, err
	}

	if _, err := conn.Write(req); err != nil {
		conn.MarkClosed()
		c.release(poolKey, conn, false)
		return nil, fmt.Errorf("%w: %v", rterrors.ErrFetchFailed, err)
	}

	parser := NewParser(TypeResponse, conn)
	_, head, err := parser.ParseHead()
	if err != nil {
		conn.MarkClosed()
		c.release(poolKey, conn, false)
		return nil, fmt.Errorf("%w: %v", rterrors.ErrFetchFailed, err)
	}

	keepAlive := responseKeepAlive(head)
	conn.SetKeepAlive(keepAlive)

	respBody := NewBody(parser.BufioReader(), head.Header, head.ContentLength, true, func(cancelled bool) {
		c.release(poolKey, conn, keepAlive && !cancelled)
	})

	return &Response{Head: head, Body: respBody}, nil
}

func (c *Client) release(poolKey string, conn *connpool.Connection, keepAlive bool) {
	if !keepAlive {
		conn.MarkClosed()
	}
	c.pool.Release(poolKey, conn, c.cfg.IdleConnTimeout)
}

func (c *Client) dialTarget(u *url.URL) (poolKey, hostport string, useTLS bool) {
	useTLS = strings.EqualFold(u.Scheme, "https")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if useTLS {
			port = "443"
		} else {
			port = "80"
		}
	}
	hostport = net.JoinHostPort(host, port)
	poolKey = fmt.Sprintf("%s://%s", u.Scheme, hostport)
	return poolKey, hostport, useTLS
}

func (c *Client) dial(ctx context.Context, hostport string, useTLS bool, serverName string) (*connpool.Connection, error) {
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", rterrors.ErrFetchFailed, hostport, err)
	}

	if !useTLS {
		return connpool.NewPlainConnection(raw), nil
	}

	tlsCtx, err := tlspipe.NewContext(tlspipe.ContextConfig{
		Mode:       tlspipe.ModeClient,
		ServerName: serverName,
		Verify:     true,
		ALPN:       []string{"http/1.1"},
	})
	if err != nil {
		raw.Close()
		return nil, err
	}

	conn := connpool.NewTLSConnection(raw, tlspipe.NewEngine(tlsCtx))
	if err := conn.DriveHandshake(); err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

// responseKeepAlive reports whether a received response permits reusing
// its connection for a subsequent request.
func responseKeepAlive(head *ResponseHead) bool {
	if headerTokenContains(head.Header.Get("Connection"), "close") {
		return false
	}
	if head.Proto == "HTTP/1.0" && !headerTokenContains(head.Header.Get("Connection"), "keep-alive") {
		return false
	}
	return true
}
