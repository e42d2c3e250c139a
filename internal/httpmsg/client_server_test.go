package httpmsg

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/cobalt-run/tjs/internal/connpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClientFetchAgainstStdlibServer exercises the client fetch pipeline
// against a genuine net/http server, proving wire-level interop rather
// than just internal round-tripping.
func TestClientFetchAgainstStdlibServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Echo-Method", r.Method)
		w.WriteHeader(http.StatusOK)
		io.Copy(w, r.Body)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{MaxSocketsPerHost: 2, PoolAcquireTimeout: time.Second})

	resp, err := client.Fetch(context.Background(), "POST", srv.URL+"/echo", nil, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Head.Status)
	assert.Equal(t, "POST", resp.Head.Header.Get("X-Echo-Method"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestClientFetchFollowsRedirectWithMethodDowngrade(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Final-Method", r.Method)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(ClientConfig{MaxSocketsPerHost: 2, PoolAcquireTimeout: time.Second})

	resp, err := client.Fetch(context.Background(), "POST", srv.URL+"/start", nil, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Head.Status)
	assert.Equal(t, "GET", resp.Head.Header.Get("X-Final-Method"))
	resp.Body.Close()
}

// TestServerPipelineRoundTrip drives RequestPipeline through a real
// connpool.Server/net.Listener against the client fetch pipeline above,
// proving both halves speak compatible HTTP/1.1 keep-alive framing.
func TestServerPipelineRoundTrip(t *testing.T) {
	pipeline := NewRequestPipeline(func(req *RequestHead, body *Body, w *ResponseWriter) error {
		got, err := io.ReadAll(body)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "text/plain")
		_, err = w.Write(append([]byte("echo:"), got...))
		return err
	}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	server := &connpool.Server{
		Handler:                  pipeline.Handle,
		KeepAliveTimeout:         time.Second,
		MaxRequestsPerConnection: 10,
	}
	go server.Serve(ln)

	client := NewClient(ClientConfig{MaxSocketsPerHost: 2, PoolAcquireTimeout: time.Second})
	targetURL := "http://" + ln.Addr().String() + "/greet"

	resp, err := client.Fetch(context.Background(), "POST", targetURL, nil, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Head.Status)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(got))

	// A second request over the same pool proves the connection was kept
	// alive and reused rather than torn down.
	resp2, err := client.Fetch(context.Background(), "POST", targetURL, nil, []byte("again"))
	require.NoError(t, err)
	got2, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)
	assert.Equal(t, "echo:again", string(got2))

	u, err := url.Parse(targetURL)
	require.NoError(t, err)
	poolKey, _, _ := client.dialTarget(u)
	assert.Equal(t, 1, client.pool.Stats()[poolKey])
}

// TestServerRespondsFiveHundredOnHandlerError proves a handler error that
// fires before any bytes were written gets an explicit 500 rather than a
// silent connection close.
func TestServerRespondsFiveHundredOnHandlerError(t *testing.T) {
	pipeline := NewRequestPipeline(func(req *RequestHead, body *Body, w *ResponseWriter) error {
		return errors.New("boom")
	}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	server := &connpool.Server{Handler: pipeline.Handle}
	go server.Serve(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
}

// TestServerRespondsFiveHundredOnParseError proves a request whose header
// block fails to parse gets an explicit 500 before the connection is torn
// down, rather than just being dropped.
func TestServerRespondsFiveHundredOnParseError(t *testing.T) {
	pipeline := NewRequestPipeline(func(req *RequestHead, body *Body, w *ResponseWriter) error {
		t.Fatal("handler should not run for a malformed request line")
		return nil
	}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	server := &connpool.Server{Handler: pipeline.Handle}
	go server.Serve(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// "NOTAREQUEST" has no method/path/proto triple, so ParseHead fails
	// before a RequestHead is ever produced.
	_, err = conn.Write([]byte("NOTAREQUEST\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
}

// TestServerRejectsMalformedUpgrade proves an Upgrade: websocket request
// that fails the rest of the RFC 6455 handshake checks gets an explicit
// 4xx rather than silently falling through to the ordinary App handler.
func TestServerRejectsMalformedUpgrade(t *testing.T) {
	pipeline := NewRequestPipeline(func(req *RequestHead, body *Body, w *ResponseWriter) error {
		t.Fatal("app handler should not run for a malformed upgrade request")
		return nil
	}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	server := &connpool.Server{Handler: pipeline.Handle}
	go server.Serve(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Upgrade: websocket present, but Sec-WebSocket-Key is missing.
	req := "GET /ws HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

// TestServerRejectsUnsupportedUpgradeVersion proves a version mismatch
// specifically gets 426 with the supported version advertised, per RFC
// 6455 §4.4.
func TestServerRejectsUnsupportedUpgradeVersion(t *testing.T) {
	pipeline := NewRequestPipeline(func(req *RequestHead, body *Body, w *ResponseWriter) error {
		t.Fatal("app handler should not run for a malformed upgrade request")
		return nil
	}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	server := &connpool.Server{Handler: pipeline.Handle}
	go server.Serve(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	req := "GET /ws HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Version: 8\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	assert.Equal(t, 426, resp.StatusCode)
	assert.Equal(t, "13", resp.Header.Get("Sec-Websocket-Version"))
}
