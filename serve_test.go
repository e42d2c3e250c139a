package tjs

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServingRuntime(t *testing.T) (*Runtime, net.Listener) {
	t.Helper()
	root := t.TempDir()
	cfg := NewConfig()
	cfg.CacheDir = filepath.Join(root, "cache")
	cfg.LoggerEnabled = false

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Listener = ln

	rt, err := NewRuntime(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt, ln
}

func TestServeEchoesRequestBody(t *testing.T) {
	rt, ln := newServingRuntime(t)

	handler := func(req *Request, w *ResponseWriter) error {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "text/plain")
		_, err = w.Write(append([]byte("echo:"), body...))
		return err
	}

	go rt.Serve(handler, nil)

	client, err := NewRuntime(NewConfig())
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Fetch(context.Background(), "POST", "http://"+ln.Addr().String()+"/greet", nil, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(got))
}

func TestServeDefaultsToTwoHundredWhenHandlerWritesNothing(t *testing.T) {
	rt, ln := newServingRuntime(t)

	go rt.Serve(func(req *Request, w *ResponseWriter) error {
		return nil
	}, nil)

	client, err := NewRuntime(NewConfig())
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Fetch(context.Background(), "GET", "http://"+ln.Addr().String()+"/", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
}

func TestUpgradeWebSocketRejectsWhenHandlerDeclines(t *testing.T) {
	rt, ln := newServingRuntime(t)

	wsHandler := func(req *Request) (func(ws *WebSocket), bool) {
		return nil, false
	}

	go rt.Serve(func(req *Request, w *ResponseWriter) error { return nil }, wsHandler)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	req := "GET /ws HTTP/1.1\r\n" +
		"Host: example\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "403")
}
