package tjs

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cobalt-run/tjs/internal/connpool"
	"github.com/cobalt-run/tjs/internal/httpmsg"
	"github.com/cobalt-run/tjs/internal/rterrors"
	"github.com/cobalt-run/tjs/internal/tlspipe"
	"github.com/cobalt-run/tjs/internal/wsock"
)

// deadlineSetter is satisfied by *connpool.ServerConnection (through its
// embedded *connpool.Connection), the concrete type behind a
// ResponseWriter.Hijack() result; it is used to bound how long the
// handshake write may take.
type deadlineSetter interface {
	SetDeadline(t time.Time) error
}

// Handler processes one HTTP request. Returning an error aborts the
// connection; a nil error with w left unwritten auto-emits 200 with
// Content-Length: 0.
type Handler func(req *Request, w *ResponseWriter) error

// Serve accepts connections per Config.Address (or Config.Listener, if
// set) and dispatches each request to handler, or to wsHandler when the
// request carries a WebSocket upgrade handshake. It blocks until the
// listener returns an error, e.g. because Close was called.
func (rt *Runtime) Serve(handler Handler, wsHandler WebSocketHandler) error {
	ln, err := rt.listen()
	if err != nil {
		return err
	}

	pipeline := httpmsg.NewRequestPipeline(
		func(reqHead *httpmsg.RequestHead, body *httpmsg.Body, hw *httpmsg.ResponseWriter) error {
			req := &Request{
				Method: reqHead.Method,
				URL:    reqHead.Path,
				Proto:  reqHead.Proto,
				Header: headersFromHTTP(reqHead.Header),
				Body:   body,
			}
			return handler(req, newResponseWriter(hw))
		},
		func(reqHead *httpmsg.RequestHead, hw *httpmsg.ResponseWriter, br *bufio.Reader) error {
			return rt.upgradeWebSocket(reqHead, hw, br, wsHandler)
		},
	)
	pipeline.MaxHeaderBytes = rt.cfg.MaxHeaderBytes
	pipeline.OnSwallowedDrainError = func(err error) {
		rt.Logger.Warnf("tjs: swallowed body drain error: %v", err)
	}

	srv := &connpool.Server{
		RequestTimeout:           rt.cfg.ReadTimeout,
		KeepAliveTimeout:         rt.cfg.KeepAliveTimeout,
		MaxRequestsPerConnection: rt.cfg.MaxRequestsPerConnection,
		Handler:                  pipeline.Handle,
		PROXYEnabled:             rt.cfg.PROXYEnabled,
		PROXYReadHeaderTimeout:   rt.cfg.PROXYReadHeaderTimeout,
		PROXYWhitelist:           connpool.NewPROXYWhitelist(rt.cfg.PROXYRelayerIPWhitelist),
		OnAcceptError: func(err error) {
			rt.Logger.Errorf("tjs: connection error: %v", err)
		},
	}

	if rt.cfg.ACMEEnabled {
		srv.AutocertManager = connpool.NewACMEManager(rt.cfg.ACMECertRoot, rt.cfg.ACMEHostWhitelist)
	} else if rt.cfg.TLSCertFile != "" && rt.cfg.TLSKeyFile != "" {
		tlsCtx, err := rt.serverTLSContext()
		if err != nil {
			return err
		}
		srv.TLSContext = tlsCtx
	}

	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return rterrors.ErrConnectionClosed
	}
	rt.server = srv
	rt.mu.Unlock()

	return srv.Serve(ln)
}

// listen binds Config.Address, unless Config.Listener was set explicitly.
// PROXY protocol detection happens downstream in connpool.Server, as part
// of each accepted connection's own state machine, not here.
func (rt *Runtime) listen() (net.Listener, error) {
	if rt.cfg.Listener != nil {
		return rt.cfg.Listener, nil
	}

	l := connpool.NewListener()
	if err := l.Listen(rt.cfg.Address); err != nil {
		return nil, fmt.Errorf("tjs: failed to listen on %s: %w", rt.cfg.Address, err)
	}

	rt.mu.Lock()
	rt.listener = l
	rt.mu.Unlock()

	return l, nil
}

// serverTLSContext loads Config.TLSCertFile/TLSKeyFile into a
// tlspipe.Context driving the server side of the handshake.
func (rt *Runtime) serverTLSContext() (*tlspipe.Context, error) {
	cert, err := os.ReadFile(rt.cfg.TLSCertFile)
	if err != nil {
		return nil, fmt.Errorf("tjs: failed to read tls cert file: %w", err)
	}
	key, err := os.ReadFile(rt.cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("tjs: failed to read tls key file: %w", err)
	}

	return tlspipe.NewContext(tlspipe.ContextConfig{
		Mode: tlspipe.ModeServer,
		Cert: cert,
		Key:  key,
		ALPN: []string{"http/1.1"},
	})
}

// upgradeWebSocket completes a validated handshake: it consults
// wsHandler, writes the 101 response, and hands the hijacked connection
// to a new wsock.WebSocket.
func (rt *Runtime) upgradeWebSocket(reqHead *httpmsg.RequestHead, hw *httpmsg.ResponseWriter, br *bufio.Reader, wsHandler WebSocketHandler) error {
	if wsHandler == nil {
		return rterrors.ErrNotSupported
	}

	req := &Request{
		Method: reqHead.Method,
		URL:    reqHead.Path,
		Proto:  reqHead.Proto,
		Header: headersFromHTTP(reqHead.Header),
	}

	onAccept, ok := wsHandler(req)
	if !ok {
		hw.Header().Set("Content-Length", "0")
		return hw.WriteHead(403)
	}

	subprotocol := httpmsg.SelectSubprotocol(reqHead, rt.cfg.WebSocketSubprotocols)
	respBytes, err := httpmsg.BuildUpgradeResponse(reqHead, subprotocol)
	if err != nil {
		return err
	}

	conn := hw.Hijack()
	if ds, ok := conn.(deadlineSetter); ok && rt.cfg.WebSocketHandshakeTimeout > 0 {
		ds.SetDeadline(time.Now().Add(rt.cfg.WebSocketHandshakeTimeout))
		defer ds.SetDeadline(time.Time{})
	}
	if _, err := conn.Write(respBytes); err != nil {
		return fmt.Errorf("%w: %v", rterrors.ErrConnectionClosed, err)
	}

	wsCfg := wsock.DefaultConfig()
	if rt.cfg.WebSocketPingInterval > 0 {
		wsCfg.PingInterval = rt.cfg.WebSocketPingInterval
	}
	if rt.cfg.WebSocketPongTimeout > 0 {
		wsCfg.PongTimeout = rt.cfg.WebSocketPongTimeout
	}

	wsConn := &bufferedConn{ReadWriteCloser: conn, br: br}
	ws := wsock.New(wsConn, wsock.RoleServer, subprotocol, wsCfg)

	if onAccept != nil {
		onAccept(ws)
	}
	ws.Start()
	return nil
}
