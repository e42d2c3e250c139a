package connpool

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/cobalt-run/tjs/internal/rterrors"
	"github.com/cobalt-run/tjs/internal/tlspipe"
	"golang.org/x/crypto/acme/autocert"
)

// ServerState is a ServerConnection's position in the per-connection
// request loop.
type ServerState int

const (
	ServerProxyHeader ServerState = iota // PROXY protocol preamble, if enabled
	ServerHandshaking                    // TLS only
	ServerIdle
	ServerParsing
	ServerResponding
	ServerUpgrading
	ServerUpgraded
	ServerClosed
)

// ServerConnection is an accepted Connection plus its HTTP request-loop
// state.
type ServerConnection struct {
	*Connection
	state ServerState
}

func (sc *ServerConnection) SetState(s ServerState) { sc.state = s }
func (sc *ServerConnection) State() ServerState     { return sc.state }

// HandlerResult tells the accept loop what to do after one request:
// whether to keep the connection alive for another, and whether the
// handler upgraded it (taking it out of the HTTP loop for good).
type HandlerResult struct {
	KeepAlive bool
	Upgraded  bool
}

// Server accepts sockets and drives each through Handler in a loop,
// switching between a plaintext, tlspipe-driven, or autocert-managed TLS
// handshake depending on configuration.
type Server struct {
	// TLSContext, if non-nil, causes every accepted connection to
	// perform a TLS handshake before entering the HTTP loop.
	TLSContext *tlspipe.Context

	// AutocertManager, if non-nil, takes precedence over TLSContext:
	// accepted connections are wrapped with autocert's GetCertificate
	// callback instead of a static certificate.
	AutocertManager *autocert.Manager

	RequestTimeout           time.Duration
	KeepAliveTimeout         time.Duration
	MaxRequestsPerConnection int

	// PROXYEnabled causes every accepted connection permitted by
	// PROXYWhitelist to be checked for a PROXY protocol v1/v2 preamble
	// before any TLS handshake, recording the real peer endpoints it
	// reports onto the resulting Connection.
	PROXYEnabled           bool
	PROXYReadHeaderTimeout time.Duration
	PROXYWhitelist         PROXYWhitelist

	// Handler handles exactly one request on sc and reports how the
	// accept loop should proceed.
	Handler func(sc *ServerConnection) (HandlerResult, error)

	// OnAcceptError is called with non-fatal per-connection errors
	// (handshake failures, handler errors). May be nil.
	OnAcceptError func(err error)
}

// NewACMEManager builds an autocert.Manager restricted to hostWhitelist,
// caching issued certificates under certRoot.
func NewACMEManager(certRoot string, hostWhitelist []string) *autocert.Manager {
	m := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache(certRoot),
	}
	if len(hostWhitelist) > 0 {
		m.HostPolicy = autocert.HostWhitelist(hostWhitelist...)
	}
	return m
}

// Serve accepts connections from ln until it returns an error (e.g. the
// listener was closed), handling each on its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(raw)
	}
}

func (s *Server) handle(raw net.Conn) {
	var proxySrc, proxyDst *net.TCPAddr
	if s.PROXYEnabled {
		peeled, src, dst, err := s.peelPROXYHeader(raw)
		if err != nil {
			s.reportError(fmt.Errorf("%w: %v", rterrors.ErrPROXYHeader, err))
			raw.Close()
			return
		}
		raw, proxySrc, proxyDst = peeled, src, dst
	}

	sc, err := s.newServerConnection(raw)
	if err != nil {
		s.reportError(err)
		raw.Close()
		return
	}

	if proxySrc != nil {
		sc.SetState(ServerProxyHeader)
		sc.Connection.ApplyPROXYAddrs(proxySrc, proxyDst)
	}

	if sc.Connection.tlsEngine != nil {
		sc.SetState(ServerHandshaking)
		if err := sc.Connection.DriveHandshake(); err != nil {
			s.reportError(fmt.Errorf("%w: %v", rterrors.ErrTLSHandshakeFailed, err))
			raw.Close()
			return
		}
	}

	sc.SetState(ServerIdle)
	s.loop(sc)
}

// peelPROXYHeader checks whether raw's peer is trusted to speak the PROXY
// protocol and, if so, consumes a v1 or v2 preamble from the front of the
// stream. The returned net.Conn carries forward any bytes buffered while
// checking, so nothing is lost when a trusted peer turns out not to have
// sent one.
func (s *Server) peelPROXYHeader(raw net.Conn) (net.Conn, *net.TCPAddr, *net.TCPAddr, error) {
	if !s.PROXYWhitelist.Allows(raw.RemoteAddr()) {
		return raw, nil, nil, nil
	}

	if s.PROXYReadHeaderTimeout != 0 {
		raw.SetReadDeadline(time.Now().Add(s.PROXYReadHeaderTimeout))
		defer raw.SetReadDeadline(time.Time{})
	}

	br := bufio.NewReader(raw)
	src, dst, err := readPROXYHeader(br)
	wrapped := &prefaceConn{Conn: raw, br: br}
	if err != nil {
		return wrapped, nil, nil, err
	}
	return wrapped, src, dst, nil
}

func (s *Server) newServerConnection(raw net.Conn) (*ServerConnection, error) {
	switch {
	case s.AutocertManager != nil:
		tlsConn := tls.Server(raw, s.AutocertManager.TLSConfig())
		return &ServerConnection{Connection: newNativeTLSConnection(raw, tlsConn)}, nil
	case s.TLSContext != nil:
		return &ServerConnection{Connection: NewTLSConnection(raw, tlspipe.NewEngine(s.TLSContext))}, nil
	default:
		return &ServerConnection{Connection: NewPlainConnection(raw)}, nil
	}
}

// newNativeTLSConnection adapts a crypto/tls.Conn driven directly by the
// standard library (as autocert.Manager.TLSConfig requires, since autocert
// needs to own the handshake's GetCertificate callback) into a Connection
// whose Read/Write pass straight through rather than via a tlspipe.Engine.
func newNativeTLSConnection(raw net.Conn, tlsConn *tls.Conn) *Connection {
	_ = raw // tlsConn already wraps raw; kept as a parameter for call-site clarity
	return NewPlainConnection(tlsConn)
}

func (s *Server) loop(sc *ServerConnection) {
	defer sc.Close()

	requests := 0
	timeout := s.RequestTimeout

	for {
		sc.SetState(ServerParsing)
		if timeout > 0 {
			sc.SetDeadline(time.Now().Add(timeout))
		}

		result, err := s.Handler(sc)

		sc.SetDeadline(time.Time{})
		if err != nil {
			s.reportError(err)
			return
		}

		requests++

		if result.Upgraded {
			sc.SetState(ServerUpgraded)
			return
		}

		if !result.KeepAlive {
			return
		}
		if s.MaxRequestsPerConnection > 0 && requests >= s.MaxRequestsPerConnection {
			return
		}

		sc.SetState(ServerIdle)
		timeout = s.KeepAliveTimeout
	}
}

func (s *Server) reportError(err error) {
	if s.OnAcceptError != nil {
		s.OnAcceptError(err)
	}
}
