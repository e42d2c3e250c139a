package connpool

import (
	"net"
	"time"
)

// Listener wraps a *net.TCPListener with the keep-alive settings every
// accepted connection should carry; PROXY protocol detection lives in
// Server, which can observe and record it as part of a ServerConnection's
// own state machine rather than hiding it behind a net.Conn decorator.
type Listener struct {
	*net.TCPListener
}

// NewListener returns an unbound Listener; call Listen to bind it.
func NewListener() *Listener {
	return &Listener{}
}

// Listen listens on the TCP network address.
func (l *Listener) Listen(address string) error {
	nl, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	l.TCPListener = nl.(*net.TCPListener)

	return nil
}

// Accept implements net.Listener.
func (l *Listener) Accept() (net.Conn, error) {
	tc, err := l.AcceptTCP()
	if err != nil {
		return nil, err
	}

	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)

	return tc, nil
}
