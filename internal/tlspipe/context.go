// Package tlspipe bridges a byte-stream socket to a record-oriented TLS
// engine: feed/read/write/getOutput plus a handshake step, so a
// caller can drive TLS progress explicitly instead of handing a socket
// straight to crypto/tls.
package tlspipe

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// Mode selects which side of the handshake a Context drives.
type Mode int

const (
	ModeClient Mode = iota
	ModeServer
)

// ContextConfig holds the mode, certificate/key pair, CA pool, peer
// verification toggle, and ALPN protocol list a Context is built from.
type ContextConfig struct {
	Mode Mode

	// Cert and Key are PEM-encoded; required for ModeServer, optional
	// for ModeClient (mutual TLS).
	Cert []byte
	Key  []byte

	// CA, if set, is a PEM bundle added to the verification root pool
	// instead of the system pool.
	CA []byte

	// Verify enables certificate verification (ModeClient only); the
	// zero value false skips it.
	Verify bool

	// ALPN lists protocols offered (client) or accepted (server), in
	// preference order.
	ALPN []string

	// ServerName overrides SNI/verification hostname (ModeClient).
	ServerName string
}

// Context wraps the resolved *tls.Config for a Mode.
type Context struct {
	mode Mode
	tls  *tls.Config
}

// NewContext builds a Context from cfg, loading the certificate pair and
// CA pool the TLS standard library needs to drive either handshake role.
func NewContext(cfg ContextConfig) (*Context, error) {
	tc := &tls.Config{
		NextProtos:         cfg.ALPN,
		InsecureSkipVerify: cfg.Mode == ModeClient && !cfg.Verify,
		ServerName:         cfg.ServerName,
	}

	if len(cfg.Cert) > 0 && len(cfg.Key) > 0 {
		pair, err := tls.X509KeyPair(cfg.Cert, cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("tlspipe: loading certificate pair: %w", err)
		}
		tc.Certificates = []tls.Certificate{pair}
	} else if cfg.Mode == ModeServer {
		return nil, fmt.Errorf("tlspipe: server context requires cert and key")
	}

	if len(cfg.CA) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.CA) {
			return nil, fmt.Errorf("tlspipe: no certificates parsed from ca bundle")
		}
		if cfg.Mode == ModeServer {
			tc.ClientCAs = pool
			tc.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			tc.RootCAs = pool
		}
	}

	return &Context{mode: cfg.Mode, tls: tc}, nil
}
