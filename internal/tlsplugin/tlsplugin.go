/*
Package tlsplugin is the transport-crypto collaborator described as the "curve plugin" in the
resolver's design: an object that knows how to wrap a freshly-dialed TCP net.Conn in TLS before the
resolver's TCP I/O channel starts framing DNS messages over it. It is entirely optional - a channel
with no Plugin set just uses the raw net.Conn.

Grounded on internal/tlsutil.NewClientTLSConfig, reused verbatim for certificate/root loading; this
package only adds the conn-wrapping step that a DoT transport needs on top of that config.
*/
package tlsplugin

import (
	"crypto/tls"
	"net"

	"github.com/markdingo/rdns/internal/tlsutil"
)

// Plugin is the capability object returned by New. The resolver's RegisterPlugin call stores it
// and, from then on, every TCP channel calls Wrap on its dialed connection before using it.
type Plugin struct {
	cfg *tls.Config
}

// New builds a Plugin from the same CA/client-cert inputs as tlsutil.NewClientTLSConfig. serverName
// is left unset here; callers pass the upstream's name at Wrap time since a single Plugin may be
// shared across servers with different certificates.
func New(useSystemCAs bool, otherCAFiles []string, clientCertFile, clientKeyFile string) (*Plugin, error) {
	cfg, err := tlsutil.NewClientTLSConfig(useSystemCAs, otherCAFiles, clientCertFile, clientKeyFile)
	if err != nil {
		return nil, err
	}

	return &Plugin{cfg: cfg}, nil
}

// Wrap performs the TLS client handshake over conn, verifying the peer against serverName unless
// the Plugin was built with no CAs at all, in which case it was already set to skip verification.
// conn must not be used again by the caller once Wrap returns; the returned net.Conn supersedes it.
func (p *Plugin) Wrap(conn net.Conn, serverName string) (net.Conn, error) {
	cfg := p.cfg.Clone()
	cfg.ServerName = serverName

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		tlsConn.Close()
		return nil, err
	}

	return tlsConn, nil
}
