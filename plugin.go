package rdns

import (
	"errors"
	"net"
)

// Plugin is the transport-crypto collaborator ("curve plugin"). While it is registered, every TCP
// channel whose connect completes calls Wrap on its connection before the channel starts framing DNS
// messages over it; if the socket cannot be turned into a net.Conn, the raw socket is used unwrapped.
// UDP channels never call Wrap; DNS-over-TLS has no UDP analogue.
type Plugin interface {
	Wrap(conn net.Conn, serverName string) (net.Conn, error)
}

// PluginHandle is the capability object returned by RegisterPlugin. Earlier designs of this kind of
// resolver kept the transport plugin in a single write-once global slot; here it is an ordinary
// field reached only through the handle, so a host can register, use, and later Unregister a
// plugin without reaching into resolver internals.
type PluginHandle struct {
	resolver *Resolver
}

// Unregister removes the plugin. Connections already wrapped by it are unaffected; TCP connects that
// complete afterwards are not wrapped.
func (h *PluginHandle) Unregister() {
	h.resolver.plugin = nil
}

// RegisterPlugin installs p as the resolver's transport-crypto collaborator. Only one plugin may be
// registered at a time.
func (r *Resolver) RegisterPlugin(p Plugin) (*PluginHandle, error) {
	if p == nil {
		return nil, errors.New("rdns: RegisterPlugin: nil plugin")
	}
	if r.plugin != nil {
		return nil, errors.New("rdns: RegisterPlugin: a plugin is already registered")
	}
	r.plugin = p

	return &PluginHandle{resolver: r}, nil
}
