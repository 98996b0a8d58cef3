package rdns

import (
	"errors"
	"net"

	"github.com/markdingo/rdns/internal/codec"
	"github.com/markdingo/rdns/internal/constants"
	"github.com/markdingo/rdns/internal/fdutil"
	"golang.org/x/sys/unix"
)

// errEAGAIN signals "try again later" from a raw non-blocking send.
var errEAGAIN = errors.New("rdns: send would block")

// newUDPChannel opens an unconnected, non-blocking UDP socket and registers it for read-readiness.
// The socket is never connect()'d to its peer even after a successful send: sendto/recvfrom is used
// throughout, which is simpler and no slower for a resolver issuing bursts of independent queries to
// the same few upstreams.
//
// Ordinarily the socket is bound to an ephemeral local port via net.ListenUDP. When SetLocalAddr
// has pinned a fixed source port, that convenience is unavailable - Go's net package offers no way
// to set SO_REUSEPORT before bind - so the socket is built from raw syscalls instead and no
// *net.UDPConn ever exists for it.
func (r *Resolver) newUDPChannel(srv *Server) (*Channel, error) {
	var conn *net.UDPConn
	var fd int
	var err error

	if r.localAddr != nil && r.localAddr.Port != 0 {
		fd, err = r.bindFixedSourcePortUDPSocket()
		if err != nil {
			return nil, err
		}
	} else {
		laddr := &net.UDPAddr{}
		if r.localAddr != nil {
			laddr = &net.UDPAddr{IP: r.localAddr.IP}
		}
		conn, err = net.ListenUDP(constants.Get().DNSUDPTransport, laddr)
		if err != nil {
			return nil, err
		}
		fd, err = fdutil.FD(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		if conn != nil {
			conn.Close()
		} else {
			unix.Close(fd)
		}
		return nil, err
	}

	ch := &Channel{
		server:   srv,
		resolver: r,
		udpConn:  conn, // nil for the fixed-source-port raw-fd path; reset() closes c.fd directly then
		fd:       fd,
		table:    newRequestTable(),
		flags:    flagActive,
	}
	ch.key = r.nextChannelKey(srv, "udp")

	handle, err := r.driver.AddRead(fd, func() { r.onUDPReadable(ch) })
	if err != nil {
		conn.Close()
		return nil, err
	}
	ch.readHandle = handle
	r.trackChannelNew(ch)

	return ch, nil
}

// bindFixedSourcePortUDPSocket builds a non-blocking UDP socket bound to r.localAddr's exact
// IP:port, with SO_REUSEPORT set first so that a channel refresh can bind the replacement socket to
// the same source port while the outgoing one is still being closed down.
func (r *Resolver) bindFixedSourcePortUDPSocket() (int, error) {
	domain := unix.AF_INET
	if r.localAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}

	sa, err := udpSockaddr(r.localAddr)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

// sendUDP sends wire to peer via the raw fd. It returns errEAGAIN when the socket isn't ready, so
// the caller can register a write-readiness callback and wait rather than busy-retry.
func (c *Channel) sendUDP(wire []byte, peer *net.UDPAddr) (int, error) {
	sa, err := udpSockaddr(peer)
	if err != nil {
		return -1, err
	}

	err = unix.Sendto(c.fd, wire, 0, sa)
	if err == nil {
		c.uses++
		return len(wire), nil
	}
	if err == unix.EAGAIN || err == unix.EINTR || err == unix.EWOULDBLOCK {
		return 0, errEAGAIN
	}

	return -1, err
}

func udpSockaddr(a *net.UDPAddr) (unix.Sockaddr, error) {
	if ip4 := a.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	ip6 := a.IP.To16()
	if ip6 == nil {
		return nil, errors.New("rdns: udpSockaddr: invalid address")
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], ip6)

	return sa, nil
}

// onUDPReadable receives one datagram, demultiplexes it by transaction ID against the channel's
// request table, and hands it off to the reply parser.
func (r *Resolver) onUDPReadable(ch *Channel) {
	buf := make([]byte, constants.Get().UDPPacketSize)
	n, _, err := unix.Recvfrom(ch.fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR || err == unix.EWOULDBLOCK {
			return
		}
		r.logger.Errorf("rdns: onUDPReadable: recvfrom: %v", err)
		return
	}
	// The smallest question is a root name (1 byte) plus qtype and qclass (2 bytes each).
	if uint(n) < constants.Get().MinimumViableDNSMessage+1+2+2 {
		return // Discard: shorter than header + one question
	}
	wire := buf[:n]

	id, err := codec.PeekID(wire)
	if err != nil {
		return
	}

	req, ok := ch.table.lookup(id)
	if !ok {
		ch.uses++ // unknown reply: count it against the channel's usage cap and drop it
		r.logger.Printf("rdns: onUDPReadable: unexpected id %d on %s", id, ch.server.Name())
		return
	}

	r.dispatchReply(ch, req, wire, false)
}
