/*
Package fdutil extracts the raw file descriptor behind a net.Conn (such as a *net.UDPConn) so it can be
handed to a host's AsyncDriver, which registers read/write/timer callbacks against a file
descriptor, not a Go net.Conn.

It builds on github.com/higebu/netfd rather than re-deriving the SyscallConn dance by hand.
*/
package fdutil

import (
	"errors"
	"net"

	"github.com/higebu/netfd"
)

// FD returns the raw file descriptor underlying a net.Conn. conn must be a *net.TCPConn,
// *net.UDPConn or *net.IPConn - anything netfd.GetFdFromConn() knows how to unwrap.
//
// The returned fd remains valid only as long as conn is open; it is the caller's responsibility to
// re-extract it whenever a channel is recycled.
func FD(conn net.Conn) (int, error) {
	if conn == nil {
		return -1, errors.New("fdutil: nil conn")
	}

	fd := netfd.GetFdFromConn(conn)
	if fd < 0 {
		return -1, errors.New("fdutil: could not extract fd from conn")
	}

	return fd, nil
}
