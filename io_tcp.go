package rdns

import (
	"net"
	"os"

	"github.com/markdingo/rdns/internal/codec"
	"github.com/markdingo/rdns/internal/constants"
	"golang.org/x/sys/unix"
)

// newTCPChannel returns a TCP channel shell with no socket yet. The actual connect is deferred
// until the channel is first needed - almost always by a UDP->TCP reschedule - so a server with TCP
// channels configured but never used never pays for an idle dial.
func (r *Resolver) newTCPChannel(srv *Server) *Channel {
	ch := &Channel{
		server:   srv,
		resolver: r,
		table:    newRequestTable(),
		flags:    flagTCP,
	}
	ch.key = r.nextChannelKey(srv, "tcp")

	return ch
}

// connectTCP initiates a non-blocking TCP connect to the channel's server and registers interest in
// write-readiness, which signals both connect-completion and queue-drain opportunities.
func (r *Resolver) connectTCP(ch *Channel) error {
	domain := unix.AF_INET
	if ch.server.addr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return err
	}

	sa, err := tcpSockaddr(ch.server.addr)
	if err != nil {
		unix.Close(fd)
		return err
	}

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return err
	}

	ch.fd = fd
	ch.flags |= flagTCPConnecting
	ch.readBuf = make([]byte, constants.Get().TCPReadBufferMin)
	r.trackChannelNew(ch) // each dial is its own tracked connection lifecycle

	handle, err := r.driver.AddChannelWrite(fd, func() { r.onTCPWritable(ch) })
	if err != nil {
		unix.Close(fd)
		return err
	}
	ch.writeHandle = handle

	return nil
}

func tcpSockaddr(a *net.UDPAddr) (unix.Sockaddr, error) {
	if ip4 := a.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], a.IP.To16())

	return sa, nil
}

// enqueueFrame appends a length-prefixed frame to ch's write queue, dialing the channel first if it
// isn't connected or connecting yet, and ensuring a write registration exists.
func (r *Resolver) enqueueFrame(ch *Channel, payload []byte) error {
	frame := make([]byte, constants.Get().TCPLengthPrefixSize+uint(len(payload)))
	frame[0] = byte(len(payload) >> 8)
	frame[1] = byte(len(payload))
	copy(frame[2:], payload)

	ch.writeQueue = append(ch.writeQueue, frame)

	if ch.flags&(flagConnected|flagTCPConnecting) == 0 {
		return r.connectTCP(ch)
	}
	if ch.isConnected() && ch.writeHandle == nil {
		handle, err := r.driver.AddChannelWrite(ch.fd, func() { r.onTCPWritable(ch) })
		if err != nil {
			return err
		}
		ch.writeHandle = handle
	}

	return nil
}

// onTCPWritable handles both connect-completion and write-queue draining. The first
// write-readiness event after a connect clears flagTCPConnecting, sets flagConnected|flagActive, and
// registers the read callback, before the queue gets its first chance to drain.
func (r *Resolver) onTCPWritable(ch *Channel) {
	if ch.flags&flagTCPConnecting != 0 {
		errno, err := unix.GetsockoptInt(ch.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil || errno != 0 {
			ch.reset()
			return
		}

		ch.flags &^= flagTCPConnecting
		ch.flags |= flagConnected | flagActive

		if r.plugin != nil {
			f := os.NewFile(uintptr(ch.fd), "rdns-tcp")
			conn, err := net.FileConn(f)
			if err == nil {
				wrapped, err := r.plugin.Wrap(conn, ch.server.name)
				if err != nil {
					ch.reset()
					return
				}
				ch.tcpConn = wrapped
			}
		}

		readHandle, err := r.driver.AddRead(ch.fd, func() { r.onTCPReadable(ch) })
		if err != nil {
			ch.reset()
			return
		}
		ch.readHandle = readHandle
	}

	r.drainTCPWriteQueue(ch)
}

// drainTCPWriteQueue writes as much of the queue head as the socket accepts, leaving a partially
// written frame at the head for the next writable event.
func (r *Resolver) drainTCPWriteQueue(ch *Channel) {
	for len(ch.writeQueue) > 0 {
		head := ch.writeQueue[0]
		n, err := ch.writeTCP(head)
		if err != nil {
			if err == errEAGAIN {
				return // registration stays; fires again next writable event
			}
			ch.reset()
			return
		}
		if n < len(head) {
			ch.writeQueue[0] = head[n:] // partial write: keep remainder at the head
			return
		}
		ch.writeQueue = ch.writeQueue[1:]
	}

	if ch.writeHandle != nil {
		r.driver.DelWrite(ch.writeHandle)
		ch.writeHandle = nil
	}
}

func (c *Channel) writeTCP(b []byte) (int, error) {
	if c.tcpConn != nil {
		n, err := c.tcpConn.Write(b)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return 0, errEAGAIN
			}
			return n, err
		}
		return n, nil
	}

	n, err := unix.Write(c.fd, b)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
		return 0, errEAGAIN
	}

	return n, err
}

func (c *Channel) readTCP(b []byte) (int, error) {
	if c.tcpConn != nil {
		return c.tcpConn.Read(b)
	}

	return unix.Read(c.fd, b)
}

// onTCPReadable drives the read-assembly state machine: curRead/nextReadSize track how much of the
// current frame (2-byte prefix + payload) has been consumed.
func (r *Resolver) onTCPReadable(ch *Channel) {
	buf := make([]byte, 4096)
	n, err := ch.readTCP(buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return
		}
		ch.reset() // read error: reset, terminating every in-flight request on this channel
		return
	}
	if n == 0 {
		ch.reset() // EOF
		return
	}

	r.feedTCP(ch, buf[:n])
}

// feedTCP folds newly-read bytes into the channel's assembly buffer, completing and dispatching as
// many frames as are fully present, then carries on with any leftover bytes of the next frame so a
// burst of back-to-back replies doesn't need another readable event per frame.
func (r *Resolver) feedTCP(ch *Channel, data []byte) {
	consts := constants.Get()
	prefixSize := int(consts.TCPLengthPrefixSize)

	for len(data) > 0 {
		// Prefix not yet complete.
		if ch.curRead < prefixSize {
			need := prefixSize - ch.curRead
			if len(ch.readBuf) < prefixSize {
				ch.readBuf = append(ch.readBuf, make([]byte, prefixSize-len(ch.readBuf))...)
			}
			take := need
			if take > len(data) {
				take = len(data)
			}
			copy(ch.readBuf[ch.curRead:], data[:take])
			ch.curRead += take
			data = data[take:]

			if ch.curRead < prefixSize {
				return // prefix still incomplete; wait for more bytes
			}

			size := int(ch.readBuf[0])<<8 | int(ch.readBuf[1])
			if uint(size) < consts.MinimumViableDNSMessage {
				ch.reset() // frame too small to hold even a DNS header: not a real peer, close it
				return
			}
			ch.nextReadSize = size
			ch.growReadBuf(prefixSize + size)

			continue
		}

		// Prefix complete; fill the payload.
		total := prefixSize + ch.nextReadSize
		need := total - ch.curRead
		take := need
		if take > len(data) {
			take = len(data)
		}
		copy(ch.readBuf[ch.curRead:], data[:take])
		ch.curRead += take
		data = data[take:]

		if ch.curRead < total {
			return // payload still incomplete
		}

		frame := append([]byte(nil), ch.readBuf[prefixSize:total]...)
		ch.curRead = 0
		ch.nextReadSize = 0

		r.handleTCPFrame(ch, frame)
	}
}

// growReadBuf ensures the assembly buffer can hold size bytes, doubling up to TCPReadBufferMax and
// growing to the exact size beyond that.
func (c *Channel) growReadBuf(size int) {
	if len(c.readBuf) >= size {
		return
	}
	maxDouble := int(constants.Get().TCPReadBufferMax)

	newLen := len(c.readBuf)
	if newLen == 0 {
		newLen = int(constants.Get().TCPReadBufferMin)
	}
	for newLen < size && newLen < maxDouble {
		newLen *= 2
	}
	if newLen < size {
		newLen = size
	}

	grown := make([]byte, newLen)
	copy(grown, c.readBuf)
	c.readBuf = grown
}

func (r *Resolver) handleTCPFrame(ch *Channel, frame []byte) {
	id, err := codec.PeekID(frame)
	if err != nil {
		return
	}
	req, ok := ch.table.lookup(id)
	if !ok {
		ch.uses++
		return
	}

	r.dispatchReply(ch, req, frame, true)
}
