package rdns

import (
	"net"

	"golang.org/x/sys/unix"
)

// channelFlag tracks a Channel's connection progress.
type channelFlag uint8

const (
	flagConnected channelFlag = 1 << iota
	flagActive
	flagTCP
	flagTCPConnecting
)

// Channel is a single socket (UDP or TCP) bound to one Server, pooled and shared between that
// Server's channel array and every Request currently in flight on it.
type Channel struct {
	server   *Server
	resolver *Resolver

	flags channelFlag
	refs  int

	key string // stable identity for internal/connectiontracker; assigned once at construction

	fd int // raw fd: via internal/fdutil for a net.ListenUDP channel, else straight from unix.Socket

	udpConn *net.UDPConn // set for UDP channels except on the fixed-source-port path; never connect()ed
	tcpConn net.Conn     // set for TCP channels; possibly a *tls.Conn if a Plugin is registered

	table *requestTable

	uses uint // count towards Resolver.maxIOUses

	readHandle  Handle
	writeHandle Handle

	// TCP read-assembly state.
	curRead      int // bytes consumed of the current frame, including its 2-byte prefix
	nextReadSize int // payload length, host order, once the prefix is complete; 0 until then
	readBuf      []byte

	// TCP write queue. Each entry already carries its 2-byte length prefix.
	writeQueue [][]byte
}

func (c *Channel) retain() { c.refs++ }

func (c *Channel) release() {
	c.refs--
}

func (c *Channel) isTCP() bool { return c.flags&flagTCP != 0 }

func (c *Channel) isConnected() bool { return c.flags&flagConnected != 0 }

// insertRequest inserts req into the channel's table and records the occupancy change with the
// connection tracker.
func (c *Channel) insertRequest(req *Request) error {
	if err := c.table.insert(req); err != nil {
		return err
	}
	c.resolver.trackSessionAdd(c)

	return nil
}

// insertRequestPreferID is the insertRequest counterpart used by the UDP->TCP reschedule path.
func (c *Channel) insertRequestPreferID(req *Request) (bool, error) {
	regenerated, err := c.table.insertPreferID(req)
	if err != nil {
		return false, err
	}
	c.resolver.trackSessionAdd(c)

	return regenerated, nil
}

// removeRequest removes req from the channel's table, recording the occupancy change only if the
// request was actually present.
func (c *Channel) removeRequest(req *Request) {
	if c.table.remove(req) {
		c.resolver.trackSessionDone(c)
	}
}

// reset closes the channel's socket, unregisters its event handles and fails every Request
// currently in its table with a network error. The channel itself is left in the server's array;
// callers that also want it replaced do that separately.
func (c *Channel) reset() {
	if c.readHandle != nil {
		c.resolver.driver.DelRead(c.readHandle)
		c.readHandle = nil
	}
	if c.writeHandle != nil {
		c.resolver.driver.DelWrite(c.writeHandle)
		c.writeHandle = nil
	}

	if c.udpConn != nil {
		c.udpConn.Close()
	} else if c.tcpConn != nil {
		c.tcpConn.Close()
	} else if c.fd != 0 {
		unix.Close(c.fd) // raw-fd channel (TCP with no Plugin, or a fixed-source-port UDP socket):
		// nothing else owns this fd
	}

	c.flags &^= flagConnected | flagActive | flagTCPConnecting
	c.resolver.trackChannelClosed(c)

	for _, req := range c.table.requests() {
		c.removeRequest(req)
		req.cancelTimer()
		req.cancelWrite()
		req.releaseChannel()
		req.deliver(nil, errNetErr("channel reset"))
	}

	c.writeQueue = nil
	c.curRead = 0
	c.nextReadSize = 0
}
