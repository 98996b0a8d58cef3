package rdns

import (
	"net"
	"testing"
	"time"

	"github.com/markdingo/rdns/internal/testdriver"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSetLocalAddrRejectsNilIPAndPostInit(t *testing.T) {
	r := New()
	require.Error(t, r.SetLocalAddr(nil, 0))

	up := newFakeUpstream(t)
	defer up.close()
	driver := testdriver.New()
	r = newTestResolver(t, driver, up)
	require.Error(t, r.SetLocalAddr(net.IPv4(127, 0, 0, 1), 0))
}

// TestSetLocalAddrEphemeralPortStillDeliversReplies pins the source IP but leaves the port
// ephemeral, the common case, and confirms queries still round-trip normally.
func TestSetLocalAddrEphemeralPortStillDeliversReplies(t *testing.T) {
	up := newFakeUpstream(t)
	defer up.close()

	driver := testdriver.New()
	r := New()
	r.BindAsync(driver)
	require.NoError(t, r.SetLocalAddr(net.IPv4(127, 0, 0, 1), 0))
	addr := up.addr()
	_, err := r.AddServer(addr.IP.String(), addr.Port, 0, 1, 1)
	require.NoError(t, err)
	require.NoError(t, r.Init())

	type result struct {
		reply *Reply
		err   error
	}
	done := make(chan result, 1)
	_, err = r.MakeRequest(NewQuery("example.com.", dns.TypeA), 2*time.Second, 0,
		func(req *Request, reply *Reply, err error) { done <- result{reply, err} }, nil)
	require.NoError(t, err)

	query, from := up.recvQuery()
	up.reply(query, from, func(resp *dns.Msg) {
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: query.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
			A:   net.ParseIP("93.184.216.34"),
		})
	})
	driver.FireRead(r.servers[0].udp[0].fd)

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, dns.RcodeSuccess, res.reply.Rcode)
}

// TestBindFixedSourcePortUDPSocketAllowsOverlap exercises the SO_REUSEPORT rationale directly: two
// sockets bound to the same fixed local port must both succeed while the first is still open,
// mirroring the brief overlap window maintain() creates when it refreshes a channel.
func TestBindFixedSourcePortUDPSocketAllowsOverlap(t *testing.T) {
	r := New()
	require.NoError(t, r.SetLocalAddr(net.IPv4(127, 0, 0, 1), 0))

	fd1, err := r.bindFixedSourcePortUDPSocket()
	require.NoError(t, err)
	defer unix.Close(fd1)

	sa, err := unix.Getsockname(fd1)
	require.NoError(t, err)
	sa4, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)
	r.localAddr.Port = sa4.Port

	fd2, err := r.bindFixedSourcePortUDPSocket()
	require.NoError(t, err)
	defer unix.Close(fd2)
}
