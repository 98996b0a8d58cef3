package rdns

import (
	"net"
	"testing"
	"time"

	"github.com/markdingo/rdns/internal/testdriver"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// fakeUpstream is a real loopback UDP socket standing in for a recursive resolver. Because the
// Resolver under test does its own sends and receives synchronously via raw, non-blocking syscalls,
// the query is already sitting in fakeUpstream's receive buffer by the time MakeRequest returns -
// there is no goroutine or polling required to drive these tests.
type fakeUpstream struct {
	t    *testing.T
	conn *net.UDPConn
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	return &fakeUpstream{t: t, conn: conn}
}

func (f *fakeUpstream) addr() *net.UDPAddr { return f.conn.LocalAddr().(*net.UDPAddr) }

func (f *fakeUpstream) close() { f.conn.Close() }

// recvQuery reads one pending query and returns the unpacked message and the client's address, so
// the caller can construct a reply.
func (f *fakeUpstream) recvQuery() (*dns.Msg, *net.UDPAddr) {
	buf := make([]byte, 4096)
	require.NoError(f.t, f.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, from, err := f.conn.ReadFromUDP(buf)
	require.NoError(f.t, err)

	m := new(dns.Msg)
	require.NoError(f.t, m.Unpack(buf[:n]))

	return m, from
}

func (f *fakeUpstream) reply(query *dns.Msg, from *net.UDPAddr, mutate func(*dns.Msg)) {
	resp := new(dns.Msg)
	resp.SetReply(query)
	if mutate != nil {
		mutate(resp)
	}
	wire, err := resp.Pack()
	require.NoError(f.t, err)
	_, err = f.conn.WriteToUDP(wire, from)
	require.NoError(f.t, err)
}

// newTestResolver builds and initializes a Resolver with a single UDP channel pointed at each given
// upstream, driven by a testdriver.Driver the caller fires manually.
func newTestResolver(t *testing.T, driver *testdriver.Driver, upstreams ...*fakeUpstream) *Resolver {
	r := New()
	r.BindAsync(driver)
	for _, u := range upstreams {
		addr := u.addr()
		_, err := r.AddServer(addr.IP.String(), addr.Port, 0, 1, 1)
		require.NoError(t, err)
	}
	require.NoError(t, r.Init())

	return r
}

func TestMakeRequestDeliversSuccessfulReply(t *testing.T) {
	up := newFakeUpstream(t)
	defer up.close()

	driver := testdriver.New()
	r := newTestResolver(t, driver, up)

	type result struct {
		reply *Reply
		err   error
	}
	done := make(chan result, 1)

	_, err := r.MakeRequest(NewQuery("example.com.", dns.TypeA), 2*time.Second, 0,
		func(req *Request, reply *Reply, err error) { done <- result{reply, err} }, nil)
	require.NoError(t, err)

	query, from := up.recvQuery()
	require.Equal(t, "example.com.", query.Question[0].Name)
	require.Equal(t, dns.TypeA, query.Question[0].Qtype)

	up.reply(query, from, func(resp *dns.Msg) {
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: query.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
			A:   net.ParseIP("93.184.216.34"),
		})
	})

	fd := r.servers[0].udp[0].fd
	driver.FireRead(fd)

	res := <-done
	require.NoError(t, res.err)
	require.NotNil(t, res.reply)
	require.Equal(t, dns.RcodeSuccess, res.reply.Rcode)
	require.Len(t, res.reply.Answer, 1)
}

func TestMakeRequestRewritesNoAnswerToNoRec(t *testing.T) {
	up := newFakeUpstream(t)
	defer up.close()

	driver := testdriver.New()
	r := newTestResolver(t, driver, up)

	type result struct {
		reply *Reply
		err   error
	}
	done := make(chan result, 1)

	_, err := r.MakeRequest(NewQuery("nothing-here.example.", dns.TypeA), 2*time.Second, 0,
		func(req *Request, reply *Reply, err error) { done <- result{reply, err} }, nil)
	require.NoError(t, err)

	query, from := up.recvQuery()
	up.reply(query, from, nil) // NOERROR, no answer records

	driver.FireRead(r.servers[0].udp[0].fd)

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, RcodeNoRec, res.reply.Rcode)
}

func TestMakeRequestTimesOutWithNoRetransmits(t *testing.T) {
	up := newFakeUpstream(t)
	defer up.close()

	driver := testdriver.New()
	r := newTestResolver(t, driver, up)

	type result struct {
		reply *Reply
		err   error
	}
	done := make(chan result, 1)

	_, err := r.MakeRequest(NewQuery("silent.example.", dns.TypeA), time.Millisecond, 0,
		func(req *Request, reply *Reply, err error) { done <- result{reply, err} }, nil)
	require.NoError(t, err)

	up.recvQuery() // drain the query; never reply

	require.NoError(t, driver.FireAllTimers())

	res := <-done
	require.Nil(t, res.reply)
	require.Error(t, res.err)
	rerr, ok := res.err.(*resolverError)
	require.True(t, ok)
	require.Equal(t, RcodeTimeout, rerr.Rcode())
}

func TestMakeRequestRetransmitRotatesUpstream(t *testing.T) {
	up1 := newFakeUpstream(t)
	defer up1.close()
	up2 := newFakeUpstream(t)
	defer up2.close()

	driver := testdriver.New()
	r := newTestResolver(t, driver, up1, up2)

	type result struct {
		reply *Reply
		err   error
	}
	done := make(chan result, 1)

	_, err := r.MakeRequest(NewQuery("rotate.example.", dns.TypeA), time.Millisecond, 1,
		func(req *Request, reply *Reply, err error) { done <- result{reply, err} }, nil)
	require.NoError(t, err)

	up1.recvQuery() // first attempt always goes to the first server

	require.NoError(t, driver.FireAllTimers()) // the one retransmit rotates to the second server

	query2, from2 := up2.recvQuery()
	up2.reply(query2, from2, func(resp *dns.Msg) {
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: query2.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
			A:   net.ParseIP("127.0.0.2"),
		})
	})

	driver.FireRead(r.servers[1].udp[0].fd)

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, dns.RcodeSuccess, res.reply.Rcode)
}

func TestMakeRequestTruncatedWithNoTCPChannelPassesThrough(t *testing.T) {
	up := newFakeUpstream(t)
	defer up.close()

	r := New()
	r.BindAsync(testdriver.New())
	addr := up.addr()
	_, err := r.AddServer(addr.IP.String(), addr.Port, 0, 1, 0) // no TCP channels configured
	require.NoError(t, err)
	require.NoError(t, r.Init())

	driver := r.driver.(*testdriver.Driver)

	type result struct {
		reply *Reply
		err   error
	}
	done := make(chan result, 1)

	_, err = r.MakeRequest(NewQuery("big.example.", dns.TypeA), 2*time.Second, 0,
		func(req *Request, reply *Reply, err error) { done <- result{reply, err} }, nil)
	require.NoError(t, err)

	query, from := up.recvQuery()
	up.reply(query, from, func(resp *dns.Msg) { resp.Truncated = true })

	driver.FireRead(r.servers[0].udp[0].fd)

	res := <-done
	require.NoError(t, res.err)
	require.True(t, res.reply.Truncated)
}

func TestMakeRequestFakeReplyShortCircuits(t *testing.T) {
	up := newFakeUpstream(t)
	defer up.close()

	driver := testdriver.New()
	r := newTestResolver(t, driver, up)

	a := &dns.A{Hdr: dns.RR_Header{Name: "blocked.example.", Rrtype: dns.TypeA, Class: dns.ClassINET}, A: net.ParseIP("0.0.0.0")}
	require.NoError(t, r.SetFakeReply("blocked.example.", dns.TypeA, dns.RcodeNameError, []dns.RR{a}))

	type result struct {
		reply *Reply
		err   error
	}
	done := make(chan result, 1)

	_, err := r.MakeRequest(NewQuery("blocked.example.", dns.TypeA), 2*time.Second, 0,
		func(req *Request, reply *Reply, err error) { done <- result{reply, err} }, nil)
	require.NoError(t, err)

	require.NoError(t, driver.FireAllTimers()) // fake replies are scheduled via a zero-duration timer

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, dns.RcodeNameError, res.reply.Rcode)
	require.Equal(t, []dns.RR{a}, res.reply.Answer)
}
