package rdns

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/markdingo/rdns/internal/bestserver"
	"github.com/markdingo/rdns/internal/codec"
	"github.com/markdingo/rdns/internal/concurrencytracker"
	"github.com/markdingo/rdns/internal/connectiontracker"
	"github.com/markdingo/rdns/internal/metrics"
	"github.com/miekg/dns"
)

// Resolver is the root object: it owns the configured upstreams, the host's async driver, the
// optional transport-crypto and upstream-selector plugins, the fake-reply table, and drives the
// periodic maintenance that recycles channels.
type Resolver struct {
	initialized bool

	driver AsyncDriver

	servers []*Server

	upstreamLib bestserver.Manager // installed by SetUpstreamLib, or built by Init if nil

	plugin Plugin

	logger Logger

	fakeReplies *fakeReplyTable

	dnssec bool

	localAddr *net.UDPAddr // set by SetLocalAddr; nil means let the kernel pick source addr/port

	maxIOUses         uint
	ioUsesCheckPeriod time.Duration

	metrics *metrics.Collector

	concurrency concurrencytracker.Counter

	connTracker *connectiontracker.Tracker
	channelSeq  uint64 // assigns each Channel a unique tracking key

	maintenanceHandle Handle

	statsMu          sync.Mutex
	requestsStarted  uint64
	retransmits      uint64
	timeouts         uint64
	truncReschedules uint64
	netErrors        uint64
}

// New constructs an uninitialized Resolver. Call BindAsync, AddServer (one or more times), and
// Init before MakeRequest.
func New() *Resolver {
	return &Resolver{
		logger:            nopLogger{},
		fakeReplies:       newFakeReplyTable(),
		metrics:           metrics.New(),
		connTracker:       connectiontracker.New("channels"),
		ioUsesCheckPeriod: 30 * time.Second,
	}
}

// nextChannelKey returns a fresh, process-unique tracking key for one channel's
// construction/connect lifecycle.
func (r *Resolver) nextChannelKey(srv *Server, transport string) string {
	r.channelSeq++

	return fmt.Sprintf("%s/%s/%d", srv.Name(), transport, r.channelSeq)
}

func (r *Resolver) trackChannelNew(ch *Channel) {
	if r.connTracker != nil {
		r.connTracker.ChannelState(ch.key, time.Now(), connectiontracker.StateNew)
	}
}

func (r *Resolver) trackChannelClosed(ch *Channel) {
	if r.connTracker != nil {
		r.connTracker.ChannelState(ch.key, time.Now(), connectiontracker.StateClosed)
	}
}

func (r *Resolver) trackSessionAdd(ch *Channel) {
	if r.connTracker != nil {
		r.connTracker.SessionAdd(ch.key)
	}
}

func (r *Resolver) trackSessionDone(ch *Channel) {
	if r.connTracker != nil {
		r.connTracker.SessionDone(ch.key)
	}
}

// SetLogger installs the logger-sink collaborator. The default is a no-op logger.
func (r *Resolver) SetLogger(l Logger) {
	if l == nil {
		l = nopLogger{}
	}
	r.logger = l
}

// Collector returns the Prometheus collector for registration by the host with their own
// prometheus.Registry. It is never nil.
func (r *Resolver) Collector() *metrics.Collector {
	return r.metrics
}

// BindAsync installs the host's AsyncDriver. It must be called before Init.
func (r *Resolver) BindAsync(driver AsyncDriver) {
	r.driver = driver
}

// AddServer parses name as an IPv4 or IPv6 literal and registers it as an upstream with the given
// number of UDP and TCP channels. It fails synchronously on bad input and does not affect resolver
// state otherwise.
func (r *Resolver) AddServer(name string, port, priority, udpChannels, tcpChannels int) (*Server, error) {
	if r.initialized {
		return nil, errors.New("rdns: AddServer: resolver is already initialized")
	}

	srv, err := newServer(name, port, priority, udpChannels, tcpChannels)
	if err != nil {
		return nil, err
	}
	r.servers = append(r.servers, srv)

	return srv, nil
}

// SetUpstreamLib installs the upstream-selector plugin. lib must have been constructed over exactly
// the *Server values currently registered via AddServer - typically with bestserver.NewTraditional
// or bestserver.NewLatency over Resolver.BestServerList().
func (r *Resolver) SetUpstreamLib(lib bestserver.Manager) error {
	if lib == nil {
		return errors.New("rdns: SetUpstreamLib: nil manager")
	}
	r.upstreamLib = lib

	return nil
}

// BestServerList converts the registered servers into the []bestserver.Server slice a caller needs
// to construct their own Manager before calling SetUpstreamLib.
func (r *Resolver) BestServerList() []bestserver.Server {
	list := make([]bestserver.Server, len(r.servers))
	for i, s := range r.servers {
		list[i] = s
	}

	return list
}

// SetMaxIOUses configures the per-channel usage cap before recycling. A cap of zero (the default)
// disables recycling.
func (r *Resolver) SetMaxIOUses(n uint, checkPeriod time.Duration) {
	r.maxIOUses = n
	if checkPeriod > 0 {
		r.ioUsesCheckPeriod = checkPeriod
	}
}

// SetDNSSEC toggles the DO bit on outgoing queries.
func (r *Resolver) SetDNSSEC(on bool) {
	r.dnssec = on
}

// SetLocalAddr pins every UDP channel's source address to ip, useful on a multi-homed host whose
// queries must leave from a particular interface. port may be zero to let the kernel pick an
// ephemeral port per channel as usual; a non-zero port binds every UDP channel to that fixed source
// port, which requires SO_REUSEPORT so a channel refresh can bind the replacement socket while the
// old one is still being torn down. Must be called before Init.
func (r *Resolver) SetLocalAddr(ip net.IP, port int) error {
	if r.initialized {
		return errors.New("rdns: SetLocalAddr: resolver is already initialized")
	}
	if ip == nil {
		return errors.New("rdns: SetLocalAddr: ip must not be nil")
	}
	r.localAddr = &net.UDPAddr{IP: ip, Port: port}

	return nil
}

// SetFakeReply installs or replaces a fake-reply short-circuit entry, answered without ever touching
// the network.
func (r *Resolver) SetFakeReply(name string, qtype uint16, rcode int, answer []dns.RR) error {
	return r.fakeReplies.set(name, qtype, rcode, answer)
}

// Init constructs all I/O channels and starts the periodic maintenance sweep. It fails if no async
// driver has been bound or no servers have been registered.
func (r *Resolver) Init() error {
	if r.initialized {
		return errors.New("rdns: Init: already initialized")
	}
	if r.driver == nil {
		return errors.New("rdns: Init: BindAsync must be called before Init")
	}
	if len(r.servers) == 0 {
		return errors.New("rdns: Init: at least one server must be registered via AddServer")
	}

	if r.upstreamLib == nil {
		lib, err := bestserver.NewTraditional(bestserver.TraditionalConfig{}, r.BestServerList())
		if err != nil {
			return fmt.Errorf("rdns: Init: building default upstream selector: %w", err)
		}
		r.upstreamLib = lib
	}

	for _, srv := range r.servers {
		for i := 0; i < cap(srv.udp); i++ {
			ch, err := r.newUDPChannel(srv)
			if err != nil {
				return fmt.Errorf("rdns: Init: %s: %w", srv.Name(), err)
			}
			srv.udp = append(srv.udp, ch)
		}
		for i := 0; i < cap(srv.tcp); i++ {
			srv.tcp = append(srv.tcp, r.newTCPChannel(srv))
		}
	}

	handle, err := r.driver.AddPeriodic(r.maintenancePeriod(), r.maintain)
	if err != nil {
		return fmt.Errorf("rdns: Init: AddPeriodic: %w", err)
	}
	r.maintenanceHandle = handle

	r.initialized = true

	return nil
}

func (r *Resolver) maintenancePeriod() time.Duration {
	if r.maxIOUses > 0 && r.ioUsesCheckPeriod > 0 {
		return r.ioUsesCheckPeriod
	}

	return 30 * time.Second
}

// maintain is the periodic sweeper: it recycles over-used UDP channels and resets idle connected
// TCP channels with empty request tables.
func (r *Resolver) maintain() {
	for _, srv := range r.servers {
		if r.maxIOUses > 0 {
			for i, ch := range srv.udp {
				if ch.uses > r.maxIOUses {
					fresh, err := r.newUDPChannel(srv)
					if err != nil {
						r.logger.Errorf("rdns: maintain: refreshing %s: %v", srv.Name(), err)
						continue
					}
					ch.reset()
					srv.udp[i] = fresh
					if r.metrics != nil {
						r.metrics.ChannelRefresh()
					}
				}
			}
		}

		for _, ch := range srv.tcp {
			if ch.isConnected() && ch.table.len() == 0 && len(ch.writeQueue) == 0 {
				ch.reset()
			}
		}
	}
}

// MakeRequest builds and dispatches a request for a single query. cb is invoked exactly once. arg
// is returned unmodified via Request.Arg().
func (r *Resolver) MakeRequest(query Query, timeout time.Duration, retransmits uint, cb Callback, arg interface{}) (*Request, error) {
	return r.MakeRequestMulti([]Query{query}, timeout, retransmits, cb, arg)
}

// MakeRequestMulti is the multi-question variant: all questions travel in one packet and are
// answered with a single callback invocation.
func (r *Resolver) MakeRequestMulti(queries []Query, timeout time.Duration, retransmits uint, cb Callback, arg interface{}) (*Request, error) {
	if !r.initialized {
		return nil, errors.New("rdns: MakeRequest: resolver is not initialized")
	}
	if cb == nil {
		return nil, errors.New("rdns: MakeRequest: cb must not be nil")
	}
	if len(queries) == 0 {
		return nil, errors.New("rdns: MakeRequest: at least one query is required")
	}

	questions := make([]codec.Question, len(queries))
	for i, q := range queries {
		questions[i] = codec.Question{Name: q.Name, Type: q.Type}
	}

	req := newRequest(r, questions, cb, arg, timeout, retransmits)

	r.statsMu.Lock()
	r.requestsStarted++
	r.statsMu.Unlock()
	if r.metrics != nil {
		r.metrics.RequestStarted()
	}
	r.concurrency.Add()

	if entry, ok := r.fakeReplies.lookup(questions); ok {
		return r.deliverFake(req, entry)
	}

	_, wire, err := codec.BuildQuery(0, questions, r.dnssec)
	if err != nil {
		r.concurrency.Done()
		return nil, fmt.Errorf("rdns: MakeRequest: %w", err)
	}
	req.wire = wire

	if err := r.dispatchNew(req); err != nil {
		return nil, err
	}

	return req, nil
}

// Name and Report satisfy internal/reporter.Reporter.
func (r *Resolver) Name() string { return "rdns" }

func (r *Resolver) Report(resetCounters bool) string {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	s := fmt.Sprintf("requests=%d retransmits=%d timeouts=%d truncation-reschedules=%d net-errors=%d peak-concurrency=%d",
		r.requestsStarted, r.retransmits, r.timeouts, r.truncReschedules, r.netErrors, r.concurrency.Peak(resetCounters))
	if r.connTracker != nil {
		s += " " + r.connTracker.Report(resetCounters)
	}

	if resetCounters {
		r.requestsStarted = 0
		r.retransmits = 0
		r.timeouts = 0
		r.truncReschedules = 0
		r.netErrors = 0
	}

	return s
}
