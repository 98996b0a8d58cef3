package rdns

import (
	"time"

	"github.com/markdingo/rdns/internal/bestserver"
	"github.com/markdingo/rdns/internal/codec"
	"github.com/rs/xid"
)

// State is a Request's position in the lifecycle/retransmission state machine.
type State int

const (
	StateNew State = iota
	StateWaitSend
	StateWaitReply
	StateTCP
	StateReplied
	StateFake
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateWaitSend:
		return "WAIT_SEND"
	case StateWaitReply:
		return "WAIT_REPLY"
	case StateTCP:
		return "TCP"
	case StateReplied:
		return "REPLIED"
	case StateFake:
		return "FAKE"
	}

	return "UNKNOWN"
}

// Callback is invoked exactly once for every Request, whether it was answered, timed out, failed,
// or short-circuited by a fake reply.
type Callback func(req *Request, reply *Reply, err error)

// Query is one (name, type) pair a Request asks about. A Request normally carries one Query, but
// MakeRequestMulti accepts more than one so several questions can share a single packet and a
// single callback.
type Query struct {
	Name string
	Type uint16
}

// NewQuery is a convenience constructor for the common single-question case.
func NewQuery(name string, qtype uint16) Query {
	return Query{Name: name, Type: qtype}
}

// Request is one in-flight (or completed) query.
type Request struct {
	TraceID xid.ID // opaque per-request identity, independent of the wire transaction ID

	id    uint16 // wire transaction ID; see requestTable
	state State

	wire      []byte // encoded query packet, rewritten in place on ID regeneration
	questions []codec.Question

	retransmitsLeft uint
	timeout         time.Duration

	cb  Callback
	arg interface{}

	channel     *Channel
	selectorElt bestserver.Server // the element Best() returned for the current channel's server

	timerHandle Handle
	writeHandle Handle

	fakeReply *Reply // precomputed reply for StateFake

	resolver *Resolver

	// renew is not set or read anywhere: a retransmit that rotates upstream goes back through
	// bindAndSend, one that stays on its channel resends via attemptSend, and both arm a fresh
	// timer through armTimer.
	renew bool

	delivered bool // guards against invoking cb more than once
}

func newRequest(resolver *Resolver, questions []codec.Question, cb Callback, arg interface{}, timeout time.Duration, retransmits uint) *Request {
	return &Request{
		TraceID:         xid.New(),
		state:           StateNew,
		questions:       questions,
		retransmitsLeft: retransmits,
		timeout:         timeout,
		cb:              cb,
		arg:             arg,
		resolver:        resolver,
	}
}

// Arg returns the opaque caller-supplied argument passed to MakeRequest.
func (r *Request) Arg() interface{} { return r.arg }

// State returns the Request's current lifecycle state.
func (r *Request) State() State { return r.state }

// deliver invokes the callback exactly once and marks the Request terminal. Any caller reaching a
// terminal transition must have already unregistered every event handle it held and released its
// channel reference before calling deliver.
func (r *Request) deliver(reply *Reply, err error) {
	if r.delivered {
		return
	}
	r.delivered = true
	r.state = StateReplied
	if r.resolver != nil {
		if r.resolver.metrics != nil {
			r.resolver.metrics.RequestFinished()
		}
		r.resolver.concurrency.Done()
	}
	r.cb(r, reply, err)
}

// cancelTimer unregisters a pending timer, if any.
func (r *Request) cancelTimer() {
	if r.timerHandle != nil && r.resolver != nil && r.resolver.driver != nil {
		r.resolver.driver.DelTimer(r.timerHandle)
	}
	r.timerHandle = nil
}

// cancelWrite unregisters a pending write-readiness registration, if any.
func (r *Request) cancelWrite() {
	if r.writeHandle != nil && r.resolver != nil && r.resolver.driver != nil {
		r.resolver.driver.DelWrite(r.writeHandle)
	}
	r.writeHandle = nil
}

// releaseChannel drops this Request's reference to its current channel. A Request's channel
// reference is retained for the request's duration and released exactly once on terminal
// transition.
func (r *Request) releaseChannel() {
	if r.channel != nil {
		r.channel.release()
		r.channel = nil
	}
}
