package rdns

import (
	"errors"

	"github.com/markdingo/rdns/internal/bestserver"
	"github.com/markdingo/rdns/internal/codec"
)

// dispatchNew is a brand new request's entry point: select an upstream and a UDP channel, insert
// into its request table, and attempt the first send.
func (r *Resolver) dispatchNew(req *Request) error {
	return r.bindAndSend(req, false, nil)
}

// bindAndSend selects a server/channel (rotating away from prevElt when isRetransmit is true),
// retains the channel, inserts the request into its table under a freshly allocated random ID
// (rewriting the wire packet's ID to match), and attempts to send. This single path serves both the first send and
// a retransmit that has decided to rotate upstream: once a retransmit picks a new server it is
// indistinguishable from a first send as far as table insertion and timer arming go.
func (r *Resolver) bindAndSend(req *Request, isRetransmit bool, prevElt bestserver.Server) error {
	srv, elt, err := r.selectServer(isRetransmit, prevElt)
	if err != nil {
		req.deliver(nil, err)
		return err
	}

	ch := srv.nextUDPChannel()
	if ch == nil {
		err := errServFail("no UDP channel available on selected server")
		req.deliver(nil, err)
		return err
	}

	ch.retain()
	req.channel = ch
	req.selectorElt = elt

	if err := ch.insertRequest(req); err != nil {
		ch.release()
		req.channel = nil
		err = errServFail(err.Error())
		req.deliver(nil, err)
		return err
	}
	if err := codec.RegenerateID(req.wire, req.id); err != nil {
		ch.release()
		req.channel = nil
		req.deliver(nil, errNetErr(err.Error()))
		return err
	}

	return r.attemptSend(req, ch, srv)
}

// attemptSend performs one UDP send attempt and moves req through the NEW/WAIT_SEND/WAIT_REPLY
// transitions accordingly.
func (r *Resolver) attemptSend(req *Request, ch *Channel, srv *Server) error {
	n, sendErr := ch.sendUDP(req.wire, srv.addr)
	switch {
	case sendErr == nil && n > 0:
		req.state = StateWaitReply
		return r.armTimer(req)

	case sendErr == nil: // n == 0: socket wasn't ready, same handling as an explicit EAGAIN
		return r.registerSendRetry(req, ch)

	case errors.Is(sendErr, errEAGAIN):
		return r.registerSendRetry(req, ch)

	default:
		ch.removeRequest(req)
		ch.release()
		req.channel = nil
		if r.metrics != nil {
			r.metrics.NetError()
		}
		r.statsMu.Lock()
		r.netErrors++
		r.statsMu.Unlock()
		r.reportOutcome(req.selectorElt, false, 0)
		err := errNetErr("send: " + sendErr.Error())
		req.deliver(nil, err)
		return err
	}
}

func (r *Resolver) registerSendRetry(req *Request, ch *Channel) error {
	req.state = StateWaitSend
	handle, err := r.driver.AddRequestWrite(ch.fd, func() { r.onRequestWritable(req, ch) })
	if err != nil {
		ch.removeRequest(req)
		ch.release()
		req.channel = nil
		req.deliver(nil, errNetErr("AddRequestWrite: "+err.Error()))
		return err
	}
	req.writeHandle = handle

	return nil
}

// onRequestWritable fires once the fd is writable again after an earlier send blocked; retry it.
func (r *Resolver) onRequestWritable(req *Request, ch *Channel) {
	req.writeHandle = nil
	if req.delivered {
		return
	}
	r.attemptSend(req, ch, ch.server)
}

// armTimer (re)registers req's retransmit timer for its configured timeout.
func (r *Resolver) armTimer(req *Request) error {
	handle, err := r.driver.AddTimer(req.timeout, func() { r.onTimer(req) })
	if err != nil {
		return err
	}
	req.timerHandle = handle

	return nil
}

// onTimer fires when a request's retransmit/timeout timer expires, whether it is waiting on a UDP
// reply or parked on a TCP channel after a truncation reschedule.
func (r *Resolver) onTimer(req *Request) {
	req.timerHandle = nil
	if req.delivered {
		return
	}

	if req.state == StateTCP {
		if req.channel != nil {
			req.channel.removeRequest(req)
		}
		req.cancelWrite()
		req.releaseChannel()
		r.timeoutStats()
		req.deliver(nil, errTimeout("no reply from upstream over tcp"))
		return
	}

	if req.retransmitsLeft == 0 {
		if req.channel != nil {
			req.channel.removeRequest(req)
		}
		req.releaseChannel()
		r.timeoutStats()
		req.deliver(nil, errTimeout("no reply from upstream"))
		return
	}

	req.retransmitsLeft--
	if r.metrics != nil {
		r.metrics.Retransmit()
	}
	r.statsMu.Lock()
	r.retransmits++
	r.statsMu.Unlock()

	// Rotate upstream on the last retransmit when more than one server is configured, so the
	// final attempt gets a fresh server rather than repeating one that just timed out.
	rotate := len(r.servers) > 1 && req.retransmitsLeft == 0

	if rotate {
		prevElt := req.selectorElt
		if req.channel != nil {
			req.channel.removeRequest(req)
		}
		req.releaseChannel()
		if err := r.bindAndSend(req, true, prevElt); err != nil {
			return // bindAndSend already delivered the failure
		}
		return
	}

	// Same channel, same table entry: resend without touching the table. The old transaction ID
	// stays put since the channel is just retrying, not moving the request anywhere new.
	ch := req.channel
	if err := r.attemptSend(req, ch, ch.server); err != nil {
		return
	}
}

func (r *Resolver) timeoutStats() {
	if r.metrics != nil {
		r.metrics.Timeout()
	}
	r.statsMu.Lock()
	r.timeouts++
	r.statsMu.Unlock()
}

// deliverFake schedules delivery of a fake reply from the event loop rather than inline with
// construction, so a fake-reply caller observes the same "callback arrives later" contract as a
// real query.
func (r *Resolver) deliverFake(req *Request, entry *fakeEntry) (*Request, error) {
	req.state = StateFake
	req.fakeReply = &Reply{Rcode: entry.rcode, Answer: entry.answer}

	handle, err := r.driver.AddTimer(0, func() {
		req.timerHandle = nil
		req.deliver(req.fakeReply, nil)
	})
	if err != nil {
		r.concurrency.Done()
		return nil, errNetErr("scheduling fake reply: " + err.Error())
	}
	req.timerHandle = handle

	return req, nil
}
