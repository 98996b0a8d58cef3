package rdns

import "github.com/markdingo/rdns/internal/codec"

// rescheduleOverTCP handles a truncated UDP reply: when the server has at least one TCP channel,
// move the request there and resend. It reports true when the request has been handed off
// (successfully, or delivered with a failure) so the caller must not also deliver the truncated UDP
// reply; false means no TCP channel was available, so the caller should deliver the truncated reply
// as-is.
func (r *Resolver) rescheduleOverTCP(udpCh *Channel, req *Request) bool {
	tcpCh := udpCh.server.anyTCPChannel()
	if tcpCh == nil {
		return false
	}

	udpCh.removeRequest(req)
	req.releaseChannel()

	tcpCh.retain()
	req.channel = tcpCh
	req.state = StateTCP

	regenerated, err := tcpCh.insertRequestPreferID(req)
	if err != nil {
		tcpCh.release()
		req.channel = nil
		req.deliver(nil, errNetErr("reschedule: "+err.Error()))
		return true
	}
	if regenerated {
		if err := codec.RegenerateID(req.wire, req.id); err != nil {
			tcpCh.removeRequest(req)
			tcpCh.release()
			req.channel = nil
			req.deliver(nil, errNetErr("reschedule: "+err.Error()))
			return true
		}
	}

	payload := append([]byte(nil), req.wire...)
	if err := r.enqueueFrame(tcpCh, payload); err != nil {
		tcpCh.removeRequest(req)
		tcpCh.release()
		req.channel = nil
		req.deliver(nil, errNetErr("reschedule: enqueue: "+err.Error()))
		return true
	}

	if err := r.armTimer(req); err != nil {
		tcpCh.removeRequest(req)
		tcpCh.release()
		req.channel = nil
		req.deliver(nil, errNetErr("reschedule: arm timer: "+err.Error()))
		return true
	}

	if r.metrics != nil {
		r.metrics.TruncationReschedule()
	}
	r.statsMu.Lock()
	r.truncReschedules++
	r.statsMu.Unlock()

	return true
}
