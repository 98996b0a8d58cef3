package rdns

import "github.com/markdingo/rdns/internal/codec"

// dispatchReply hands wire to the codec for parsing and validation, and on success either delivers
// the reply or, for a truncated UDP reply with a TCP channel available, hands the request to
// rescheduleOverTCP instead of delivering immediately.
func (r *Resolver) dispatchReply(ch *Channel, req *Request, wire []byte, viaTCP bool) {
	if req.delivered {
		return
	}

	parsed, err := codec.ParseReply(wire, req.questions)
	if err != nil {
		// Parser rejection: drop silently, the timer will eventually time the request out.
		r.logger.Printf("rdns: dispatchReply: rejected reply on %s: %v", ch.server.Name(), err)
		return
	}

	req.cancelTimer()
	r.reportOutcome(req.selectorElt, true, 0)

	if parsed.Truncated && !viaTCP {
		if r.rescheduleOverTCP(ch, req) {
			return
		}
		// No TCP channel available: fall through and deliver the truncated reply as-is.
	}

	ch.removeRequest(req)
	req.cancelWrite()
	req.releaseChannel()

	reply := &Reply{
		Rcode:      parsed.Rcode,
		Authentic:  parsed.Auth,
		Truncated:  parsed.Truncated,
		Answer:     parsed.Answer,
		ResponseID: parsed.ID,
	}
	req.deliver(reply, nil)
}
