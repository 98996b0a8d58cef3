// Package rcode defines the synthetic result codes that augment the standard DNS rcode space
// (github.com/miekg/dns.RcodeX constants occupy 0..23 plus a handful of EDNS extended codes). These
// values live well above that range so they can never collide with a real wire rcode, and are
// surfaced to callers alongside standard rcodes in a Reply.
package rcode

// Synthetic rcodes delivered to a callback alongside (or instead of) a standard DNS rcode.
const (
	NoRec     = 10000 + iota // No record of the requested type in an otherwise NOERROR reply
	Timeout                  // Retransmit budget exhausted without a matching reply
	NetErr                   // A send or receive failed with a network error
	ServFail                 // No suitable upstream server was available to send to
)

// String returns a short mnemonic for a synthetic rcode, or "" if rc isn't one of ours.
func String(rc int) string {
	switch rc {
	case NoRec:
		return "NOREC"
	case Timeout:
		return "TIMEOUT"
	case NetErr:
		return "NETERR"
	case ServFail:
		return "SERVFAIL"
	}

	return ""
}
