package rdns

import "github.com/miekg/dns"

// Reply is the result of a successfully parsed response, or the precomputed payload of a fake
// reply.
type Reply struct {
	Rcode      int // standard DNS rcode, or one of the synthetic Rcode* constants
	Authentic  bool
	Truncated  bool
	Answer     []dns.RR
	ResponseID uint16
}
