package rdns

import (
	"github.com/markdingo/rdns/internal/rcode"
	"github.com/miekg/dns"
)

// Synthetic rcodes delivered to callbacks alongside the standard DNS rcodes defined by
// github.com/miekg/dns (dns.RcodeSuccess, dns.RcodeNameError, and so on).
const (
	RcodeNoRec    = rcode.NoRec    // No record of the requested type, rcode was NOERROR
	RcodeTimeout  = rcode.Timeout  // Retransmit budget exhausted without a matching reply
	RcodeNetErr   = rcode.NetErr   // A send or read failed
	RcodeServFail = rcode.ServFail // No suitable upstream was available
)

// RcodeString renders an rcode, standard or synthetic, as a short mnemonic.
func RcodeString(rc int) string {
	if s := rcode.String(rc); s != "" {
		return s
	}

	return dns.RcodeToString[rc]
}
