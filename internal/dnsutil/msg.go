/*
Package dnsutil provides small helper functions on top of "github.com/miekg/dns.Msg" that are
used by the codec. The caller is assumed to have checked that the
dns.Msg is a legitimate message prior to calling any of these functions.
*/
package dnsutil

import (
	"github.com/miekg/dns"
)

// FindOPT searches dns.Msg.Extra for the first occurrence of an OPT RR. There should only be one.
//
// Return *dns.OPT if found otherwise nil
func FindOPT(q *dns.Msg) *dns.OPT {
	for _, rr := range q.Extra { // Search Extra for OPT RRs
		if opt, ok := rr.(*dns.OPT); ok {
			return opt
		}
	}

	return nil
}

// NewOPT creates a populated msg.OPT RR as a zero-values struct is not a valid OPT. Note that
// SetUDPSize has to be set for some resolvers that are ECS aware. In particular unbound does not
// seem to like a UDP size of zero.
func NewOPT() *dns.OPT {
	optRR := &dns.OPT{}
	optRR.SetVersion(0)
	optRR.SetUDPSize(dns.DefaultMsgSize)
	optRR.Hdr.Name = "."
	optRR.Hdr.Rrtype = dns.TypeOPT

	return optRR
}
