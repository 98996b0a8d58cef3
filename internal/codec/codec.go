/*
Package codec is the "packet codec" collaborator referenced throughout the resolver's component
design: wire-format encoding, decoding, name comparison and EDNS0 handling are deliberately kept out
of the resolver's hard core and delegated here, to "github.com/miekg/dns".

The resolver never touches a dns.Msg directly outside this package; everywhere else it deals in
opaque wire-format []byte and the small Question/ParsedReply structs defined here.
*/
package codec

import (
	"errors"
	"fmt"

	"github.com/markdingo/rdns/internal/dnsutil"
	"github.com/markdingo/rdns/internal/rcode"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

const me = "codec"

// Question is the resolver's transport-agnostic view of a single (name, type) query tuple. It
// deliberately omits Qclass as the resolver only ever queries IN.
type Question struct {
	Name string
	Type uint16
}

// ParsedReply is the result of successfully decoding and validating a wire-format reply against the
// Questions that were originally sent. Rcode may be a standard DNS rcode or one of the synthetic
// values in internal/rcode.
type ParsedReply struct {
	Rcode      int
	Auth       bool // AD bit
	Truncated  bool // TC bit
	Answer     []dns.RR
	ID         uint16
}

// BuildQuery constructs a wire-format DNS query for one or more questions. dnssecOK sets the EDNS0
// DO bit to request, but not validate, DNSSEC signatures.
//
// Returns the built message and its packed wire-format bytes.
func BuildQuery(id uint16, questions []Question, dnssecOK bool) (*dns.Msg, []byte, error) {
	if len(questions) == 0 {
		return nil, nil, errors.New(me + ": BuildQuery: no questions supplied")
	}

	m := &dns.Msg{}
	m.Id = id
	m.RecursionDesired = true
	m.Question = make([]dns.Question, 0, len(questions))
	for _, q := range questions {
		if len(q.Name) == 0 {
			return nil, nil, errors.New(me + ": BuildQuery: empty name")
		}
		m.Question = append(m.Question, dns.Question{
			Name:   dns.Fqdn(toASCII(q.Name)),
			Qtype:  q.Type,
			Qclass: dns.ClassINET,
		})
	}

	opt := dnsutil.NewOPT()
	opt.SetDo(dnssecOK)
	m.Extra = append(m.Extra, opt)

	wire, err := m.Pack()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: BuildQuery: Pack: %w", me, err)
	}

	return m, wire, nil
}

// toASCII converts a query name carrying non-ASCII (internationalized) labels to its punycode wire
// form. It is deliberately lenient: ordinary ASCII names, including ones with DNS-only labels like
// "_dmarc" or "_tcp" that a strict IDNA validation profile would reject, pass through untouched, and
// a name idna genuinely can't encode is sent as supplied rather than failing the query outright.
func toASCII(name string) string {
	ascii, err := idna.ToASCII(name)
	if err != nil {
		return name
	}

	return ascii
}

// RegenerateID rewrites the first two bytes of a packed wire message in place, to match a request
// that was reassigned a new transaction ID after a request-table collision or a UDP to TCP
// reschedule.
func RegenerateID(wire []byte, id uint16) error {
	if len(wire) < 2 {
		return errors.New(me + ": RegenerateID: wire too short")
	}
	wire[0] = byte(id >> 8)
	wire[1] = byte(id)

	return nil
}

// PeekID reads the transaction ID out of a wire-format message without fully unpacking it, so a
// channel can demultiplex a reply to its request table before paying for a full parse of a reply
// nobody is waiting for.
func PeekID(wire []byte) (uint16, error) {
	if len(wire) < 2 {
		return 0, errors.New(me + ": PeekID: wire too short")
	}

	return uint16(wire[0])<<8 | uint16(wire[1]), nil
}

// ParseReply validates a wire-format reply against the questions it was sent with, in six steps:
//
//  1. Reject if the QR bit is clear.
//  2. Reject if qdcount differs from the request's original question count.
//  3. Walk the question section comparing each question against the original questions.
//  4. Allocate the reply: rcode from the header, AUTH from AD, TRUNCATED from TC.
//  5. For each answer record not relevant to any requested type, skip it; otherwise append it.
//  6. If no answer record matched the first requested type (and that type isn't ANY), and the
//     rcode was NOERROR, rewrite the rcode to the synthetic NOREC.
func ParseReply(wire []byte, questions []Question) (*ParsedReply, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(wire); err != nil { // Malformed or an incomplete message: reject outright.
		return nil, fmt.Errorf("%s: ParseReply: unpack: %w", me, err)
	}

	if !msg.Response { // Step 1: QR bit clear
		return nil, errors.New(me + ": ParseReply: QR bit clear")
	}

	if len(msg.Question) != len(questions) { // Step 2: qdcount mismatch (also rejects qdcount==0)
		return nil, fmt.Errorf("%s: ParseReply: qdcount mismatch: got %d want %d",
			me, len(msg.Question), len(questions))
	}

	for i, q := range msg.Question { // Step 3: question-section comparator walk
		if !equalQuestion(q, questions[i]) {
			return nil, fmt.Errorf("%s: ParseReply: question mismatch at %d: got %s/%d want %s/%d",
				me, i, q.Name, q.Qtype, questions[i].Name, questions[i].Type)
		}
	}

	reply := &ParsedReply{ // Step 4
		Rcode:     msg.Rcode,
		Auth:      msg.AuthenticatedData,
		Truncated: msg.Truncated,
		ID:        msg.Id,
	}

	firstType := questions[0].Type
	matchedFirst := false
	for _, rr := range msg.Answer { // Step 5
		if !relevant(rr, questions) {
			continue // "no match" - skip, do not reject the whole reply
		}
		reply.Answer = append(reply.Answer, rr)
		if rr.Header().Rrtype == firstType {
			matchedFirst = true
		}
	}

	if !matchedFirst && firstType != dns.TypeANY && reply.Rcode == dns.RcodeSuccess { // Step 6
		reply.Rcode = rcode.NoRec
	}

	return reply, nil
}

// equalQuestion is the comparator used by ParseReply's question-section walk. Comparison is
// case-insensitive per standard DNS name semantics and always assumes class IN. want's name is
// compared in the same punycode form BuildQuery put on the wire.
func equalQuestion(wire dns.Question, want Question) bool {
	if wire.Qtype != want.Type {
		return false
	}
	if wire.Qclass != dns.ClassINET {
		return false
	}

	return dns.CanonicalName(wire.Name) == dns.CanonicalName(dns.Fqdn(toASCII(want.Name)))
}

// relevant reports whether an answer RR's type matches any of the originally requested types, or
// whether ANY was requested in which case everything is relevant.
func relevant(rr dns.RR, questions []Question) bool {
	t := rr.Header().Rrtype
	for _, q := range questions {
		if q.Type == dns.TypeANY || q.Type == t {
			return true
		}
	}

	return false
}
