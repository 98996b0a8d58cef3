package codec

import (
	"testing"

	"github.com/markdingo/rdns/internal/rcode"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestBuildQuery(t *testing.T) {
	_, wire, err := BuildQuery(0x1234, []Question{{Name: "example.com", Type: dns.TypeA}}, false)
	require.NoError(t, err)
	require.True(t, len(wire) > 12)
	require.Equal(t, byte(0x12), wire[0])
	require.Equal(t, byte(0x34), wire[1])
}

func TestBuildQueryNoQuestions(t *testing.T) {
	_, _, err := BuildQuery(1, nil, false)
	require.Error(t, err)
}

func TestBuildQueryIDNAEncodesUnicodeLabels(t *testing.T) {
	m, _, err := BuildQuery(1, []Question{{Name: "münchen.example.", Type: dns.TypeA}}, false)
	require.NoError(t, err)
	require.Equal(t, "xn--mnchen-3ya.example.", m.Question[0].Name)
}

func TestBuildQueryLeavesUnderscoreLabelsAlone(t *testing.T) {
	m, _, err := BuildQuery(1, []Question{{Name: "_dmarc.example.com", Type: dns.TypeTXT}}, false)
	require.NoError(t, err)
	require.Equal(t, "_dmarc.example.com.", m.Question[0].Name)
}

func TestBuildQueryDNSSEC(t *testing.T) {
	m, _, err := BuildQuery(1, []Question{{Name: "example.com", Type: dns.TypeA}}, true)
	require.NoError(t, err)
	opt := m.IsEdns0()
	require.NotNil(t, opt)
	require.True(t, opt.Do())
}

func TestRegenerateID(t *testing.T) {
	wire := []byte{0, 0, 1, 2, 3}
	require.NoError(t, RegenerateID(wire, 0xabcd))
	require.Equal(t, byte(0xab), wire[0])
	require.Equal(t, byte(0xcd), wire[1])
}

func TestRegenerateIDTooShort(t *testing.T) {
	require.Error(t, RegenerateID([]byte{1}, 2))
}

func TestPeekID(t *testing.T) {
	id, err := PeekID([]byte{0xab, 0xcd, 0, 0})
	require.NoError(t, err)
	require.Equal(t, uint16(0xabcd), id)
}

func TestPeekIDTooShort(t *testing.T) {
	_, err := PeekID([]byte{1})
	require.Error(t, err)
}

func buildReplyWire(t *testing.T, id uint16, qname string, qtype uint16, rc int, answers []dns.RR, truncated bool) []byte {
	t.Helper()
	m := &dns.Msg{}
	m.Id = id
	m.Response = true
	m.Rcode = rc
	m.Truncated = truncated
	m.Question = []dns.Question{{Name: dns.Fqdn(qname), Qtype: qtype, Qclass: dns.ClassINET}}
	m.Answer = answers
	wire, err := m.Pack()
	require.NoError(t, err)

	return wire
}

func TestParseReplySuccess(t *testing.T) {
	rr, err := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	require.NoError(t, err)
	wire := buildReplyWire(t, 7, "example.com", dns.TypeA, dns.RcodeSuccess, []dns.RR{rr}, false)

	reply, err := ParseReply(wire, []Question{{Name: "example.com", Type: dns.TypeA}})
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, reply.Rcode)
	require.Len(t, reply.Answer, 1)
	require.False(t, reply.Truncated)
}

func TestParseReplyQRBitClear(t *testing.T) {
	m := &dns.Msg{}
	m.Response = false
	m.Question = []dns.Question{{Name: "example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}}
	wire, err := m.Pack()
	require.NoError(t, err)

	_, err = ParseReply(wire, []Question{{Name: "example.com", Type: dns.TypeA}})
	require.Error(t, err)
}

func TestParseReplyQDCountMismatch(t *testing.T) {
	wire := buildReplyWire(t, 1, "example.com", dns.TypeA, dns.RcodeSuccess, nil, false)
	_, err := ParseReply(wire, []Question{{Name: "example.com", Type: dns.TypeA}, {Name: "example.net", Type: dns.TypeA}})
	require.Error(t, err)
}

func TestParseReplyQuestionMismatch(t *testing.T) {
	wire := buildReplyWire(t, 1, "example.com", dns.TypeA, dns.RcodeSuccess, nil, false)
	_, err := ParseReply(wire, []Question{{Name: "example.net", Type: dns.TypeA}})
	require.Error(t, err)
}

func TestParseReplyNoRecRewrite(t *testing.T) {
	wire := buildReplyWire(t, 1, "example.com", dns.TypeA, dns.RcodeSuccess, nil, false) // Zero answers
	reply, err := ParseReply(wire, []Question{{Name: "example.com", Type: dns.TypeA}})
	require.NoError(t, err)
	require.Equal(t, rcode.NoRec, reply.Rcode)
}

func TestParseReplyANYNotRewritten(t *testing.T) {
	wire := buildReplyWire(t, 1, "example.com", dns.TypeANY, dns.RcodeSuccess, nil, false)
	reply, err := ParseReply(wire, []Question{{Name: "example.com", Type: dns.TypeANY}})
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, reply.Rcode)
}

func TestParseReplySkipsIrrelevantAnswer(t *testing.T) {
	a, err := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	require.NoError(t, err)
	mx, err := dns.NewRR("example.com. 300 IN MX 10 mail.example.com.")
	require.NoError(t, err)
	wire := buildReplyWire(t, 1, "example.com", dns.TypeA, dns.RcodeSuccess, []dns.RR{mx, a}, false)

	reply, err := ParseReply(wire, []Question{{Name: "example.com", Type: dns.TypeA}})
	require.NoError(t, err)
	require.Len(t, reply.Answer, 1)
	require.Equal(t, dns.TypeA, reply.Answer[0].Header().Rrtype)
}

func TestParseReplyTruncated(t *testing.T) {
	wire := buildReplyWire(t, 1, "example.com", dns.TypeA, dns.RcodeSuccess, nil, true)
	reply, err := ParseReply(wire, []Question{{Name: "example.com", Type: dns.TypeA}})
	require.NoError(t, err)
	require.True(t, reply.Truncated)
}
