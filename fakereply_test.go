package rdns

import (
	"strings"
	"testing"

	"github.com/markdingo/rdns/internal/codec"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestFakeReplyTableSetAndLookup(t *testing.T) {
	tbl := newFakeReplyTable()
	a := &dns.A{Hdr: dns.RR_Header{Name: "blocked.example.", Rrtype: dns.TypeA, Class: dns.ClassINET}}

	require.NoError(t, tbl.set("blocked.example.", dns.TypeA, dns.RcodeNameError, []dns.RR{a}))

	entry, ok := tbl.lookup([]codec.Question{{Name: "blocked.example", Type: dns.TypeA}})
	require.True(t, ok)
	require.Equal(t, dns.RcodeNameError, entry.rcode)
	require.Equal(t, []dns.RR{a}, entry.answer)
}

func TestFakeReplyTableLookupMissAndMultiQuestion(t *testing.T) {
	tbl := newFakeReplyTable()
	require.NoError(t, tbl.set("blocked.example.", dns.TypeA, dns.RcodeNameError, nil))

	_, ok := tbl.lookup([]codec.Question{{Name: "other.example", Type: dns.TypeA}})
	require.False(t, ok)

	// A multi-question request is never eligible for a fake reply, even if the first question
	// matches.
	_, ok = tbl.lookup([]codec.Question{
		{Name: "blocked.example", Type: dns.TypeA},
		{Name: "blocked.example", Type: dns.TypeAAAA},
	})
	require.False(t, ok)
}

func TestFakeReplyTableRejectsOverlongName(t *testing.T) {
	tbl := newFakeReplyTable()
	long := strings.Repeat("a", 260) + ".example."

	err := tbl.set(long, dns.TypeA, dns.RcodeNameError, nil)
	require.Error(t, err)
}

func TestFakeReplyTableRejectsEmptyName(t *testing.T) {
	tbl := newFakeReplyTable()
	err := tbl.set("", dns.TypeA, dns.RcodeNameError, nil)
	require.Error(t, err)
}
