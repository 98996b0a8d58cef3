package rdns

import (
	"errors"
	"fmt"

	"github.com/markdingo/rdns/internal/codec"
	"github.com/markdingo/rdns/internal/constants"
	"github.com/miekg/dns"
)

// fakeKey is the (request_type, name_bytes) key used by the fake-reply short-circuit table.
type fakeKey struct {
	qtype uint16
	name  string // lower-cased, fully-qualified
}

// fakeEntry is what set_fake_reply installs: a synthetic rcode plus its answer records.
type fakeEntry struct {
	rcode  int
	answer []dns.RR
}

// fakeReplyTable is a process-local map; it is never consulted over the network and exists purely
// for tests and local overrides.
type fakeReplyTable struct {
	entries map[fakeKey]*fakeEntry
}

func newFakeReplyTable() *fakeReplyTable {
	return &fakeReplyTable{entries: make(map[fakeKey]*fakeEntry)}
}

// set adds or replaces an entry. name longer than MaxFakeNameLength is rejected.
func (t *fakeReplyTable) set(name string, qtype uint16, rcode int, answer []dns.RR) error {
	if len(name) == 0 {
		return errors.New("rdns: SetFakeReply: name must not be empty")
	}

	fqdn := dns.Fqdn(name)
	if uint(len(fqdn)) > constants.Get().MaxFakeNameLength {
		return fmt.Errorf("rdns: SetFakeReply: name %q exceeds MaxFakeNameLength", name)
	}

	key := fakeKey{qtype: qtype, name: dns.CanonicalName(fqdn)}
	t.entries[key] = &fakeEntry{rcode: rcode, answer: answer}

	return nil
}

// lookup matches a single-question Request against the table. Only single-question requests are
// eligible for a fake reply.
func (t *fakeReplyTable) lookup(questions []codec.Question) (*fakeEntry, bool) {
	if len(questions) != 1 {
		return nil, false
	}
	key := fakeKey{qtype: questions[0].Type, name: dns.CanonicalName(dns.Fqdn(questions[0].Name))}
	e, ok := t.entries[key]

	return e, ok
}
