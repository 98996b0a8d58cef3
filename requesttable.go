package rdns

import (
	"errors"
	"math/rand"

	"github.com/markdingo/rdns/internal/constants"
)

// requestTable maps a 16-bit DNS transaction ID to the in-flight Request awaiting its reply. One
// table is owned by each Channel; IDs are unique within a table, never globally.
type requestTable struct {
	entries map[uint16]*Request
}

func newRequestTable() *requestTable {
	return &requestTable{entries: make(map[uint16]*Request)}
}

// insert assigns req a fresh random ID not already present in the table and stores it. After
// constants.Get().IDProbeLimit colliding attempts, insertion fails and the caller must fail the
// request rather than loop forever.
func (t *requestTable) insert(req *Request) error {
	limit := int(constants.Get().IDProbeLimit)
	for attempt := 0; attempt < limit; attempt++ {
		candidate := uint16(rand.Intn(65536))
		if _, exists := t.entries[candidate]; exists {
			continue
		}
		req.id = candidate
		t.entries[candidate] = req
		return nil
	}

	return errors.New("rdns: requestTable.insert: exhausted id probe limit")
}

// insertPreferID tries req's existing ID first (used when moving a Request from one channel's
// table to another, e.g. UDP->TCP rescheduling) and only regenerates a fresh ID, rewriting the wire
// packet in place, if that ID is already taken in this table. It reports whether the ID was
// regenerated so the caller knows whether to touch the wire buffer.
func (t *requestTable) insertPreferID(req *Request) (regenerated bool, err error) {
	if _, exists := t.entries[req.id]; !exists {
		t.entries[req.id] = req
		return false, nil
	}

	if err := t.insert(req); err != nil {
		return false, err
	}

	return true, nil
}

func (t *requestTable) lookup(id uint16) (*Request, bool) {
	req, ok := t.entries[id]
	return req, ok
}

// remove is idempotent: removing a Request not present, or present under a different ID, is a
// no-op. It reports whether an entry was actually deleted.
func (t *requestTable) remove(req *Request) bool {
	if cur, ok := t.entries[req.id]; ok && cur == req {
		delete(t.entries, req.id)
		return true
	}

	return false
}

func (t *requestTable) len() int {
	return len(t.entries)
}

// requests returns every Request currently in the table, used by channel reset to fail them all.
func (t *requestTable) requests() []*Request {
	reqs := make([]*Request, 0, len(t.entries))
	for _, req := range t.entries {
		reqs = append(reqs, req)
	}

	return reqs
}
