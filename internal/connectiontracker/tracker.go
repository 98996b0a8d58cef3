/*
Package connectiontracker tracks I/O channel lifecycle for statistical purposes. The goal is to
determine occupancy and concurrency on a per-server basis and, within a given channel, how many
requests are concurrently sitting in that channel's request table.

connectiontracker presents a reporter interface so its output can be periodically logged.

Typical usage is to create a connectiontracker for a given server then drive it from the channel's
state transitions, i.e:

	ct := connectiontracker.New("Name")
	ct.ChannelState(channelKey, time.Now(), connectiontracker.StateNew)
	... time passes and requests are inserted/removed from the channel's request table
	ct.SessionAdd(channelKey)  // A request was inserted into the table
	ct.SessionDone(channelKey) // A request was removed from the table
	ct.ChannelState(channelKey, time.Now(), connectiontracker.StateClosed)
	fmt.Println(ct.Report(true))

The channel and session key can be any string you like so long as it is consistent and accurately
reflects a unique channel. The resolver uses the server name, the transport and a per-resolver
sequence number.
*/
package connectiontracker

import (
	"sync"
	"time"
)

// State models the lifecycle transitions of an I/O channel that connectiontracker cares about. It
// mirrors the shape of net/http.ConnState without depending on net/http, since a channel tracked
// here may be a UDP socket that was never "accepted" in the HTTP sense.
type State int

const (
	StateNew      State = iota // Channel constructed
	StateActive                // Channel has at least one in-flight request
	StateIdle                  // Channel has no in-flight requests but remains open
	StateHijacked              // Channel ownership was transferred elsewhere (tracked for parity)
	StateClosed                // Channel was reset/closed
)

type connectionStats struct {
	connStart       time.Time     // When the channel was first constructed
	activeStart     time.Time     // Last transition to active
	activeFor       time.Duration // Sum of active periods
	currentSessions int
	peakSessions    int
}

type connection struct {
	connectionStats
}

func (t *connection) resetCounters() {
}

type errIx int

const (
	errNoConnInMap         errIx = iota // Channel not present for state change
	errNoConnForSession                 // No channel found for session
	errDanglingConn                     // New when already active
	errNegativeConcurrency              // More Idle than Active transitions
	errConnsLost                        // Close/hijack and concurrency greater than zero
	errUnknownState                     // We must be old relative to our own State enum
	errArSize
)

type trackerStats struct {
	peakConns    int
	peakSessions int
	connFor      time.Duration // Total channel existence time (can easily be GT elapse)
	activeFor    time.Duration // Total channel active time
	errors       [errArSize]int
}

type Tracker struct {
	name string
	mu   sync.Mutex

	connMap map[string]*connection // Indexed by channel key
	trackerStats
}

// New constructs a tracker object - in particular the map used to track each channel key
func New(name string) *Tracker {
	t := &Tracker{name: name}
	t.connMap = make(map[string]*connection)

	return t
}

// ChannelState is called when a channel transitions to a new state. The key can be anything so long
// as it is unique per-channel.
//
// ChannelState does not fastidiously check that all state transitions make sense, it merely checks
// those which need to be correct for it to perform its function. This is a statistics gathering
// function after all, not a logic validation monster; besides which this function does not really
// know which transitions are legal in most cases.
func (t *Tracker) ChannelState(key string, now time.Time, state State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs, ok := t.connMap[key]
	if state == StateNew { // All other states must have a pre-existing channel
		cs := &connection{} // Always create a new and possibly over-write any dangling
		cs.connStart = now  // channel.
		t.connMap[key] = cs
		if ok { // Dangling channel? Report it
			t.errors[errDanglingConn]++
		}
		cc := len(t.connMap)
		if cc > t.peakConns {
			t.peakConns = cc
		}
		return !ok
	}

	if !ok { // If it's not a pre-existing channel then record the error and exit
		t.errors[errNoConnInMap]++
		return false
	}

	switch state {
	case StateActive:
		cs.activeStart = now
		return true

	case StateIdle:
		if !cs.activeStart.IsZero() {
			cs.activeFor += now.Sub(cs.activeStart)
			cs.activeStart = time.Time{}
		}
		return true

	case StateHijacked, StateClosed:
		t.connFor += now.Sub(cs.connStart)
		if !cs.activeStart.IsZero() { // Capture last active period
			cs.activeFor += now.Sub(cs.activeStart)
		}
		t.activeFor += cs.activeFor

		delete(t.connMap, key)
		if cs.currentSessions > 0 { // Assuming this is an error for now, but it may not be
			t.errors[errConnsLost]++
			return false
		}
		if cs.peakSessions > t.peakSessions {
			t.peakSessions = cs.peakSessions
		}
		return true
	}

	t.errors[errUnknownState]++
	return false
}

// SessionAdd increments the in-flight request counter for a channel, i.e. a Request was just
// inserted into the channel's request table. Return false if the channel key is not known.
func (t *Tracker) SessionAdd(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs, ok := t.connMap[key]
	if !ok {
		t.errors[errNoConnForSession]++
		return false
	}

	cs.currentSessions++
	if cs.currentSessions > cs.peakSessions {
		cs.peakSessions = cs.currentSessions
	}

	return true
}

// SessionDone undoes SessionAdd, i.e. a Request was just removed from the channel's request table.
func (t *Tracker) SessionDone(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs, ok := t.connMap[key]
	if !ok {
		t.errors[errNoConnForSession]++
		return false
	}

	if cs.currentSessions <= 0 {
		t.errors[errNegativeConcurrency]++
		return false

	}
	cs.currentSessions--

	return true
}
