/*
Package testdriver is a minimal reference AsyncDriver implementation used only by this module's own
tests - never by the library itself, which never assumes a concrete driver.

Unlike a real driver it doesn't poll any actual file descriptor or wall clock: tests fire read,
write, and timer callbacks explicitly, which keeps the state-machine tests deterministic.
*/
package testdriver

import (
	"errors"
	"sort"
	"sync"
	"time"
)

type registration struct {
	id  int
	fd  int
	cb  func()
	dur time.Duration
}

// Driver is a handle-tracking, manually-fired stand-in for a host's real event loop.
type Driver struct {
	mu     sync.Mutex
	nextID int

	reads     map[int]*registration
	writes    map[int]*registration
	timers    map[int]*registration
	periodics map[int]*registration
}

// New returns an empty Driver.
func New() *Driver {
	return &Driver{
		reads:     make(map[int]*registration),
		writes:    make(map[int]*registration),
		timers:    make(map[int]*registration),
		periodics: make(map[int]*registration),
	}
}

func (d *Driver) register(m map[int]*registration, fd int, cb func(), dur time.Duration) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	reg := &registration{id: d.nextID, fd: fd, cb: cb, dur: dur}
	m[reg.id] = reg

	return reg, nil
}

func (d *Driver) AddRead(fd int, cb func()) (interface{}, error) {
	return d.register(d.reads, fd, cb, 0)
}

func (d *Driver) DelRead(h interface{}) { d.del(d.reads, h) }

func (d *Driver) AddChannelWrite(fd int, cb func()) (interface{}, error) {
	return d.register(d.writes, fd, cb, 0)
}

func (d *Driver) AddRequestWrite(fd int, cb func()) (interface{}, error) {
	return d.register(d.writes, fd, cb, 0)
}

func (d *Driver) DelWrite(h interface{}) { d.del(d.writes, h) }

func (d *Driver) AddTimer(dur time.Duration, cb func()) (interface{}, error) {
	return d.register(d.timers, 0, cb, dur)
}

func (d *Driver) RepeatTimer(h interface{}) {
	// No virtual clock to re-arm against; tests fire timers explicitly via FireTimer.
}

func (d *Driver) DelTimer(h interface{}) { d.del(d.timers, h) }

func (d *Driver) AddPeriodic(dur time.Duration, cb func()) (interface{}, error) {
	return d.register(d.periodics, 0, cb, dur)
}

func (d *Driver) DelPeriodic(h interface{}) { d.del(d.periodics, h) }

func (d *Driver) del(m map[int]*registration, h interface{}) {
	reg, ok := h.(*registration)
	if !ok || reg == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(m, reg.id)
}

// FireRead invokes every read callback registered against fd.
func (d *Driver) FireRead(fd int) { d.fireByFD(d.reads, fd) }

// FireWrite invokes every write callback registered against fd.
func (d *Driver) FireWrite(fd int) { d.fireByFD(d.writes, fd) }

func (d *Driver) fireByFD(m map[int]*registration, fd int) {
	d.mu.Lock()
	var cbs []func()
	for _, reg := range m {
		if reg.fd == fd {
			cbs = append(cbs, reg.cb)
		}
	}
	d.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

// FireAllTimers invokes and removes every currently-registered timer, in registration order. Tests
// use it to simulate a timeout firing.
func (d *Driver) FireAllTimers() error {
	d.mu.Lock()
	if len(d.timers) == 0 {
		d.mu.Unlock()
		return errors.New("testdriver: no timers registered")
	}
	regs := make([]*registration, 0, len(d.timers))
	for _, reg := range d.timers {
		regs = append(regs, reg)
	}
	d.timers = make(map[int]*registration)
	d.mu.Unlock()
	sort.Slice(regs, func(i, j int) bool { return regs[i].id < regs[j].id })

	for _, reg := range regs {
		reg.cb()
	}

	return nil
}

// FireAllPeriodics invokes every registered periodic callback once, without removing it.
func (d *Driver) FireAllPeriodics() {
	d.mu.Lock()
	cbs := make([]func(), 0, len(d.periodics))
	for _, reg := range d.periodics {
		cbs = append(cbs, reg.cb)
	}
	d.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

// TimerCount reports how many timers are currently armed, for assertions.
func (d *Driver) TimerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.timers)
}

// WriteCount reports how many write registrations are currently armed against fd.
func (d *Driver) WriteCount(fd int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, reg := range d.writes {
		if reg.fd == fd {
			n++
		}
	}

	return n
}
