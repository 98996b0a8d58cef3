package main

import (
	"container/heap"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// epollDriver is the rdns.AsyncDriver this program binds to the resolver. The resolver never runs
// its own event loop, so this program supplies one, built straight from the same non-blocking-fd
// idiom io_udp.go/io_tcp.go use, with one epoll instance standing in for whatever loop a real daemon
// would already be running.
type epollDriver struct {
	epfd int

	reads      map[int]func()
	writes     map[int]func()
	registered map[int]bool // fds currently known to the epoll instance, any interest

	timers     timerHeap
	timersByID map[int]*timerEntry
	nextID     int
}

// fdHandle identifies one side of one fd's registration; which side is implicit in whether it was
// returned by AddRead or by AddChannelWrite/AddRequestWrite, so DelRead/DelWrite never need to ask.
type fdHandle struct {
	fd int
}

type timerHandle struct {
	id int
}

type timerEntry struct {
	id       int
	deadline time.Time
	period   time.Duration // original duration; reused by RepeatTimer and by periodic re-arm
	periodic bool
	cb       func()
	index    int // position in the heap, or -1 once popped
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]

	return e
}

func newEpollDriver() (*epollDriver, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("rdns-dig: epoll_create1: %w", err)
	}

	return &epollDriver{
		epfd:       epfd,
		reads:      make(map[int]func()),
		writes:     make(map[int]func()),
		registered: make(map[int]bool),
		timersByID: make(map[int]*timerEntry),
	}, nil
}

func (d *epollDriver) close() {
	unix.Close(d.epfd)
}

// ctl (re)installs fd's epoll interest set from the current reads/writes maps, adding, modifying or
// deleting the epoll registration as needed.
func (d *epollDriver) ctl(fd int) error {
	var events uint32
	if _, ok := d.reads[fd]; ok {
		events |= unix.EPOLLIN
	}
	if _, ok := d.writes[fd]; ok {
		events |= unix.EPOLLOUT
	}

	if events == 0 {
		if d.registered[fd] {
			delete(d.registered, fd)
			return unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		}
		return nil
	}

	ev := &unix.EpollEvent{Events: events, Fd: int32(fd)}
	op := unix.EPOLL_CTL_MOD
	if !d.registered[fd] {
		op = unix.EPOLL_CTL_ADD
		d.registered[fd] = true
	}

	return unix.EpollCtl(d.epfd, op, fd, ev)
}

func (d *epollDriver) AddRead(fd int, cb func()) (interface{}, error) {
	d.reads[fd] = cb
	if err := d.ctl(fd); err != nil {
		delete(d.reads, fd)
		return nil, err
	}

	return fdHandle{fd: fd}, nil
}

func (d *epollDriver) DelRead(h interface{}) {
	fh, ok := h.(fdHandle)
	if !ok {
		return
	}
	delete(d.reads, fh.fd)
	d.ctl(fh.fd)
}

func (d *epollDriver) AddChannelWrite(fd int, cb func()) (interface{}, error) {
	return d.addWrite(fd, cb)
}

func (d *epollDriver) AddRequestWrite(fd int, cb func()) (interface{}, error) {
	return d.addWrite(fd, cb)
}

func (d *epollDriver) addWrite(fd int, cb func()) (interface{}, error) {
	d.writes[fd] = cb
	if err := d.ctl(fd); err != nil {
		delete(d.writes, fd)
		return nil, err
	}

	return fdHandle{fd: fd}, nil
}

func (d *epollDriver) DelWrite(h interface{}) {
	fh, ok := h.(fdHandle)
	if !ok {
		return
	}
	delete(d.writes, fh.fd)
	d.ctl(fh.fd)
}

func (d *epollDriver) AddTimer(dur time.Duration, cb func()) (interface{}, error) {
	d.nextID++
	e := &timerEntry{id: d.nextID, deadline: time.Now().Add(dur), period: dur, cb: cb}
	heap.Push(&d.timers, e)
	d.timersByID[e.id] = e

	return timerHandle{id: e.id}, nil
}

func (d *epollDriver) RepeatTimer(h interface{}) {
	th, ok := h.(timerHandle)
	if !ok {
		return
	}
	e, ok := d.timersByID[th.id]
	if !ok {
		return
	}
	e.deadline = time.Now().Add(e.period)
	if e.index >= 0 {
		heap.Fix(&d.timers, e.index)
	} else {
		heap.Push(&d.timers, e)
	}
}

func (d *epollDriver) DelTimer(h interface{}) {
	d.delTimer(h)
}

func (d *epollDriver) AddPeriodic(dur time.Duration, cb func()) (interface{}, error) {
	d.nextID++
	e := &timerEntry{id: d.nextID, deadline: time.Now().Add(dur), period: dur, periodic: true, cb: cb}
	heap.Push(&d.timers, e)
	d.timersByID[e.id] = e

	return timerHandle{id: e.id}, nil
}

func (d *epollDriver) DelPeriodic(h interface{}) {
	d.delTimer(h)
}

func (d *epollDriver) delTimer(h interface{}) {
	th, ok := h.(timerHandle)
	if !ok {
		return
	}
	e, ok := d.timersByID[th.id]
	if !ok {
		return
	}
	if e.index >= 0 {
		heap.Remove(&d.timers, e.index)
	}
	delete(d.timersByID, th.id)
}

// nextTimeoutMillis returns the epoll_wait timeout that gets the loop to the next due timer, -1
// (block indefinitely) if none are pending.
func (d *epollDriver) nextTimeoutMillis(now time.Time) int {
	if len(d.timers) == 0 {
		return -1
	}
	until := d.timers[0].deadline.Sub(now)
	if until <= 0 {
		return 0
	}
	ms := until.Milliseconds()
	if ms == 0 {
		ms = 1 // round a sub-millisecond wait up so EpollWait doesn't spin
	}

	return int(ms)
}

// fireDueTimers invokes and, for periodics, re-arms every timer whose deadline has passed.
func (d *epollDriver) fireDueTimers(now time.Time) {
	for len(d.timers) > 0 && !d.timers[0].deadline.After(now) {
		e := heap.Pop(&d.timers).(*timerEntry)
		if e.periodic {
			e.deadline = now.Add(e.period)
			heap.Push(&d.timers, e)
		} else {
			delete(d.timersByID, e.id)
		}
		e.cb()
	}
}

// run is the event loop: it blocks in epoll_wait until an fd is ready or a timer is due, dispatches
// every ready callback, then loops again. It returns when stop is closed.
func (d *epollDriver) run(stop <-chan struct{}) error {
	events := make([]unix.EpollEvent, 32)

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		timeout := d.nextTimeoutMillis(time.Now())
		n, err := unix.EpollWait(d.epfd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("rdns-dig: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if events[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				if cb, ok := d.reads[fd]; ok {
					cb()
				}
			}
			if events[i].Events&unix.EPOLLOUT != 0 {
				if cb, ok := d.writes[fd]; ok {
					cb()
				}
			}
		}

		d.fireDueTimers(time.Now())
	}
}
