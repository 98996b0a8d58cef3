package rdns

import "time"

// Handle is an opaque registration token returned by an AsyncDriver Add* call and passed back to
// the matching Del* call. Its concrete type is private to the driver implementation.
type Handle = interface{}

// AsyncDriver is the host event loop collaborator. A Resolver never blocks and never runs its own
// loop; every wait is expressed as a registration against this interface, and the host is
// responsible for calling the supplied callback when the corresponding event fires.
//
// This mirrors the add_read/add_write/add_timer/add_periodic vtable of the design this library is
// modelled on, with one deliberate difference: rather than registering a single write callback and
// having the library sniff a tag out of its argument to tell a Channel from a Request apart (the
// "tag-discriminated write callback" wart), callers get two distinct registration methods and the
// callback itself carries everything it needs via closure. There is no dispatch-by-argument step
// for the host to get wrong.
type AsyncDriver interface {
	// AddRead registers cb to run whenever fd is readable. Only ever called for a Channel's
	// socket.
	AddRead(fd int, cb func()) (Handle, error)
	DelRead(h Handle)

	// AddChannelWrite registers cb to run when fd becomes writable, for a Channel awaiting
	// connect-completion or TCP write-queue drain.
	AddChannelWrite(fd int, cb func()) (Handle, error)

	// AddRequestWrite registers cb to run when fd becomes writable, for a single UDP Request
	// retrying a send that previously returned EAGAIN.
	AddRequestWrite(fd int, cb func()) (Handle, error)
	DelWrite(h Handle)

	// AddTimer registers cb to fire once after d. RepeatTimer re-arms an existing handle for
	// another d without requiring the caller to remember the original duration.
	AddTimer(d time.Duration, cb func()) (Handle, error)
	RepeatTimer(h Handle)
	DelTimer(h Handle)

	// AddPeriodic registers cb to fire every d until DelPeriodic is called, driving the
	// Resolver's maintenance sweep (channel recycling, idle TCP channel reset).
	AddPeriodic(d time.Duration, cb func()) (Handle, error)
	DelPeriodic(h Handle)
}
