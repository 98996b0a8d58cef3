/*
Package rdns is an asynchronous stub DNS resolver client library.

Given one or more upstream recursive DNS servers, a Resolver issues DNS
queries, retransmits them on timeout, parses replies, falls back from UDP to
TCP on truncation, and delivers results to caller-supplied callbacks. The
library is embeddable into a host program's own event loop: it registers
read, write, timer and periodic callbacks via the AsyncDriver interface and
never blocks or owns a loop of its own.

Wire encoding/decoding, DNS-over-TLS, structured logging, metrics and
upstream health policy are all external collaborators referenced through
small interfaces (Plugin, Logger, AsyncDriver, bestserver.Manager) rather
than implemented in this package, so a host can swap any of them out.

A minimal embedding looks like:

	r := rdns.New()
	r.BindAsync(myDriver)
	r.AddServer("192.0.2.53", 53, 0, 2, 1)
	if err := r.Init(); err != nil {
		log.Fatal(err)
	}
	r.MakeRequest(rdns.NewQuery("example.com", dns.TypeA), time.Second, 3,
		func(req *rdns.Request, reply *rdns.Reply, err error) {
			...
		}, nil)
*/
package rdns
