package rdns

import (
	"time"

	"github.com/markdingo/rdns/internal/bestserver"
)

// selectServer picks the upstream for a send or retransmit. If a selector plugin (an
// internal/bestserver.Manager) is installed, its Best() choice is used and, for retransmits, fed
// back via Result(prevServer, false, ...) first so the manager can rotate away from a server that
// just failed - exactly what its traditional and latency algorithms already do internally. With no
// selector installed, Init builds a default traditional manager (plain round-robin with
// fail-forward) so the same code path always runs; there is no separate hand-rolled round-robin.
func (r *Resolver) selectServer(isRetransmit bool, prevServer bestserver.Server) (*Server, bestserver.Server, error) {
	if r.upstreamLib == nil {
		return nil, nil, errServFail("no upstream selector installed")
	}

	if isRetransmit && prevServer != nil {
		r.upstreamLib.Result(prevServer, false, time.Now(), 0)
	}

	elt, _ := r.upstreamLib.Best()
	srv, ok := elt.(*Server)
	if !ok || srv == nil {
		return nil, nil, errServFail("selector returned no usable server")
	}

	return srv, elt, nil
}

// reportOutcome feeds a send/reply outcome back to the installed selector so future Best() calls
// reflect it.
func (r *Resolver) reportOutcome(elt bestserver.Server, success bool, latency time.Duration) {
	if r.upstreamLib == nil || elt == nil {
		return
	}
	r.upstreamLib.Result(elt, success, time.Now(), latency)
}
