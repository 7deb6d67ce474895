package udpsock

import (
	"time"

	"github.com/cyphal-go/udptransport/internal/cystatus"
)

// MaxPollerSockets is the hard cap on sockets one Poller can watch at
// once (section 4.3), equal to the largest Cyphal redundancy group of
// three interfaces.
const MaxPollerSockets = 3

// Poller is the readiness-polling abstraction the transport
// coordinator's single-threaded event loop drives (section 4.3).
// Poll may return sockets that are not actually readable (a superset
// is always acceptable); callers must tolerate spurious wakeups by
// attempting a non-blocking read and treating Timeout as "no data".
type Poller interface {
	// Register adds sock to the watch set. It returns MemoryError if
	// the poller is already watching MaxPollerSockets sockets.
	Register(sock *Socket) cystatus.Status
	// Unregister removes sock from the watch set. It is a no-op,
	// returning Success, if sock was not registered.
	Unregister(sock *Socket) cystatus.Status
	// Poll blocks for up to timeout waiting for any registered socket
	// to become readable, returning the (possibly superset) list of
	// sockets that might have data. A timeout with no ready sockets
	// returns (nil, Timeout status).
	Poll(timeout time.Duration) ([]*Socket, cystatus.Status)
}
