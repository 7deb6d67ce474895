//go:build !linux

package udpsock

import (
	"time"

	"github.com/cyphal-go/udptransport/internal/cystatus"
)

// netPoller is the portable Poller fallback for platforms without a
// poll(2)-style syscall wired up (section 4.3 explicitly allows a
// poller to report a superset of truly-ready sockets, which this
// backend leans on fully: it sleeps for timeout and then reports every
// registered socket as potentially ready, letting each non-blocking
// ReceiveFrom sort out whether data was actually present).
type netPoller struct {
	sockets []*Socket
}

// NewPoller returns the platform-appropriate Poller implementation.
func NewPoller() Poller {
	return &netPoller{}
}

func (p *netPoller) Register(sock *Socket) cystatus.Status {
	if len(p.sockets) >= MaxPollerSockets {
		return cystatus.New(cystatus.MemoryError, cystatus.LayerTransport)
	}
	for _, s := range p.sockets {
		if s == sock {
			return cystatus.OK()
		}
	}
	p.sockets = append(p.sockets, sock)
	return cystatus.OK()
}

func (p *netPoller) Unregister(sock *Socket) cystatus.Status {
	for i, s := range p.sockets {
		if s == sock {
			p.sockets = append(p.sockets[:i], p.sockets[i+1:]...)
			return cystatus.OK()
		}
	}
	return cystatus.OK()
}

func (p *netPoller) Poll(timeout time.Duration) ([]*Socket, cystatus.Status) {
	if len(p.sockets) == 0 {
		time.Sleep(timeout)
		return nil, cystatus.New(cystatus.Timeout, cystatus.LayerTransport)
	}

	time.Sleep(timeout)

	ready := make([]*Socket, len(p.sockets))
	copy(ready, p.sockets)
	return ready, cystatus.OK()
}
