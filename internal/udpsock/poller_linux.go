//go:build linux

package udpsock

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cyphal-go/udptransport/internal/cystatus"
)

// pollEventMask is the event set section 4.3 requires pollers to
// watch: POLLIN | POLLRDNORM | POLLRDBAND | POLLPRI. POLLERR, POLLHUP
// and POLLNVAL are always reported by the kernel regardless of the
// requested mask, which is how a closed or broken peer socket surfaces
// as "ready" per the same section.
const pollEventMask = unix.POLLIN | unix.POLLRDNORM | unix.POLLRDBAND | unix.POLLPRI

// pollPoller is the Linux readiness poller backend, built on unix.Poll
// (grounded on the raw-socket-option idiom gobfd's rawsock_linux.go
// uses for direct golang.org/x/sys/unix calls against a socket fd).
type pollPoller struct {
	sockets []*Socket
}

// NewPoller returns the platform-appropriate Poller implementation.
func NewPoller() Poller {
	return &pollPoller{}
}

func (p *pollPoller) Register(sock *Socket) cystatus.Status {
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

func (p *pollPoller) Unregister(sock *Socket) cystatus.Status {
	for i, s := range p.sockets {
		if s == sock {
			p.sockets = append(p.sockets[:i], p.sockets[i+1:]...)
			return cystatus.OK()
		}
	}
	return cystatus.OK()
}

func (p *pollPoller) Poll(timeout time.Duration) ([]*Socket, cystatus.Status) {
	if len(p.sockets) == 0 {
		time.Sleep(timeout)
		return nil, cystatus.New(cystatus.Timeout, cystatus.LayerTransport)
	}

	fds := make([]unix.PollFd, len(p.sockets))
	for i, s := range p.sockets {
		fds[i] = unix.PollFd{Fd: int32(s.FD()), Events: pollEventMask} //nolint:gosec // G115: fd fits int32
	}

	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, cystatus.New(cystatus.Timeout, cystatus.LayerTransport)
		}
		return nil, sendStatus(err)
	}
	if n == 0 {
		return nil, cystatus.New(cystatus.Timeout, cystatus.LayerTransport)
	}

	ready := make([]*Socket, 0, n)
	for i, fd := range fds {
		if fd.Revents != 0 {
			ready = append(ready, p.sockets[i])
		}
	}

	return ready, cystatus.OK()
}
