// Package udpsock implements the datagram socket primitives and
// readiness poller the transport coordinator drives its single-threaded
// event loop through (sections 4.2, 4.3).
package udpsock

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/cyphal-go/udptransport/internal/cystatus"
)

// MulticastTTL is the IP TTL Cyphal/UDP requires on every outgoing
// datagram (section 4.2, Cyphal section 4.3.2.2).
const MulticastTTL = 16

// Socket wraps a UDP datagram socket with the bind/connect/send/
// receive-from/multicast-membership/close contract section 4.2
// requires, plus the raw file descriptor the readiness poller needs.
type Socket struct {
	conn      *net.UDPConn
	localAddr netip.AddrPort
	fd        int

	mu     sync.Mutex
	closed bool
}

// errNoFD indicates the Control callback never ran, which would mean
// the standard library changed its ListenConfig contract.
var errNoFD = errors.New("socket: could not obtain file descriptor")

// NewOutputSocket opens a UDP socket bound to an ephemeral port on
// localIface and connected to dst (section 4.2: output sockets
// "MUST be bound to an ephemeral port on the chosen local interface and
// MUST set the multicast-egress-interface option to that same local
// interface"). The multicast TTL is set to MulticastTTL.
func NewOutputSocket(localIface netip.Addr, dst netip.AddrPort) (*Socket, cystatus.Status) {
	s, st := bind(netip.AddrPortFrom(localIface, 0), false)
	if !st.OK() {
		return nil, st
	}

	ifi, err := interfaceForAddr(localIface)
	if err != nil {
		_ = s.conn.Close()
		return nil, interfaceLookupStatus(err)
	}

	pc := ipv4.NewPacketConn(s.conn)
	if err := pc.SetMulticastInterface(ifi); err != nil {
		_ = s.conn.Close()
		return nil, connectStatus(err)
	}
	if err := pc.SetMulticastTTL(MulticastTTL); err != nil {
		_ = s.conn.Close()
		return nil, connectStatus(err)
	}

	if err := s.connectRaw(dst); err != nil {
		_ = s.conn.Close()
		return nil, connectStatus(err)
	}

	return s, cystatus.OK()
}

// NewInputSocket opens a UDP socket for receiving multicast traffic
// addressed to group on port, joining the multicast group on
// localIface (section 4.2: "the joining interface is the
// socket's local address... INADDR_ANY is explicitly not permitted").
// On Linux the socket binds to the multicast group address itself and
// sets SO_REUSEADDR/SO_REUSEPORT before binding so multiple Cyphal
// nodes can coexist on one host; other platforms bind to the
// unspecified address with the same port instead (section 4.2).
func NewInputSocket(localIface, group netip.Addr, port uint16) (*Socket, cystatus.Status) {
	bindAddr := inputBindAddress(group, port)

	s, st := bind(bindAddr, true)
	if !st.OK() {
		return nil, st
	}

	ifi, err := interfaceForAddr(localIface)
	if err != nil {
		_ = s.conn.Close()
		return nil, interfaceLookupStatus(err)
	}

	pc := ipv4.NewPacketConn(s.conn)
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group.AsSlice()}); err != nil {
		_ = s.conn.Close()
		return nil, connectStatus(err)
	}

	return s, cystatus.OK()
}

// bind opens a UDP socket on addr. When reuse is true, SO_REUSEADDR and
// SO_REUSEPORT are set before binding (input sockets only, section 4.2).
func bind(addr netip.AddrPort, reuse bool) (*Socket, cystatus.Status) {
	lc := net.ListenConfig{}
	if reuse {
		lc.Control = func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = setReuseOpts(int(fd)) //nolint:gosec // G115: fd is a small positive kernel descriptor
			})
			if err != nil {
				return err
			}
			return sockErr
		}
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", addr.String())
	if err != nil {
		return nil, bindStatus(err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, cystatus.New(cystatus.NetworkSystemError, cystatus.LayerNetwork)
	}

	s := &Socket{conn: conn, localAddr: addr}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		_ = conn.Close()
		return nil, bindStatus(err)
	}

	var fd int
	if ctlErr := rawConn.Control(func(p uintptr) { fd = int(p) }); ctlErr != nil { //nolint:gosec // G115
		_ = conn.Close()
		return nil, bindStatus(ctlErr)
	}
	if fd == 0 {
		_ = conn.Close()
		return nil, bindStatus(errNoFD)
	}
	s.fd = fd

	return s, cystatus.OK()
}

// setReuseOpts sets SO_REUSEADDR and SO_REUSEPORT on fd (section
// 4.2: "Input sockets on Linux MUST set SO_REUSEADDR and SO_REUSEPORT
// before binding").
func setReuseOpts(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// connectRaw performs a connect(2) on the already-bound socket so that
// Send can use an unaddressed write, matching section 4.2's
// separate bind/connect steps.
func (s *Socket) connectRaw(dst netip.AddrPort) error {
	rawConn, err := s.conn.SyscallConn()
	if err != nil {
		return err
	}

	sa := &unix.SockaddrInet4{Port: int(dst.Port())}
	sa.Addr = dst.Addr().As4()

	var connErr error
	ctlErr := rawConn.Control(func(fd uintptr) {
		connErr = unix.Connect(int(fd), sa) //nolint:gosec // G115
	})
	if ctlErr != nil {
		return ctlErr
	}
	return connErr
}

// Send writes b to the connected peer. Non-blocking: a full kernel
// send buffer surfaces as NetworkSystemError rather than blocking the
// caller (section 4.2).
func (s *Socket) Send(b []byte) cystatus.Status {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return cystatus.New(cystatus.ResourceClosedError, cystatus.LayerTransport)
	}
	s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return connectStatus(err)
	}

	if _, err := s.conn.Write(b); err != nil {
		return sendStatus(err)
	}

	return cystatus.OK()
}

// ReceiveFrom reads one datagram into buf without blocking. A status
// of Timeout means no datagram was available (the non-blocking
// EAGAIN/EWOULDBLOCK case); callers drain a readable socket by looping
// until they see it.
func (s *Socket) ReceiveFrom(buf []byte) (int, netip.Addr, cystatus.Status) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, netip.Addr{}, cystatus.New(cystatus.ResourceClosedError, cystatus.LayerTransport)
	}
	s.mu.Unlock()

	if err := s.conn.SetReadDeadline(time.Now()); err != nil {
		return 0, netip.Addr{}, connectStatus(err)
	}

	n, addrPort, err := s.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, netip.Addr{}, cystatus.New(cystatus.Timeout, cystatus.LayerTransport)
		}
		return 0, netip.Addr{}, sendStatus(err)
	}

	return n, addrPort.Addr(), cystatus.OK()
}

// AddMulticastMembership joins group on this socket's bound interface.
func (s *Socket) AddMulticastMembership(localIface, group netip.Addr) cystatus.Status {
	ifi, err := interfaceForAddr(localIface)
	if err != nil {
		return connectStatus(err)
	}

	pc := ipv4.NewPacketConn(s.conn)
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group.AsSlice()}); err != nil {
		return connectStatus(err)
	}

	return cystatus.OK()
}

// RemoveMulticastMembership leaves group on this socket's bound
// interface.
func (s *Socket) RemoveMulticastMembership(localIface, group netip.Addr) cystatus.Status {
	ifi, err := interfaceForAddr(localIface)
	if err != nil {
		return connectStatus(err)
	}

	pc := ipv4.NewPacketConn(s.conn)
	if err := pc.LeaveGroup(ifi, &net.UDPAddr{IP: group.AsSlice()}); err != nil {
		return connectStatus(err)
	}

	return cystatus.OK()
}

// Close closes the socket. It is idempotent: the first call closes the
// underlying conn and reports Success; later calls report
// ResourceClosedError without touching the conn again (section
// 4.2).
func (s *Socket) Close() cystatus.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cystatus.New(cystatus.ResourceClosedError, cystatus.LayerTransport)
	}
	s.closed = true

	_ = s.conn.Close()

	return cystatus.OK()
}

// LocalAddr returns the address and port this socket is bound to.
func (s *Socket) LocalAddr() netip.AddrPort {
	return s.localAddr
}

// FD returns the raw file descriptor, for registration with a Poller.
func (s *Socket) FD() int {
	return s.fd
}

// bindStatus maps a bind-time error to the section 4.2 taxonomy:
// AddressError on EADDRNOTAVAIL/EADDRINUSE, NetworkSystemError
// otherwise.
func bindStatus(err error) cystatus.Status {
	if errno, ok := errnoOf(err); ok {
		if errno == unix.EADDRNOTAVAIL || errno == unix.EADDRINUSE {
			return cystatus.WithErrno(cystatus.AddressError, int(errno))
		}
		return cystatus.WithErrno(cystatus.NetworkSystemError, int(errno))
	}
	return cystatus.New(cystatus.NetworkSystemError, cystatus.LayerNetwork)
}

// connectStatus maps a connect-time error to the section 4.2
// taxonomy: AddressError on EADDRNOTAVAIL/EAFNOSUPPORT,
// ConnectionError with errno otherwise.
func connectStatus(err error) cystatus.Status {
	if errno, ok := errnoOf(err); ok {
		if errno == unix.EADDRNOTAVAIL || errno == unix.EAFNOSUPPORT {
			return cystatus.WithErrno(cystatus.AddressError, int(errno))
		}
		return cystatus.WithErrno(cystatus.ConnectionError, int(errno))
	}
	return cystatus.New(cystatus.ConnectionError, cystatus.LayerNetwork)
}

// sendStatus maps a send/receive-time error to NetworkSystemError,
// carrying errno when one is available.
func sendStatus(err error) cystatus.Status {
	if errno, ok := errnoOf(err); ok {
		return cystatus.WithErrno(cystatus.NetworkSystemError, int(errno))
	}
	return cystatus.New(cystatus.NetworkSystemError, cystatus.LayerNetwork)
}

// errnoOf extracts the underlying syscall.Errno from a (possibly
// wrapped) net error, if one is present.
func errnoOf(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}

// interfaceForAddr finds the local network interface that owns addr.
// Section 4.2 requires an explicit egress/membership interface rather
// than INADDR_ANY, so every multicast operation resolves one.
func interfaceForAddr(addr netip.Addr) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip, ok := netip.AddrFromSlice(ipNet.IP)
			if !ok {
				continue
			}
			if ip.Unmap() == addr {
				return &ifaces[i], nil
			}
		}
	}

	return nil, errInterfaceNotFound
}

var errInterfaceNotFound = errors.New("no local interface owns the requested address")

// interfaceLookupStatus maps interfaceForAddr's failure to the
// section 4.2/8.3 status taxonomy: a configured local address that no
// interface on this host owns is an AddressError carrying
// EADDRNOTAVAIL, matching the errno a bind(2) call would have reported
// had the socket been bound to that address directly.
func interfaceLookupStatus(err error) cystatus.Status {
	if errors.Is(err, errInterfaceNotFound) {
		return cystatus.WithErrno(cystatus.AddressError, int(unix.EADDRNOTAVAIL))
	}
	return connectStatus(err)
}
