//go:build linux

package udpsock

import "net/netip"

// inputBindAddress returns the address an input socket should bind to.
// On Linux, section 4.2 requires binding to the multicast group
// address itself (not INADDR_ANY) so multiple subjects can share a
// host without stealing each other's traffic.
func inputBindAddress(group netip.Addr, port uint16) netip.AddrPort {
	return netip.AddrPortFrom(group, port)
}
