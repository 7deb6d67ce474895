//go:build !linux

package udpsock

import "net/netip"

// inputBindAddress returns the address an input socket should bind to.
// Outside Linux, section 4.2 calls for binding to the unspecified
// address with the same port instead of the multicast group address.
func inputBindAddress(_ netip.Addr, port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.IPv4Unspecified(), port)
}
