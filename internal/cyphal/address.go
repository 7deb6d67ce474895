// Package cyphal implements the Cyphal/UDP v1 wire format and addressing
// scheme: frame header encoding, fragmentation and reassembly, the
// per-interface transmit queue, and the arena allocators the rest of the
// transport draws buffers from.
package cyphal

import (
	"errors"
	"net/netip"
	"strconv"
	"strings"
)

// Port is the single fixed UDP port used for all Cyphal/UDP traffic
// (section 3.2).
const Port uint16 = 9382

// AnonymousNodeID is the sentinel value meaning "no node-ID assigned".
const AnonymousNodeID uint16 = 0xFFFF

// MaxSubjectID is the largest valid subject-ID (13 bits wide).
const MaxSubjectID uint16 = 1<<13 - 1

// MaxServiceID is the largest valid service-ID (9 bits wide).
const MaxServiceID uint16 = 1<<9 - 1

// messageMulticastBase and serviceMulticastBase are the fixed high bits
// of the 239.0.0.0/10 Cyphal/UDP multicast block (section 3.2):
// bit 24 (the "v0" bit) must be zero, bit 16 distinguishes message
// traffic (0xEF00_0000) from service traffic (0xEF01_0000).
const (
	messageMulticastBase uint32 = 0xEF000000
	serviceMulticastBase uint32 = 0xEF010000
)

// ErrInvalidSubjectID indicates a subject-ID wider than 13 bits.
var ErrInvalidSubjectID = errors.New("subject-id out of range")

// ErrInvalidServiceID indicates a service-ID wider than 9 bits.
var ErrInvalidServiceID = errors.New("service-id out of range")

// MulticastGroupForMessage computes the destination multicast address
// for a message published on subjectID (section 4.1).
func MulticastGroupForMessage(subjectID uint16) (netip.Addr, error) {
	if subjectID > MaxSubjectID {
		return netip.Addr{}, ErrInvalidSubjectID
	}
	return addrFromUint32(messageMulticastBase | uint32(subjectID)), nil
}

// MulticastGroupForService computes the destination multicast address
// for a service transfer addressed to destNodeID (section 4.1).
// Unlike messages, the full 16-bit node-ID occupies the low bits.
func MulticastGroupForService(destNodeID uint16) netip.Addr {
	return addrFromUint32(serviceMulticastBase | uint32(destNodeID))
}

// Endpoint pairs a multicast group with the fixed Cyphal/UDP port.
func Endpoint(group netip.Addr) netip.AddrPort {
	return netip.AddrPortFrom(group, Port)
}

// ValidateSubjectID returns ErrInvalidSubjectID if subjectID exceeds the
// 13-bit range.
func ValidateSubjectID(subjectID uint16) error {
	if subjectID > MaxSubjectID {
		return ErrInvalidSubjectID
	}
	return nil
}

// ValidateServiceID returns ErrInvalidServiceID if serviceID exceeds the
// 9-bit range.
func ValidateServiceID(serviceID uint16) error {
	if serviceID > MaxServiceID {
		return ErrInvalidServiceID
	}
	return nil
}

// addrFromUint32 builds a netip.Addr from a host-order 32-bit IPv4
// value, most significant octet first.
func addrFromUint32(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{
		byte(v >> 24),
		byte(v >> 16),
		byte(v >> 8),
		byte(v),
	})
}

// AddressFromString parses a dotted-decimal IPv4 address with the
// lenient rules section 4.1 requires: missing trailing
// octets default to zero; a leading minus sign on an octet yields 255;
// a malformed or out-of-range octet saturates to 255. This is
// deliberately more permissive than net/netip's strict parser, which
// the rest of the codebase uses for every address it does not need to
// parse leniently.
func AddressFromString(s string) netip.Addr {
	parts := strings.Split(s, ".")

	var octets [4]byte
	for i := range octets {
		if i < len(parts) {
			octets[i] = parseOctet(parts[i])
		}
		// Missing trailing octets default to zero (the zero value).
	}

	return netip.AddrFrom4(octets)
}

// parseOctet converts one dotted-decimal component to a saturating
// byte: negative values and parse failures saturate to 255, as do
// values above 255.
func parseOctet(s string) byte {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return 255
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 255
	}
	if n > 255 {
		return 255
	}
	if n < 0 {
		return 255
	}

	return byte(n)
}

// IsValid reports whether addr is neither the unspecified address
// (0.0.0.0) nor the limited broadcast address (255.255.255.255)
// (section 3.2).
func IsValid(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}
	a4 := addr.As4()
	if a4 == [4]byte{0, 0, 0, 0} {
		return false
	}
	if a4 == [4]byte{255, 255, 255, 255} {
		return false
	}
	return true
}

// IsLoopbackAddress reports whether addr's first octet is 127
// (section 3.2: "local" iff first octet is 127).
func IsLoopbackAddress(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}
	return addr.As4()[0] == 127
}

// IsMulticastAddress reports whether addr's first octet's top nibble is
// 0xE (section 3.2: "multicast" iff first octet's top nibble is
// 0xE).
func IsMulticastAddress(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}
	return addr.As4()[0]&0xF0 == 0xE0
}
