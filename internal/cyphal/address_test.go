package cyphal_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyphal-go/udptransport/internal/cyphal"
)

func TestMulticastGroupForMessage(t *testing.T) {
	addr, err := cyphal.MulticastGroupForMessage(7509)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("239.0.29.85"), addr)
}

func TestMulticastGroupForMessageRejectsOutOfRange(t *testing.T) {
	_, err := cyphal.MulticastGroupForMessage(cyphal.MaxSubjectID + 1)
	require.ErrorIs(t, err, cyphal.ErrInvalidSubjectID)
}

func TestMulticastGroupForService(t *testing.T) {
	addr := cyphal.MulticastGroupForService(11)
	require.Equal(t, netip.MustParseAddr("239.1.0.11"), addr)
}

func TestAddressFromStringRoundTrip(t *testing.T) {
	for _, s := range []string{"127.0.0.1", "239.0.29.85", "10.0.0.1"} {
		want := netip.MustParseAddr(s)
		got := cyphal.AddressFromString(want.String())
		require.Equal(t, want, got)
	}
}

func TestAddressFromStringLenientRules(t *testing.T) {
	tests := []struct {
		in   string
		want netip.Addr
	}{
		{"10.0.1", netip.AddrFrom4([4]byte{10, 0, 1, 0})},        // missing trailing octet
		{"10.0.0.-1", netip.AddrFrom4([4]byte{10, 0, 0, 255})},   // negative saturates
		{"10.0.0.999", netip.AddrFrom4([4]byte{10, 0, 0, 255})},  // overflow saturates
		{"10.x.0.1", netip.AddrFrom4([4]byte{10, 255, 0, 1})},    // malformed saturates
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, cyphal.AddressFromString(tt.in), tt.in)
	}
}

func TestIsValid(t *testing.T) {
	require.False(t, cyphal.IsValid(netip.MustParseAddr("0.0.0.0")))
	require.False(t, cyphal.IsValid(netip.MustParseAddr("255.255.255.255")))
	require.True(t, cyphal.IsValid(netip.MustParseAddr("127.0.0.1")))
}

func TestIsLoopbackAndMulticast(t *testing.T) {
	require.True(t, cyphal.IsLoopbackAddress(netip.MustParseAddr("127.0.0.1")))
	require.False(t, cyphal.IsLoopbackAddress(netip.MustParseAddr("10.0.0.1")))
	require.True(t, cyphal.IsMulticastAddress(netip.MustParseAddr("239.0.0.1")))
	require.False(t, cyphal.IsMulticastAddress(netip.MustParseAddr("10.0.0.1")))
}
