package udpsock_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/cyphal-go/udptransport/internal/cystatus"
	"github.com/cyphal-go/udptransport/internal/udpsock"
)

var loopback = netip.MustParseAddr("127.0.0.1")

func TestOutputInputSocketRoundTrip(t *testing.T) {
	group := netip.MustParseAddr("239.10.0.1")
	const port = 34210

	in, st := udpsock.NewInputSocket(loopback, group, port)
	require.True(t, st.OK(), st)
	defer in.Close()

	out, st := udpsock.NewOutputSocket(loopback, netip.AddrPortFrom(group, port))
	require.True(t, st.OK(), st)
	defer out.Close()

	require.True(t, out.Send([]byte("hello")).OK())

	deadline := time.Now().Add(time.Second)
	buf := make([]byte, 64)
	for time.Now().Before(deadline) {
		n, _, st := in.ReceiveFrom(buf)
		if st.OK() {
			require.Equal(t, "hello", string(buf[:n]))
			return
		}
		require.Equal(t, cystatus.Timeout, st.Kind)
		time.Sleep(time.Millisecond)
	}
	t.Fatal("datagram never arrived")
}

// TestNewInputSocketBindFailureSurfacesAddressError exercises
// section 8.4 scenario 6: binding against a local address no interface
// on this host owns must surface AddressError with EADDRNOTAVAIL.
func TestNewInputSocketBindFailureSurfacesAddressError(t *testing.T) {
	group := netip.MustParseAddr("239.10.0.3")
	missing := netip.MustParseAddr("203.0.113.255") // TEST-NET-3, never locally assigned

	_, st := udpsock.NewInputSocket(missing, group, 34212)
	require.False(t, st.OK())
	require.Equal(t, cystatus.AddressError, st.Kind)

	errno, ok := st.Errno()
	require.True(t, ok)
	require.EqualValues(t, unix.EADDRNOTAVAIL, errno)
}

func TestSocketCloseIsIdempotent(t *testing.T) {
	group := netip.MustParseAddr("239.10.0.2")
	out, st := udpsock.NewOutputSocket(loopback, netip.AddrPortFrom(group, 34211))
	require.True(t, st.OK(), st)

	require.True(t, out.Close().OK())

	st = out.Close()
	require.False(t, st.OK())
	require.Equal(t, cystatus.ResourceClosedError, st.Kind)

	st = out.Send([]byte("x"))
	require.False(t, st.OK())
	require.Equal(t, cystatus.ResourceClosedError, st.Kind)
}
