package udpsock_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cyphal-go/udptransport/internal/cystatus"
	"github.com/cyphal-go/udptransport/internal/udpsock"
)

func TestPollerRegisterCapacity(t *testing.T) {
	p := udpsock.NewPoller()

	sockets := make([]*udpsock.Socket, 0, udpsock.MaxPollerSockets)
	for i := range udpsock.MaxPollerSockets {
		group := netip.MustParseAddr("239.11.0.1")
		s, st := udpsock.NewInputSocket(loopback, group, uint16(35000+i)) //nolint:gosec // test port range
		require.True(t, st.OK(), st)
		defer s.Close()
		sockets = append(sockets, s)
		require.True(t, p.Register(s).OK())
	}

	overflow, st := udpsock.NewInputSocket(loopback, netip.MustParseAddr("239.11.0.1"), 35099)
	require.True(t, st.OK(), st)
	defer overflow.Close()

	st = p.Register(overflow)
	require.False(t, st.OK())
	require.Equal(t, cystatus.MemoryError, st.Kind)
}

func TestPollerObservesReadability(t *testing.T) {
	group := netip.MustParseAddr("239.11.0.2")
	const port = 35200

	in, st := udpsock.NewInputSocket(loopback, group, port)
	require.True(t, st.OK(), st)
	defer in.Close()

	out, st := udpsock.NewOutputSocket(loopback, netip.AddrPortFrom(group, port))
	require.True(t, st.OK(), st)
	defer out.Close()

	p := udpsock.NewPoller()
	require.True(t, p.Register(in).OK())

	require.True(t, out.Send([]byte("ping")).OK())

	ready, st := p.Poll(time.Second)
	require.True(t, st.OK())
	require.Contains(t, ready, in)
}
