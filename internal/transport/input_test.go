package transport_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cyphal-go/udptransport/internal/cyphal"
	"github.com/cyphal-go/udptransport/internal/cystatus"
	"github.com/cyphal-go/udptransport/internal/transport"
	"github.com/cyphal-go/udptransport/internal/udpsock"
)

func TestInputSessionDeliversPublishedTransfer(t *testing.T) {
	group := netip.MustParseAddr("239.21.0.1")
	const port = 35320

	poller := udpsock.NewPoller()
	arena := cyphal.NewPoolArena(1500, 0)

	inSpec := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.Message, ID: 9}}
	in, st := transport.NewInputSession(inSpec, arena, group, port, []netip.Addr{loopback}, time.Second, 0, poller)
	require.True(t, st.OK(), st)
	defer in.Close()

	q := newTestQueue()
	outSpec := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.Message, ID: 9}}
	out, st := transport.NewOutputSession(outSpec, 5, false, 1200, arena, group, port, []netip.Addr{loopback}, []*cyphal.Queue{q})
	require.True(t, st.OK(), st)
	defer out.Close()

	require.True(t, out.Send([]byte("payload"), cyphal.Nominal, time.Now().Add(time.Second)).OK())
	item, ok := q.Pop()
	require.True(t, ok)
	require.True(t, item.Payload != nil)

	sock := in.Sockets()[0]
	// Drive the frame through the socket directly as run_for would after
	// draining the TX queue onto the wire.
	writer, st := udpsock.NewOutputSocket(loopback, netip.AddrPortFrom(group, port))
	require.True(t, st.OK(), st)
	defer writer.Close()
	require.True(t, writer.Send(item.Payload).OK())

	var delivered transport.Transfer
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		require.True(t, in.HandleReadable(sock, time.Now()).OK())
		if t2, ok := in.Receive(); ok {
			delivered = t2
			break
		}
		time.Sleep(time.Millisecond)
	}

	require.Equal(t, "payload", string(delivered.Payload))
	require.Equal(t, uint16(5), delivered.RemoteNodeID)
	require.Equal(t, uint64(0), delivered.TransferID)
}

// TestInputSessionDroppedFrameExpiresWithoutDelivery drives a multi-frame
// transfer through a session with one middle frame withheld: no transfer
// is ever delivered, and ExpireStale eventually discards the partial
// buffer and counts it as a timeout (section 8.4, scenario 3).
func TestInputSessionDroppedFrameExpiresWithoutDelivery(t *testing.T) {
	group := netip.MustParseAddr("239.21.0.4")
	const port = 35323
	const timeout = 20 * time.Millisecond

	poller := udpsock.NewPoller()
	arena := cyphal.NewPoolArena(128, 0)

	inSpec := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.Message, ID: 11}}
	in, st := transport.NewInputSession(inSpec, arena, group, port, []netip.Addr{loopback}, timeout, 0, poller)
	require.True(t, st.OK(), st)
	defer in.Close()

	q := newTestQueue()
	outSpec := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.Message, ID: 11}}
	out, st := transport.NewOutputSession(outSpec, 6, false, 1025, arena, group, port, []netip.Addr{loopback}, []*cyphal.Queue{q})
	require.True(t, st.OK(), st)
	defer out.Close()

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.True(t, out.Send(payload, cyphal.Nominal, time.Now().Add(time.Second)).OK())

	var frames [][]byte
	for {
		item, ok := q.Pop()
		if !ok {
			break
		}
		frames = append(frames, item.Payload)
	}
	require.Greater(t, len(frames), 2, "expected multiple frames for a 4 KiB payload over a small MTU")

	writer, st := udpsock.NewOutputSocket(loopback, netip.AddrPortFrom(group, port))
	require.True(t, st.OK(), st)
	defer writer.Close()

	sock := in.Sockets()[0]
	for i, f := range frames {
		if i == 1 {
			continue // simulate frame 2 dropped in transit
		}
		require.True(t, writer.Send(f).OK())
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.True(t, in.HandleReadable(sock, time.Now()).OK())
		_, ok := in.Receive()
		require.False(t, ok, "a transfer missing a middle frame must never be delivered")
		time.Sleep(time.Millisecond)
	}

	in.ExpireStale(time.Now().Add(timeout * 2))
	require.Equal(t, uint64(1), in.Stats().TransfersTimedOut)
	_, ok := in.Receive()
	require.False(t, ok)
}

func TestInputSessionRegistryRejectsOutOfRangeService(t *testing.T) {
	group := netip.MustParseAddr("239.21.0.2")
	poller := udpsock.NewPoller()
	arena := cyphal.NewPoolArena(1500, 0)

	spec := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.ServiceProvider, ID: 999}}
	_, st := transport.NewInputSession(spec, arena, group, 35321, []netip.Addr{loopback}, time.Second, 0, poller)
	require.False(t, st.OK())
	require.Equal(t, cystatus.InvalidArgumentError, st.Kind)
}

func TestInputSessionCloseIsIdempotent(t *testing.T) {
	group := netip.MustParseAddr("239.21.0.3")
	poller := udpsock.NewPoller()
	arena := cyphal.NewPoolArena(1500, 0)

	spec := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.Message, ID: 2}}
	in, st := transport.NewInputSession(spec, arena, group, 35322, []netip.Addr{loopback}, time.Second, 0, poller)
	require.True(t, st.OK(), st)

	require.True(t, in.Close().OK())
	st = in.Close()
	require.False(t, st.OK())
	require.Equal(t, cystatus.ResourceClosedError, st.Kind)
}
