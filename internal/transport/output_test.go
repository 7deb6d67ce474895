package transport_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cyphal-go/udptransport/internal/cyphal"
	"github.com/cyphal-go/udptransport/internal/cystatus"
	"github.com/cyphal-go/udptransport/internal/transport"
)

var loopback = netip.MustParseAddr("127.0.0.1")

func newTestQueue() *cyphal.Queue {
	return cyphal.NewQueue(1 << 20)
}

func TestOutputSessionSendIncrementsTransferID(t *testing.T) {
	group := netip.MustParseAddr("239.20.0.1")
	arena := cyphal.NewPoolArena(1500, 0)
	q := newTestQueue()

	spec := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.Message, ID: 123}}
	out, st := transport.NewOutputSession(spec, 10, false, 1200, arena, group, 35310, []netip.Addr{loopback}, []*cyphal.Queue{q})
	require.True(t, st.OK(), st)
	defer out.Close()

	deadline := time.Now().Add(time.Second)
	require.True(t, out.Send([]byte("hello"), cyphal.Nominal, deadline).OK())
	require.True(t, out.Send([]byte("world"), cyphal.Nominal, deadline).OK())

	require.Equal(t, 2, q.Len())
	first, _ := q.Pop()
	second, _ := q.Pop()

	h1, err := cyphal.UnmarshalHeader(first.Payload[:cyphal.HeaderSize])
	require.NoError(t, err)
	h2, err := cyphal.UnmarshalHeader(second.Payload[:cyphal.HeaderSize])
	require.NoError(t, err)
	require.Equal(t, uint64(0), h1.TransferID)
	require.Equal(t, uint64(1), h2.TransferID)
}

func TestOutputSessionServiceRequiresRemoteNode(t *testing.T) {
	group := netip.MustParseAddr("239.20.0.2")
	arena := cyphal.NewPoolArena(1500, 0)
	q := newTestQueue()

	spec := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.ServiceConsumer, ID: 3}}
	_, st := transport.NewOutputSession(spec, 10, false, 1200, arena, group, 35311, []netip.Addr{loopback}, []*cyphal.Queue{q})
	require.False(t, st.OK())
	require.Equal(t, cystatus.InvalidArgumentError, st.Kind)
}

func TestOutputSessionResponseInactiveUntilRecordRequest(t *testing.T) {
	group := netip.MustParseAddr("239.20.0.3")
	arena := cyphal.NewPoolArena(1500, 0)
	q := newTestQueue()

	spec := transport.Specifier{
		Data:         transport.DataSpecifier{Kind: transport.ServiceProvider, ID: 5},
		RemoteNodeID: 77,
		HasRemote:    true,
	}
	out, st := transport.NewOutputSession(spec, 10, false, 1200, arena, group, 35312, []netip.Addr{loopback}, []*cyphal.Queue{q})
	require.True(t, st.OK(), st)
	defer out.Close()

	deadline := time.Now().Add(time.Second)
	st = out.Send([]byte("resp"), cyphal.Nominal, deadline)
	require.False(t, st.OK())
	require.Equal(t, cystatus.NotReady, st.Kind)

	out.RecordRequest(42)
	st = out.Send([]byte("resp"), cyphal.Nominal, deadline)
	require.True(t, st.OK(), st)

	item, ok := q.Pop()
	require.True(t, ok)
	h, err := cyphal.UnmarshalHeader(item.Payload[:cyphal.HeaderSize])
	require.NoError(t, err)
	require.Equal(t, uint64(42), h.TransferID)

	// One-shot: sending again before another RecordRequest is NotReady.
	st = out.Send([]byte("resp2"), cyphal.Nominal, deadline)
	require.False(t, st.OK())
	require.Equal(t, cystatus.NotReady, st.Kind)
}

func TestOutputSessionsSharingQueueTagItemsWithOwnSocket(t *testing.T) {
	group := netip.MustParseAddr("239.20.0.5")
	arena := cyphal.NewPoolArena(1500, 0)
	q := newTestQueue()

	specA := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.Message, ID: 40}}
	outA, st := transport.NewOutputSession(specA, 10, false, 1200, arena, group, 35314, []netip.Addr{loopback}, []*cyphal.Queue{q})
	require.True(t, st.OK(), st)
	defer outA.Close()

	specB := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.Message, ID: 41}}
	outB, st := transport.NewOutputSession(specB, 10, false, 1200, arena, group, 35315, []netip.Addr{loopback}, []*cyphal.Queue{q})
	require.True(t, st.OK(), st)
	defer outB.Close()

	deadline := time.Now().Add(time.Second)
	require.True(t, outA.Send([]byte("a"), cyphal.Nominal, deadline).OK())
	require.True(t, outB.Send([]byte("b"), cyphal.Nominal, deadline).OK())

	require.Equal(t, 2, q.Len())
	first, _ := q.Pop()
	second, _ := q.Pop()

	require.NotNil(t, first.Socket)
	require.NotNil(t, second.Socket)
	require.NotSame(t, first.Socket, second.Socket,
		"two sessions sharing one interface queue must tag their items with their own distinct sockets")
}

func TestOutputSessionCloseIsIdempotent(t *testing.T) {
	group := netip.MustParseAddr("239.20.0.4")
	arena := cyphal.NewPoolArena(1500, 0)
	q := newTestQueue()

	spec := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.Message, ID: 1}}
	out, st := transport.NewOutputSession(spec, 10, false, 1200, arena, group, 35313, []netip.Addr{loopback}, []*cyphal.Queue{q})
	require.True(t, st.OK(), st)

	require.True(t, out.Close().OK())
	st = out.Close()
	require.False(t, st.OK())
	require.Equal(t, cystatus.ResourceClosedError, st.Kind)

	st = out.Send([]byte("x"), cyphal.Nominal, time.Now().Add(time.Second))
	require.False(t, st.OK())
	require.Equal(t, cystatus.ResourceClosedError, st.Kind)
}
