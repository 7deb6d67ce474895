package transport

import (
	"net/netip"
	"time"

	"github.com/cyphal-go/udptransport/internal/cyphal"
	"github.com/cyphal-go/udptransport/internal/cystatus"
	"github.com/cyphal-go/udptransport/internal/udpsock"
)

// Transfer is a completed, reassembled transfer delivered to the
// application (section 3.4).
type Transfer struct {
	Priority         cyphal.Priority
	Kind             DataKind
	PortID           uint16
	RemoteNodeID     uint16
	HasRemoteNodeID  bool
	TransferID       uint64
	ReceiveTimestamp time.Time
	Payload          []byte
}

// TransferHandler is a user-supplied delivery callback (section
// 4.8, point 3). It runs synchronously on the run_for caller's thread.
type TransferHandler func(Transfer)

// InputSessionStats supplements section 4.8 with the reassembly
// counters a "statistics only" surface needs: accepted, rejected, and
// timed-out frame/transfer counts.
type InputSessionStats struct {
	FramesAccepted      uint64
	FramesRejectedCRC   uint64
	FramesRejectedOrder uint64
	TransfersTimedOut   uint64
	OversizePayloads    uint64
}

// inputIfaceBinding is one redundant interface's socket plus its own
// per-source reassembly table. Interfaces reassemble independently,
// each seeing its own frame stream and possibly dropping different frames, and
// redundancy dedup happens afterward at the completed-transfer level
// (section 4.8, point 3).
type inputIfaceBinding struct {
	socket       *udpsock.Socket
	reassemblers map[uint16]*cyphal.Reassembler
}

// InputSession reads datagrams from every redundant interface, feeds
// them through per-source-node reassembly, and delivers each transfer
// exactly once regardless of how many interfaces observed it (
// section 4.8). Grounded on gobfd's netio receive/listener fan-out,
// generalized from "one socket" to "N redundant interfaces feeding one
// logical session".
type InputSession struct {
	spec        Specifier
	arena       cyphal.Arena
	timeout     time.Duration
	extentBytes int
	ifaces      []inputIfaceBinding

	lastDelivered map[uint16]uint64
	hasDelivered  map[uint16]bool

	handler TransferHandler
	fifo    []Transfer

	stats  InputSessionStats
	closed bool
}

// NewInputSession builds an input session listening on group:port,
// joining that multicast group on every address in ifaceAddrs and
// registering each resulting socket with poller (section 4.8,
// points 1-2).
func NewInputSession(
	spec Specifier,
	arena cyphal.Arena,
	group netip.Addr,
	portNum uint16,
	ifaceAddrs []netip.Addr,
	timeout time.Duration,
	extentBytes int,
	poller udpsock.Poller,
) (*InputSession, cystatus.Status) {
	if st := spec.ValidateForInput(); !st.OK() {
		return nil, st
	}

	s := &InputSession{
		spec:          spec,
		arena:         arena,
		timeout:       timeout,
		extentBytes:   extentBytes,
		lastDelivered: make(map[uint16]uint64),
		hasDelivered:  make(map[uint16]bool),
	}

	for _, addr := range ifaceAddrs {
		sock, st := udpsock.NewInputSocket(addr, group, portNum)
		if !st.OK() {
			_ = s.Close()
			return nil, st
		}
		if st := poller.Register(sock); !st.OK() {
			_ = sock.Close()
			_ = s.Close()
			return nil, st
		}
		s.ifaces = append(s.ifaces, inputIfaceBinding{
			socket:       sock,
			reassemblers: make(map[uint16]*cyphal.Reassembler),
		})
	}

	return s, cystatus.OK()
}

// Sockets returns every socket this session owns, for poller
// bookkeeping by the coordinator.
func (s *InputSession) Sockets() []*udpsock.Socket {
	out := make([]*udpsock.Socket, len(s.ifaces))
	for i, ifb := range s.ifaces {
		out[i] = ifb.socket
	}
	return out
}

// SetHandler switches delivery to callback mode; Receive will no
// longer return anything once a handler is set.
func (s *InputSession) SetHandler(h TransferHandler) {
	s.handler = h
}

// Receive pops the next delivered transfer from the internal FIFO
// (section 4.8, point 3, poll mode).
func (s *InputSession) Receive() (Transfer, bool) {
	if len(s.fifo) == 0 {
		return Transfer{}, false
	}
	t := s.fifo[0]
	s.fifo = s.fifo[1:]
	return t, true
}

// Stats returns a snapshot of this session's reassembly counters.
func (s *InputSession) Stats() InputSessionStats {
	return s.stats
}

// HandleReadable drains sock, which the coordinator observed as
// readable, feeding every datagram through reassembly until the socket
// reports no more data (section 4.8, point 3: "read all pending
// datagrams without blocking until EAGAIN/EWOULDBLOCK").
func (s *InputSession) HandleReadable(sock *udpsock.Socket, now time.Time) cystatus.Status {
	if s.closed {
		return cystatus.New(cystatus.ResourceClosedError, cystatus.LayerTransport)
	}

	var ifb *inputIfaceBinding
	for i := range s.ifaces {
		if s.ifaces[i].socket == sock {
			ifb = &s.ifaces[i]
			break
		}
	}
	if ifb == nil {
		return cystatus.New(cystatus.InvalidArgumentError, cystatus.LayerApplication)
	}

	buf := make([]byte, 65536)
	for {
		n, _, st := sock.ReceiveFrom(buf)
		if !st.OK() {
			if st.Kind == cystatus.Timeout {
				return cystatus.OK()
			}
			return st
		}

		s.ingest(ifb, buf[:n], now)
	}
}

func (s *InputSession) ingest(ifb *inputIfaceBinding, datagram []byte, now time.Time) {
	if len(datagram) < cyphal.HeaderSize {
		s.stats.FramesRejectedCRC++
		return
	}

	header, err := cyphal.UnmarshalHeader(datagram[:cyphal.HeaderSize])
	if err != nil {
		s.stats.FramesRejectedCRC++
		return
	}

	if s.spec.HasRemote && header.SourceNodeID != s.spec.RemoteNodeID {
		return
	}

	reassembler, ok := ifb.reassemblers[header.SourceNodeID]
	if !ok {
		reassembler = cyphal.NewReassembler()
		ifb.reassemblers[header.SourceNodeID] = reassembler
	}

	switch reassembler.Accept(header, datagram[cyphal.HeaderSize:], now) {
	case cyphal.Pending:
		s.stats.FramesAccepted++
		if s.extentBytes > 0 && reassembler.Size() > s.extentBytes {
			reassembler.Discard()
			s.stats.OversizePayloads++
		}
	case cyphal.Rejected:
		s.stats.FramesRejectedOrder++
	case cyphal.CRCFailed:
		s.stats.FramesRejectedCRC++
	case cyphal.Delivered:
		s.stats.FramesAccepted++
		s.deliver(header, reassembler.Payload(), now)
	}
}

func (s *InputSession) deliver(header cyphal.Header, payload []byte, now time.Time) {
	if s.hasDelivered[header.SourceNodeID] && header.TransferID <= s.lastDelivered[header.SourceNodeID] {
		return
	}
	s.lastDelivered[header.SourceNodeID] = header.TransferID
	s.hasDelivered[header.SourceNodeID] = true

	owned := make([]byte, len(payload))
	copy(owned, payload)

	t := Transfer{
		Priority:         header.Priority,
		Kind:             s.spec.Data.Kind,
		PortID:           s.spec.Data.ID,
		RemoteNodeID:     header.SourceNodeID,
		HasRemoteNodeID:  header.SourceNodeID != cyphal.AnonymousNodeID,
		TransferID:       header.TransferID,
		ReceiveTimestamp: now,
		Payload:          owned,
	}

	if s.handler != nil {
		s.handler(t)
		return
	}
	s.fifo = append(s.fifo, t)
}

// ExpireStale discards any reassembly entry that has not seen a fresh
// frame within the transfer-ID timeout (section 4.4, last
// bullet; section 3.8).
func (s *InputSession) ExpireStale(now time.Time) {
	for i := range s.ifaces {
		for _, r := range s.ifaces[i].reassemblers {
			if r.Expired(now, s.timeout) {
				r.Discard()
				s.stats.TransfersTimedOut++
			}
		}
	}
}

// Close closes every interface socket this session owns. It is
// idempotent.
func (s *InputSession) Close() cystatus.Status {
	if s.closed {
		return cystatus.New(cystatus.ResourceClosedError, cystatus.LayerTransport)
	}
	s.closed = true

	allOK := true
	for _, ifb := range s.ifaces {
		if st := ifb.socket.Close(); !st.OK() {
			allOK = false
		}
	}

	if allOK {
		return cystatus.OK()
	}
	return cystatus.Partial()
}
