package transport

import (
	"net/netip"
	"time"

	"github.com/cyphal-go/udptransport/internal/cyphal"
	"github.com/cyphal-go/udptransport/internal/cystatus"
	"github.com/cyphal-go/udptransport/internal/udpsock"
)

// outputIfaceBinding is one redundant interface's socket plus the
// shared per-interface TX queue it drains from. The queue is owned by
// the interface record, not the session (section 3.8): every
// output session built over the same interface pushes into the same
// *cyphal.Queue.
type outputIfaceBinding struct {
	socket *udpsock.Socket
	queue  *cyphal.Queue
}

// OutputSession publishes transfers by fragmenting them into frames
// and enqueueing those frames onto every redundant interface's TX
// queue (section 4.7). Each frame's header is marshaled afresh for
// every interface into a buffer drawn from the session's arena.
type OutputSession struct {
	spec        Specifier
	localNodeID uint16
	anonymous   bool
	mtu         int
	arena       cyphal.Arena
	ifaces      []outputIfaceBinding

	transferID       uint64
	mirrorTransferID uint64
	hasMirror        bool

	closed bool
}

// NewOutputSession builds an output session whose destination is
// group:port, with one output socket per address in ifaceAddrs bound
// to that interface and connected to the destination (section
// 4.7, point 1).
func NewOutputSession(
	spec Specifier,
	localNodeID uint16,
	anonymous bool,
	mtu int,
	arena cyphal.Arena,
	group netip.Addr,
	port uint16,
	ifaceAddrs []netip.Addr,
	queues []*cyphal.Queue,
) (*OutputSession, cystatus.Status) {
	if st := spec.ValidateForOutput(); !st.OK() {
		return nil, st
	}

	dst := netip.AddrPortFrom(group, port)

	s := &OutputSession{
		spec:        spec,
		localNodeID: localNodeID,
		anonymous:   anonymous,
		mtu:         mtu,
		arena:       arena,
	}

	for i, addr := range ifaceAddrs {
		sock, st := udpsock.NewOutputSocket(addr, dst)
		if !st.OK() {
			_ = s.Close()
			return nil, st
		}
		s.ifaces = append(s.ifaces, outputIfaceBinding{socket: sock, queue: queues[i]})
	}

	return s, cystatus.OK()
}

// isResponse reports whether this session carries service responses,
// whose transfer-id must mirror the originating request rather than
// increment on its own (section 4.7, point 3).
func (s *OutputSession) isResponse() bool {
	return s.spec.Data.Kind == ServiceProvider
}

// RecordRequest is called by the coordinator when a matching request
// has been delivered to the corresponding input session, activating a
// previously-inactive response session and setting the transfer-id it
// must mirror on its next Send (section 4.7: "A response session
// is initially inactive... until the first matching request has
// arrived").
func (s *OutputSession) RecordRequest(requestTransferID uint64) {
	s.mirrorTransferID = requestTransferID
	s.hasMirror = true
}

func (s *OutputSession) sourceNodeID() uint16 {
	if s.anonymous {
		return cyphal.AnonymousNodeID
	}
	return s.localNodeID
}

func (s *OutputSession) destNodeID() uint16 {
	if s.spec.HasRemote {
		return s.spec.RemoteNodeID
	}
	return cyphal.BroadcastNodeID
}

// Send fragments payload into frames at priority, enqueueing them on
// every redundant interface with deadline as each queued frame's
// expiry (section 4.7, point 2). An interface that refuses any frame
// (arena or queue full) counts as having refused the transfer; frames
// it already queued stay queued. Send returns MemoryError if every
// interface refused, PartialSuccess if at least one interface accepted
// every frame but not all did.
func (s *OutputSession) Send(payload []byte, priority cyphal.Priority, deadline time.Time) cystatus.Status {
	if s.closed {
		return cystatus.New(cystatus.ResourceClosedError, cystatus.LayerTransport)
	}
	if s.isResponse() && !s.hasMirror {
		return cystatus.New(cystatus.NotReady, cystatus.LayerTransport)
	}

	transferID := s.transferID
	if s.isResponse() {
		transferID = s.mirrorTransferID
	}

	fragments, err := cyphal.Fragment(payload, s.mtu)
	if err != nil {
		return cystatus.New(cystatus.InvalidArgumentError, cystatus.LayerApplication)
	}

	ifaceOK := make([]bool, len(s.ifaces))
	for i := range ifaceOK {
		ifaceOK[i] = true
	}

	for frameIndex, frag := range fragments {
		header := cyphal.Header{
			Priority:     priority,
			SourceNodeID: s.sourceNodeID(),
			DestNodeID:   s.destNodeID(),
			DataSpecID:   s.spec.Data.ID,
			TransferID:   transferID,
			FrameIndex:   uint32(frameIndex), //nolint:gosec // G115: bounded by Fragment's MTU-derived frame count
			EOT:          frameIndex == len(fragments)-1,
		}

		for i, ifb := range s.ifaces {
			if !ifaceOK[i] {
				continue
			}

			buf := s.arena.Get(cyphal.HeaderSize + len(frag))
			if buf == nil {
				ifaceOK[i] = false
				continue
			}
			if err := cyphal.MarshalHeader(header, buf[:cyphal.HeaderSize]); err != nil {
				s.arena.Put(buf)
				ifaceOK[i] = false
				continue
			}
			copy(buf[cyphal.HeaderSize:], frag)

			if st := ifb.queue.Push(priority, buf, deadline, ifb.socket); !st.OK() {
				s.arena.Put(buf)
				ifaceOK[i] = false
			}
		}
	}

	accepted := 0
	for _, ok := range ifaceOK {
		if ok {
			accepted++
		}
	}
	if accepted == 0 {
		return cystatus.New(cystatus.MemoryError, cystatus.LayerTransport)
	}

	if s.isResponse() {
		s.hasMirror = false
	} else {
		s.transferID++
	}

	if accepted < len(s.ifaces) {
		return cystatus.Partial()
	}
	return cystatus.OK()
}

// Close closes every interface socket this session owns. It is
// idempotent.
func (s *OutputSession) Close() cystatus.Status {
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
