package cyphal

import (
	"encoding/binary"
	"time"
)

// DefaultTransferIDTimeout is the idle interval between frames of one
// transfer before its partial state is discarded (section 4.4,
// 4.8).
const DefaultTransferIDTimeout = 2 * time.Second

// Outcome describes what happened to a frame handed to a Reassembler.
type Outcome uint8

const (
	// Pending means the frame was accepted but its transfer is not yet
	// complete.
	Pending Outcome = iota
	// Delivered means the frame completed a transfer and its payload
	// (with any trailing CRC stripped) is ready for the caller.
	Delivered
	// Rejected means the frame was dropped: a transfer-id regression, a
	// frame-index mismatch, or (already filtered by UnmarshalHeader) a
	// header CRC failure.
	Rejected
	// CRCFailed means a multi-frame transfer reached its EOT frame but
	// the trailing transfer CRC did not match; the whole transfer is
	// dropped.
	CRCFailed
)

// Reassembler holds the per-(input-session, source-node) reassembly
// state described in section 3.7. It is not safe for concurrent
// use; the single-threaded-cooperative contract (section 5) means
// one is driven entirely from the coordinator's run_for call.
type Reassembler struct {
	knownTransferID bool
	lastTransferID  uint64
	lastActivity    time.Time
	buf             []byte
	expectedIndex   uint32
	frameCount      int
	lastDelivered   []byte
}

// NewReassembler returns an empty Reassembler ready to accept the first
// frame from a newly seen source node.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Accept feeds one frame's header and payload fragment into the
// reassembler and reports what happened. now is the caller's notion of
// the current time, used to stamp activity for the idle-timeout check.
func (r *Reassembler) Accept(h Header, fragment []byte, now time.Time) Outcome {
	switch {
	case r.knownTransferID && h.TransferID < r.lastTransferID:
		return Rejected
	case !r.knownTransferID || h.TransferID > r.lastTransferID:
		r.startTransfer(h.TransferID)
	}

	if h.FrameIndex != r.expectedIndex {
		return Rejected
	}

	r.buf = append(r.buf, fragment...)
	r.frameCount++
	r.expectedIndex++
	r.lastActivity = now

	if !h.EOT {
		return Pending
	}

	return r.finish(h.TransferID)
}

// startTransfer resets in-progress state for a new, higher transfer-id.
func (r *Reassembler) startTransfer(transferID uint64) {
	r.knownTransferID = true
	r.lastTransferID = transferID
	r.buf = r.buf[:0]
	r.expectedIndex = 0
	r.frameCount = 0
}

// finish completes the in-progress transfer at its EOT frame, verifying
// the trailing transfer CRC for multi-frame transfers.
func (r *Reassembler) finish(transferID uint64) Outcome {
	r.lastTransferID = transferID
	r.knownTransferID = true

	if r.frameCount == 1 {
		// Single-frame transfer: the header CRC alone covers it
		// (section 4.4); no trailing transfer CRC to check.
		r.lastDelivered = r.buf
		r.buf = nil
		return Delivered
	}

	if len(r.buf) < TransferCRCSize {
		r.buf = nil
		return CRCFailed
	}

	split := len(r.buf) - TransferCRCSize
	payload, trailer := r.buf[:split], r.buf[split:]
	want := binary.BigEndian.Uint32(trailer)

	if TransferCRC(payload) != want {
		r.buf = nil
		return CRCFailed
	}

	r.lastDelivered = payload
	r.buf = nil

	return Delivered
}

// Payload returns the payload produced by the most recent Delivered
// outcome from Accept. It is only meaningful immediately after Accept
// returns Delivered.
func (r *Reassembler) Payload() []byte {
	return r.lastDelivered
}

// Expired reports whether the in-progress transfer has been idle for
// at least timeout, meaning its partial buffer should be discarded
// (section 3.8, 4.4).
func (r *Reassembler) Expired(now time.Time, timeout time.Duration) bool {
	if len(r.buf) == 0 {
		return false
	}
	return now.Sub(r.lastActivity) >= timeout
}

// Discard releases the in-progress partial buffer, as happens on
// transfer-id-timeout eviction.
func (r *Reassembler) Discard() {
	r.buf = nil
}

// Size returns the number of bytes buffered for the in-progress
// transfer, letting a caller enforce a PayloadMetadata.extent_bytes
// ceiling (section 6.3) without the Reassembler knowing about it
// itself.
func (r *Reassembler) Size() int {
	return len(r.buf)
}
