// Package cystatus implements the layered result/status model that every
// Cyphal/UDP transport operation returns instead of an ad hoc error value.
package cystatus

import "fmt"

// Kind is the outcome of a transport operation.
type Kind uint8

const (
	// Success indicates the operation completed in full.
	Success Kind = iota
	// PartialSuccess indicates a redundant-interface operation reached at
	// least one interface but not all of them.
	PartialSuccess
	// Timeout indicates a poll returned with no events inside its window.
	Timeout
	// NotReady indicates a response session has not yet seen a matching
	// request.
	NotReady
	// ResourceClosedError indicates an operation on a closed object.
	ResourceClosedError
	// UninitializedError indicates an operation before initialize().
	UninitializedError
	// MemoryError indicates an arena was exhausted or a capacity was
	// reached.
	MemoryError
	// AddressError indicates bind or connect was rejected by the kernel.
	AddressError
	// ConnectionError indicates any other connect failure.
	ConnectionError
	// NetworkSystemError indicates any other syscall failure; it carries
	// an errno saturated into 16 bits.
	NetworkSystemError
	// InvalidArgumentError indicates an out-of-range id, a service
	// specifier with no remote node, or similar caller error.
	InvalidArgumentError
	// InvalidStateError indicates an object was used in a state that
	// does not support the requested operation.
	InvalidStateError
	// NotImplementedError indicates a feature stub.
	NotImplementedError
)

// kindNames holds the human-readable name for each Kind, in declaration
// order.
var kindNames = [...]string{
	"Success",
	"PartialSuccess",
	"Timeout",
	"NotReady",
	"ResourceClosedError",
	"UninitializedError",
	"MemoryError",
	"AddressError",
	"ConnectionError",
	"NetworkSystemError",
	"InvalidArgumentError",
	"InvalidStateError",
	"NotImplementedError",
}

const unknownKindFmt = "Kind(%d)"

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf(unknownKindFmt, uint8(k))
}

// Layer identifies which layer of the stack produced a Status.
type Layer uint8

const (
	// LayerNetwork is the socket/syscall layer.
	LayerNetwork Layer = iota
	// LayerTransport is the frame/session/coordinator layer.
	LayerTransport
	// LayerPresentation is reserved for a presentation layer built atop
	// the transport; the transport core never produces it itself.
	LayerPresentation
	// LayerApplication marks a caller/programmer error.
	LayerApplication
)

var layerNames = [...]string{"Network", "Transport", "Presentation", "Application"}

// String returns the human-readable name of the layer.
func (l Layer) String() string {
	if int(l) < len(layerNames) {
		return layerNames[l]
	}
	return fmt.Sprintf("Layer(%d)", uint8(l))
}

// Status is the layered result value returned by every transport
// operation. The zero Status is Success at the Network layer; OK()
// returns Success at the Transport layer.
type Status struct {
	Kind  Kind
	Layer Layer

	// id is an optional 16-bit payload. When Layer is LayerNetwork and
	// hasID is set, it is an errno saturated into the signed-16 range.
	id    int16
	hasID bool
}

// OK reports whether the status represents Success or PartialSuccess.
func (s Status) OK() bool {
	return s.Kind == Success || s.Kind == PartialSuccess
}

// SucceededOrTimedOut reports whether a poll caller should treat the
// status as "nothing went wrong": Success, PartialSuccess, or Timeout.
func (s Status) SucceededOrTimedOut() bool {
	return s.OK() || s.Kind == Timeout
}

// ID returns the optional 16-bit payload and whether one is present.
func (s Status) ID() (int16, bool) {
	return s.id, s.hasID
}

// Errno returns the errno carried by a Network-layer status (any kind,
// e.g. NetworkSystemError or AddressError), if any.
func (s Status) Errno() (int16, bool) {
	if s.Layer != LayerNetwork || !s.hasID {
		return 0, false
	}
	return s.id, true
}

// Error implements the error interface so a Status can be returned and
// compared like any other Go error.
func (s Status) Error() string {
	if s.hasID {
		return fmt.Sprintf("%s at %s layer (id=%d)", s.Kind, s.Layer, s.id)
	}
	return fmt.Sprintf("%s at %s layer", s.Kind, s.Layer)
}

// OK is the canonical Success status at the transport layer.
func OK() Status {
	return Status{Kind: Success, Layer: LayerTransport}
}

// Partial reports a best-effort operation that reached at least one
// interface but not all of them.
func Partial() Status {
	return Status{Kind: PartialSuccess, Layer: LayerTransport}
}

// New constructs a Status with the given kind and layer and no id.
func New(kind Kind, layer Layer) Status {
	return Status{Kind: kind, Layer: layer}
}

// saturateErrno clamps an arbitrary errno value into the signed-16
// range, matching the signed 16-bit width of the wire-level status id.
func saturateErrno(errno int) int16 {
	const maxI16 = int(1<<15 - 1)
	const minI16 = int(-(1 << 15))
	if errno > maxI16 {
		return int16(maxI16)
	}
	if errno < minI16 {
		return int16(minI16)
	}
	return int16(errno)
}

// WithErrno constructs a Network-layer Status carrying a saturated
// errno value.
func WithErrno(kind Kind, errno int) Status {
	return Status{Kind: kind, Layer: LayerNetwork, id: saturateErrno(errno), hasID: true}
}

// WithID constructs a Status at the given layer carrying an arbitrary
// 16-bit id that is not an errno.
func WithID(kind Kind, layer Layer, id int16) Status {
	return Status{Kind: kind, Layer: layer, id: id, hasID: true}
}
