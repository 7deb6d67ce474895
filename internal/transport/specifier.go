// Package transport implements the session registry, output and input
// sessions, and the transport coordinator that ties address resolution,
// socket primitives, the readiness poller, frame codec, and TX queue
// into a running Cyphal/UDP transport (sections 4.6-4.9).
package transport

import (
	"github.com/cyphal-go/udptransport/internal/cyphal"
	"github.com/cyphal-go/udptransport/internal/cystatus"
)

// DataKind identifies what a DataSpecifier's id field means and how a
// session using it behaves (section 3.3).
type DataKind int

const (
	Message DataKind = iota
	ServiceProvider
	ServiceConsumer
)

var dataKindNames = [...]string{"Message", "ServiceProvider", "ServiceConsumer"}

func (k DataKind) String() string {
	if int(k) < 0 || int(k) >= len(dataKindNames) {
		return "DataKind(unknown)"
	}
	return dataKindNames[k]
}

// DataSpecifier identifies what a session carries: a subject-ID for
// Message, a service-ID for either service role (section 3.3).
type DataSpecifier struct {
	Kind DataKind
	ID   uint16
}

// Validate checks that ID is within range for Kind.
func (d DataSpecifier) Validate() cystatus.Status {
	if d.Kind == Message {
		if err := cyphal.ValidateSubjectID(d.ID); err != nil {
			return cystatus.New(cystatus.InvalidArgumentError, cystatus.LayerApplication)
		}
		return cystatus.OK()
	}
	if err := cyphal.ValidateServiceID(d.ID); err != nil {
		return cystatus.New(cystatus.InvalidArgumentError, cystatus.LayerApplication)
	}
	return cystatus.OK()
}

// Specifier is the value type a session is registered under (
// section 3.3). It is directly comparable so it can key a map without
// any pointer indirection: HasRemote distinguishes "remote node-ID
// absent" from node-ID 0.
type Specifier struct {
	Data         DataSpecifier
	RemoteNodeID uint16
	HasRemote    bool
}

// ValidateForOutput checks the section 3.3 invariant that a
// service data specifier on an output session must carry a remote
// node-ID.
func (s Specifier) ValidateForOutput() cystatus.Status {
	if st := s.Data.Validate(); !st.OK() {
		return st
	}
	if s.Data.Kind != Message && !s.HasRemote {
		return cystatus.New(cystatus.InvalidArgumentError, cystatus.LayerApplication)
	}
	return cystatus.OK()
}

// ValidateForInput checks the section 3.3 invariants for input
// specifiers: any data kind may be promiscuous or selective.
func (s Specifier) ValidateForInput() cystatus.Status {
	return s.Data.Validate()
}

// Promiscuous reports whether this is an input specifier with no
// remote node-ID restriction (section 3.3: "absent => accept from
// any source").
func (s Specifier) Promiscuous() bool {
	return !s.HasRemote
}

// Broadcast reports whether this is an output specifier with no
// destination node-ID (section 3.3: "absent => broadcast
// (messages only)").
func (s Specifier) Broadcast() bool {
	return !s.HasRemote
}
