package transport

import "github.com/cyphal-go/udptransport/internal/cystatus"

// Closer is satisfied by any session type a Registry can manage.
type Closer interface {
	Close() cystatus.Status
}

// Registry is the dedup-and-lifecycle session table section 4.6
// describes, generalized over the session type so the coordinator can
// hold one instantiation for output sessions and one for input
// sessions instead of duplicating the map-keyed-registry shape gobfd's
// Manager uses for its sessionsByPeer/sessions maps. There is no
// mutex: the single-threaded cooperative contract (section 5)
// makes one unnecessary.
type Registry[S Closer] struct {
	entries map[Specifier]S
}

// NewRegistry returns an empty Registry.
func NewRegistry[S Closer]() *Registry[S] {
	return &Registry[S]{entries: make(map[Specifier]S)}
}

// GetOrCreate returns the session already registered under spec, or
// calls create to build one. A session constructed this way is stored
// and returned only if create succeeds; on failure nothing is added to
// the registry, satisfying section 4.6's "removes the partial
// entry" rule by simply never inserting it.
func (r *Registry[S]) GetOrCreate(spec Specifier, create func() (S, cystatus.Status)) (S, cystatus.Status) {
	if s, ok := r.entries[spec]; ok {
		return s, cystatus.OK()
	}

	s, st := create()
	if !st.OK() {
		var zero S
		return zero, st
	}

	r.entries[spec] = s
	return s, cystatus.OK()
}

// Get returns the session registered under spec, if any.
func (r *Registry[S]) Get(spec Specifier) (S, bool) {
	s, ok := r.entries[spec]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry[S]) Len() int {
	return len(r.entries)
}

// CloseAll closes every registered session and empties the registry. It
// reports PartialSuccess if any individual Close call did not succeed.
func (r *Registry[S]) CloseAll() cystatus.Status {
	allOK := true
	for _, s := range r.entries {
		if st := s.Close(); !st.OK() {
			allOK = false
		}
	}
	r.entries = make(map[Specifier]S)

	if allOK {
		return cystatus.OK()
	}
	return cystatus.Partial()
}
