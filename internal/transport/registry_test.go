package transport_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyphal-go/udptransport/internal/cystatus"
	"github.com/cyphal-go/udptransport/internal/transport"
)

type fakeSession struct {
	closed bool
}

func (f *fakeSession) Close() cystatus.Status {
	f.closed = true
	return cystatus.OK()
}

func TestRegistryReturnsCachedSession(t *testing.T) {
	r := transport.NewRegistry[*fakeSession]()
	spec := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.Message, ID: 42}}

	calls := 0
	create := func() (*fakeSession, cystatus.Status) {
		calls++
		return &fakeSession{}, cystatus.OK()
	}

	first, st := r.GetOrCreate(spec, create)
	require.True(t, st.OK())

	second, st := r.GetOrCreate(spec, create)
	require.True(t, st.OK())

	require.Same(t, first, second)
	require.Equal(t, 1, calls)
}

func TestRegistryDoesNotStoreFailedConstruction(t *testing.T) {
	r := transport.NewRegistry[*fakeSession]()
	spec := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.Message, ID: 7}}

	failing := func() (*fakeSession, cystatus.Status) {
		return nil, cystatus.New(cystatus.MemoryError, cystatus.LayerTransport)
	}

	_, st := r.GetOrCreate(spec, failing)
	require.False(t, st.OK())
	require.Equal(t, 0, r.Len())

	_, ok := r.Get(spec)
	require.False(t, ok)
}

func TestRegistryCloseAll(t *testing.T) {
	r := transport.NewRegistry[*fakeSession]()
	spec := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.Message, ID: 1}}

	s, st := r.GetOrCreate(spec, func() (*fakeSession, cystatus.Status) {
		return &fakeSession{}, cystatus.OK()
	})
	require.True(t, st.OK())

	require.True(t, r.CloseAll().OK())
	require.True(t, s.closed)
	require.Equal(t, 0, r.Len())
}
