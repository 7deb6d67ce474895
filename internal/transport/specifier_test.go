package transport_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyphal-go/udptransport/internal/transport"
)

func TestServiceOutputSpecifierRequiresRemoteNode(t *testing.T) {
	spec := transport.Specifier{
		Data: transport.DataSpecifier{Kind: transport.ServiceProvider, ID: 3},
	}
	st := spec.ValidateForOutput()
	require.False(t, st.OK())

	spec.RemoteNodeID = 99
	spec.HasRemote = true
	require.True(t, spec.ValidateForOutput().OK())
}

func TestMessageOutputSpecifierMayBroadcast(t *testing.T) {
	spec := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.Message, ID: 7509}}
	require.True(t, spec.ValidateForOutput().OK())
	require.True(t, spec.Broadcast())
}

func TestInputSpecifierPromiscuousByDefault(t *testing.T) {
	spec := transport.Specifier{Data: transport.DataSpecifier{Kind: transport.ServiceConsumer, ID: 5}}
	require.True(t, spec.ValidateForInput().OK())
	require.True(t, spec.Promiscuous())

	spec.HasRemote = true
	require.False(t, spec.Promiscuous())
}

func TestDataSpecifierRejectsOutOfRangeID(t *testing.T) {
	spec := transport.DataSpecifier{Kind: transport.Message, ID: 8192}
	require.False(t, spec.Validate().OK())

	spec = transport.DataSpecifier{Kind: transport.ServiceProvider, ID: 512}
	require.False(t, spec.Validate().OK())
}
