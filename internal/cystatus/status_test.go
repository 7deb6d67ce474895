package cystatus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyphal-go/udptransport/internal/cystatus"
)

func TestOK(t *testing.T) {
	require.True(t, cystatus.OK().OK())
	require.True(t, cystatus.Partial().OK())
	require.False(t, cystatus.New(cystatus.Timeout, cystatus.LayerTransport).OK())
}

func TestSucceededOrTimedOut(t *testing.T) {
	require.True(t, cystatus.OK().SucceededOrTimedOut())
	require.True(t, cystatus.New(cystatus.Timeout, cystatus.LayerTransport).SucceededOrTimedOut())
	require.False(t, cystatus.New(cystatus.MemoryError, cystatus.LayerTransport).SucceededOrTimedOut())
}

func TestErrnoSaturation(t *testing.T) {
	tests := []struct {
		name  string
		errno int
		want  int16
	}{
		{"in range", 13, 13},
		{"above range", 1 << 20, 1<<15 - 1},
		{"below range", -(1 << 20), -(1 << 15)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := cystatus.WithErrno(cystatus.NetworkSystemError, tt.errno)
			errno, ok := st.Errno()
			require.True(t, ok)
			require.Equal(t, tt.want, errno)
		})
	}
}

func TestErrnoOnlyAtNetworkLayer(t *testing.T) {
	st := cystatus.WithID(cystatus.AddressError, cystatus.LayerTransport, 5)
	_, ok := st.Errno()
	require.False(t, ok, "Errno must only surface for Network-layer statuses")
}

func TestStatusIsAnError(t *testing.T) {
	var err error = cystatus.New(cystatus.NotReady, cystatus.LayerApplication)
	require.ErrorContains(t, err, "NotReady")
}

func TestKindString(t *testing.T) {
	require.Equal(t, "MemoryError", cystatus.MemoryError.String())
	require.Contains(t, cystatus.Kind(200).String(), "Kind(200)")
}
