package cyphal_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyphal-go/udptransport/internal/cyphal"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := cyphal.Header{
		Priority:     cyphal.High,
		SourceNodeID: 42,
		DestNodeID:   cyphal.BroadcastNodeID,
		DataSpecID:   7509,
		TransferID:   12345,
		FrameIndex:   3,
		EOT:          true,
	}

	buf := make([]byte, cyphal.HeaderSize)
	require.NoError(t, cyphal.MarshalHeader(h, buf))

	got, err := cyphal.UnmarshalHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestUnmarshalHeaderRejectsBadCRC(t *testing.T) {
	buf := make([]byte, cyphal.HeaderSize)
	require.NoError(t, cyphal.MarshalHeader(cyphal.Header{}, buf))
	buf[2] ^= 0xFF // corrupt the source node-ID; the stored header CRC no longer matches

	_, err := cyphal.UnmarshalHeader(buf)
	require.ErrorIs(t, err, cyphal.ErrHeaderCRCInvalid)
}

func TestUnmarshalHeaderTooShort(t *testing.T) {
	_, err := cyphal.UnmarshalHeader(make([]byte, 4))
	require.ErrorIs(t, err, cyphal.ErrFrameTooShort)
}

func TestFragmentSingleFrame(t *testing.T) {
	payload := []byte("hello cyphal")
	frags, err := cyphal.Fragment(payload, 1200)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	require.Equal(t, payload, frags[0])
}

func TestFragmentMultiFrameIncludesTrailingCRC(t *testing.T) {
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}

	const mtu = 1024
	frags, err := cyphal.Fragment(payload, mtu)
	require.NoError(t, err)
	require.Greater(t, len(frags), 1)

	var reassembled []byte
	for _, f := range frags {
		reassembled = append(reassembled, f...)
	}
	require.Len(t, reassembled, len(payload)+cyphal.TransferCRCSize)
	require.Equal(t, payload, reassembled[:len(payload)])
}

func TestFragmentRejectsSmallMTU(t *testing.T) {
	_, err := cyphal.Fragment([]byte("x"), 1)
	require.ErrorIs(t, err, cyphal.ErrMTUTooSmall)
}
