package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/raknetd/internal/seqnum"
)

func TestDatagramRoundTrip(t *testing.T) {
	dg := &Datagram{
		Seq: seqnum.Num(1234),
		Packets: []*EncapsulatedPacket{
			{Reliability: Unreliable, Payload: []byte("a")},
			{Reliability: ReliableOrdered, MessageIndex: 1, OrderChannel: 0, OrderIndex: 0, Payload: []byte("bb")},
		},
	}
	data := dg.Encode()
	require.Equal(t, FlagValid, data[0])

	got, err := DecodeDatagram(data)
	require.NoError(t, err)
	require.Equal(t, dg.Seq, got.Seq)
	require.Len(t, got.Packets, 2)
	require.Equal(t, dg.Packets[0].Payload, got.Packets[0].Payload)
	require.Equal(t, dg.Packets[1].Payload, got.Packets[1].Payload)
}

func TestDecodeDatagramRejectsMissingValidFlag(t *testing.T) {
	data := []byte{0x00, 0, 0, 0}
	_, err := DecodeDatagram(data)
	require.ErrorIs(t, err, ErrBadPacket)
}

func TestDecodeDatagramRejectsShortHeader(t *testing.T) {
	_, err := DecodeDatagram([]byte{FlagValid, 0})
	require.ErrorIs(t, err, ErrBadPacket)
}

func TestPeekFlags(t *testing.T) {
	flags, ok := PeekFlags([]byte{FlagValid | FlagACK, 1, 2, 3})
	require.True(t, ok)
	require.Equal(t, FlagValid|FlagACK, flags)

	_, ok = PeekFlags(nil)
	require.False(t, ok)
}
