package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/raknetd/internal/bitio"
)

func TestEncapsulatedPacketRoundTripUnreliable(t *testing.T) {
	p := &EncapsulatedPacket{Reliability: Unreliable, Payload: []byte("hello")}
	w := bitio.NewWriter()
	require.NoError(t, p.Encode(w))

	r := bitio.NewReader(w.Bytes())
	got, err := DecodeEncapsulatedPacket(r)
	require.NoError(t, err)
	require.Equal(t, p.Payload, got.Payload)
	require.Equal(t, p.Reliability, got.Reliability)
}

func TestEncapsulatedPacketRoundTripReliableOrdered(t *testing.T) {
	p := &EncapsulatedPacket{
		Reliability:  ReliableOrdered,
		MessageIndex: 42,
		OrderChannel: 3,
		OrderIndex:   7,
		Payload:      []byte{1, 2, 3, 4},
	}
	w := bitio.NewWriter()
	require.NoError(t, p.Encode(w))

	r := bitio.NewReader(w.Bytes())
	got, err := DecodeEncapsulatedPacket(r)
	require.NoError(t, err)
	require.Equal(t, p.MessageIndex, got.MessageIndex)
	require.Equal(t, p.OrderChannel, got.OrderChannel)
	require.Equal(t, p.OrderIndex, got.OrderIndex)
	require.Equal(t, p.Payload, got.Payload)
}

func TestEncapsulatedPacketRoundTripSplit(t *testing.T) {
	p := &EncapsulatedPacket{
		Reliability:  ReliableOrdered,
		MessageIndex: 1,
		OrderChannel: 0,
		OrderIndex:   0,
		Split:        &SplitInfo{ID: 99, PartIndex: 2, PartCount: 10},
		Payload:      []byte("part"),
	}
	w := bitio.NewWriter()
	require.NoError(t, p.Encode(w))

	r := bitio.NewReader(w.Bytes())
	got, err := DecodeEncapsulatedPacket(r)
	require.NoError(t, err)
	require.NotNil(t, got.Split)
	require.Equal(t, *p.Split, *got.Split)
}

func TestEncapsulatedPacketRoundTripSequenced(t *testing.T) {
	p := &EncapsulatedPacket{
		Reliability:   ReliableSequenced,
		MessageIndex:  5,
		SequenceIndex: 6,
		OrderChannel:  1,
		OrderIndex:    2,
		Payload:       []byte("seq"),
	}
	w := bitio.NewWriter()
	require.NoError(t, p.Encode(w))

	r := bitio.NewReader(w.Bytes())
	got, err := DecodeEncapsulatedPacket(r)
	require.NoError(t, err)
	require.Equal(t, p.SequenceIndex, got.SequenceIndex)
}

func TestEncapsulatedPacketRejectsZeroLength(t *testing.T) {
	w := bitio.NewWriter()
	w.WriteByte(byte(Unreliable) << reliabilityShift)
	w.WriteUint16BE(0)
	r := bitio.NewReader(w.Bytes())
	_, err := DecodeEncapsulatedPacket(r)
	require.ErrorIs(t, err, ErrBadPacket)
}

func TestEncapsulatedPacketHeaderLengthMatchesEncoded(t *testing.T) {
	p := &EncapsulatedPacket{
		Reliability:  ReliableOrderedWithAck,
		MessageIndex: 1,
		OrderChannel: 2,
		OrderIndex:   3,
		Payload:      []byte("xyzxyz"),
	}
	w := bitio.NewWriter()
	require.NoError(t, p.Encode(w))
	require.Equal(t, p.TotalLength(), w.Len())
}

func TestEncapsulatedPacketClone(t *testing.T) {
	p := &EncapsulatedPacket{
		Reliability: Reliable,
		Split:       &SplitInfo{ID: 1, PartIndex: 2, PartCount: 3},
		Payload:     []byte{9, 9},
	}
	cp := p.Clone()
	cp.Split.PartIndex = 100
	cp.Payload[0] = 0
	require.Equal(t, uint32(2), p.Split.PartIndex)
	require.Equal(t, byte(9), p.Payload[0])
}
