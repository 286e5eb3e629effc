package reliability

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/raknetd/internal/seqnum"
	"github.com/ventosilenzioso/raknetd/internal/wire"
)

// TestLossRetransmitDeliversInOrder wires a send layer to a receive layer
// over a link that drops one datagram, and checks the NACK-driven resend
// path restores in-order delivery.
func TestLossRetransmitDeliversInOrder(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, err := NewSendLayer(clock, 1200, 0)
	require.NoError(t, err)
	r := NewReceiveLayer(0, 0, 0)

	var dgs []*wire.Datagram
	for _, payload := range []string{"A", "B", "C"} {
		out, err := s.Enqueue([]byte(payload), wire.ReliableOrdered, 0, true, 0, false)
		require.NoError(t, err)
		dgs = append(dgs, out...)
	}
	require.Len(t, dgs, 3)

	// Deliver A and C; drop the datagram carrying B.
	var delivered []*wire.EncapsulatedPacket
	for i, dg := range dgs {
		if i == 1 {
			continue
		}
		out, err := r.OnDatagram(dg)
		require.NoError(t, err)
		delivered = append(delivered, out...)
	}
	require.Len(t, delivered, 1) // only A releases; C is held for ordering

	// The receiver's periodic update reports the gap as a NACK.
	var nacks []seqnum.Num
	for _, raw := range r.Update() {
		flags, ok := wire.PeekFlags(raw)
		require.True(t, ok)
		seqs, err := wire.DecodeAckNakDatagram(raw)
		require.NoError(t, err)
		switch {
		case flags&wire.FlagACK != 0:
			require.Empty(t, s.OnACK(seqs))
		case flags&wire.FlagNAK != 0:
			nacks = seqs
			s.OnNACK(seqs)
		}
	}
	require.Equal(t, []seqnum.Num{seqnum.Num(1)}, nacks)

	resent := s.Update()
	require.Len(t, resent, 1)
	out, err := r.OnDatagram(resent[0])
	require.NoError(t, err)
	delivered = append(delivered, out...)

	var got []string
	for _, pk := range delivered {
		got = append(got, string(pk.Payload))
	}
	require.Equal(t, []string{"A", "B", "C"}, got)
}

// TestSequenceWrapAcrossLayers drives both layers across the 24-bit
// sequence-number boundary.
func TestSequenceWrapAcrossLayers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, err := NewSendLayer(clock, 1200, 0)
	require.NoError(t, err)
	s.sendSeq = seqnum.Mask(0xFFFFFE)

	r := NewReceiveLayer(0, 0, 0)
	r.windowStart = seqnum.Mask(0xFFFFFE)
	r.windowEnd = r.windowStart.Add(DefaultReliableWindowSize)

	var seqs []seqnum.Num
	for i := 0; i < 3; i++ {
		out, err := s.Enqueue([]byte{byte(i)}, wire.Reliable, 0, true, 0, false)
		require.NoError(t, err)
		require.Len(t, out, 1)
		seqs = append(seqs, out[0].Seq)

		delivered, err := r.OnDatagram(out[0])
		require.NoError(t, err)
		require.Len(t, delivered, 1)
	}
	require.Equal(t, []seqnum.Num{0xFFFFFE, 0xFFFFFF, 0x000000}, seqs)
	require.True(t, seqnum.Greater(seqnum.Num(0), seqnum.Num(0xFFFFFF)))
	require.Equal(t, seqnum.Num(1), r.windowStart) // slid through the wrap
}

// TestBacklogHoldsPacketsBeyondWindow covers the reliable-window backlog:
// packets whose message index lands at or past the window end are parked
// until ACKs slide the window over them.
func TestBacklogHoldsPacketsBeyondWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, err := NewSendLayer(clock, 1200, 4)
	require.NoError(t, err)

	var dgs []*wire.Datagram
	for i := 0; i < 6; i++ {
		out, err := s.Enqueue([]byte{byte(i)}, wire.Reliable, 0, true, 0, false)
		require.NoError(t, err)
		dgs = append(dgs, out...)
	}
	require.Len(t, dgs, 4) // indices 4 and 5 are past the window
	require.Len(t, s.backlog, 2)

	s.OnACK([]seqnum.Num{dgs[0].Seq, dgs[1].Seq})
	out := s.Update()
	require.Len(t, out, 1)
	require.Len(t, out[0].Packets, 2) // both promoted into the slid window
	require.Empty(t, s.backlog)
}

// TestAckReceiptRequiresReliableMode covers the misuse check: an ack
// identifier can only be fulfilled through message-index bookkeeping, which
// unreliable modes don't have.
func TestAckReceiptRequiresReliableMode(t *testing.T) {
	s := newTestSendLayer(t, clockwork.NewFakeClock())
	_, err := s.Enqueue([]byte("x"), wire.Unreliable, 0, true, 7, true)
	require.Error(t, err)
}
