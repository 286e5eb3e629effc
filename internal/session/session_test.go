package session

import (
	"net/netip"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/raknetd/internal/disconnect"
	"github.com/ventosilenzioso/raknetd/internal/seqnum"
	"github.com/ventosilenzioso/raknetd/internal/wire"
)

func seqnumOf(v uint32) seqnum.Num { return seqnum.Num(v) }

func newTestSession(t *testing.T, clock clockwork.Clock) *Session {
	t.Helper()
	s, err := New(Config{
		ID:         1,
		Peer:       netip.MustParseAddrPort("203.0.113.5:12345"),
		ServerAddr: netip.MustParseAddrPort("203.0.113.1:19132"),
		ClientGUID: 0xAAAA,
		ServerGUID: 0xBBBB,
		MTU:        1200,
		Clock:      clock,
	})
	require.NoError(t, err)
	return s
}

// handshake drives a session from ConnectingOnline to Connected, consuming
// datagram sequence numbers startSeq and startSeq+1.
func handshake(t *testing.T, s *Session, startSeq uint32) {
	t.Helper()
	req := &wire.ConnectionRequest{ClientGUID: 0xAAAA, SendTimestamp: 0}
	dg := encodeSingle(req.Encode(), startSeq, 0, wire.ReliableOrdered)
	ev, err := s.HandleIncoming(dg.Encode())
	require.NoError(t, err)
	require.NotEmpty(t, ev.Outgoing)
	ackOutgoing(t, s, ev.Outgoing)

	nic := &wire.NewIncomingConnection{ServerAddress: s.serverAddr}
	for i := range nic.SystemAddresses {
		nic.SystemAddresses[i] = wire.DummySystemAddress
	}
	dg2 := encodeSingle(nic.Encode(), startSeq+1, 1, wire.ReliableOrdered)
	ev2, err := s.HandleIncoming(dg2.Encode())
	require.NoError(t, err)
	require.True(t, ev2.Connected)
	require.Equal(t, Connected, s.State())
	ackOutgoing(t, s, ev2.Outgoing)
}

// ackOutgoing decodes every raw datagram the session just produced and feeds
// its sequence number back into the send layer, simulating the peer
// acknowledging it immediately so later assertions start from a clean
// retransmit cache.
func ackOutgoing(t *testing.T, s *Session, raw [][]byte) {
	t.Helper()
	var seqs []seqnum.Num
	for _, b := range raw {
		flags, ok := wire.PeekFlags(b)
		require.True(t, ok)
		if flags&(wire.FlagACK|wire.FlagNAK) != 0 {
			continue
		}
		dg, err := wire.DecodeDatagram(b)
		require.NoError(t, err)
		seqs = append(seqs, dg.Seq)
	}
	s.send.OnACK(seqs)
}

func encodeSingle(payload []byte, seq uint32, orderIdx uint32, reliability wire.Reliability) *wire.Datagram {
	pk := &wire.EncapsulatedPacket{Reliability: reliability, Payload: payload}
	if reliability.IsReliable() {
		pk.MessageIndex = seq
	}
	if reliability.HasOrderChannel() {
		pk.OrderIndex = orderIdx
	}
	return &wire.Datagram{Seq: seqnumOf(seq), Packets: []*wire.EncapsulatedPacket{pk}}
}

func TestConnectionRequestHandshakeTransitionsToConnected(t *testing.T) {
	s := newTestSession(t, clockwork.NewFakeClock())
	require.Equal(t, ConnectingOnline, s.State())
	handshake(t, s, 0)
}

func TestConnectedPingIsAnsweredWithPong(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock)
	handshake(t, s, 0)

	ping := &wire.ConnectedPing{SendTimestamp: 42}
	dg := &wire.Datagram{Seq: seqnumOf(2), Packets: []*wire.EncapsulatedPacket{{Reliability: wire.Unreliable, Payload: ping.Encode()}}}
	ev, err := s.HandleIncoming(dg.Encode())
	require.NoError(t, err)
	require.NotEmpty(t, ev.Outgoing)
}

func TestUserPayloadDeliveredOnlyWhenConnected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock)

	userPayload := []byte{wire.UserPacketEnum, 1, 2, 3}
	dg := &wire.Datagram{Seq: seqnumOf(0), Packets: []*wire.EncapsulatedPacket{{Reliability: wire.Unreliable, Payload: userPayload}}}
	ev, err := s.HandleIncoming(dg.Encode())
	require.NoError(t, err)
	require.Empty(t, ev.Delivered) // not yet connected

	handshake(t, s, 1)
	dg2 := &wire.Datagram{Seq: seqnumOf(3), Packets: []*wire.EncapsulatedPacket{{Reliability: wire.Unreliable, Payload: userPayload}}}
	ev2, err := s.HandleIncoming(dg2.Encode())
	require.NoError(t, err)
	require.Len(t, ev2.Delivered, 1)
	require.Equal(t, userPayload, ev2.Delivered[0])
}

func TestDisconnectionNotificationTransitionsToDisconnected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock)
	handshake(t, s, 0)

	dn := wire.DisconnectionNotification{}
	pk := &wire.EncapsulatedPacket{Reliability: wire.ReliableOrdered, MessageIndex: 2, OrderIndex: 2, Payload: dn.Encode()}
	dg := &wire.Datagram{Seq: seqnumOf(2), Packets: []*wire.EncapsulatedPacket{pk}}
	ev, err := s.HandleIncoming(dg.Encode())
	require.NoError(t, err)
	require.True(t, s.IsDone())
	require.NotNil(t, ev.DisconnectReason)
	require.Equal(t, disconnect.ClientDisconnect, *ev.DisconnectReason)
}

func TestTickForcesDisconnectAfterActivityTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock)
	clock.Advance(ActivityTimeout + time.Second)

	ev := s.Tick(clock.Now())
	require.True(t, s.IsDone())
	require.NotNil(t, ev.DisconnectReason)
	require.Equal(t, disconnect.PeerTimeout, *ev.DisconnectReason)
}

func TestTickSendsPeriodicPingOnceConnected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock)
	handshake(t, s, 0)

	clock.Advance(PingInterval + time.Second)
	ev := s.Tick(clock.Now())
	require.NotEmpty(t, ev.Outgoing)
	require.Len(t, s.outstandingPings, 2) // handshake ping + this one
}

func TestConnectedPongMeasuresRTT(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock)
	handshake(t, s, 0)

	var sentAt wire.RakNetTime
	for ts := range s.outstandingPings {
		sentAt = ts
	}
	clock.Advance(20 * time.Millisecond)
	pong := &wire.ConnectedPong{SendTimestamp: sentAt, SendPongTime: s.raknetTime()}
	dg := &wire.Datagram{Seq: seqnumOf(5), Packets: []*wire.EncapsulatedPacket{{Reliability: wire.Unreliable, Payload: pong.Encode()}}}
	ev, err := s.HandleIncoming(dg.Encode())
	require.NoError(t, err)
	require.Len(t, ev.PingMeasures, 1)
	require.Equal(t, 20*time.Millisecond, ev.PingMeasures[0])
}

func TestInitiateDisconnectDrainsThenTransitionsToDisconnected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock)
	handshake(t, s, 0)

	ev := s.InitiateDisconnect(disconnect.ServerDisconnect)
	require.Equal(t, DisconnectingGraceful, s.State())
	require.NotNil(t, ev.DisconnectReason)
	require.Equal(t, disconnect.ServerDisconnect, *ev.DisconnectReason)

	// Everything sent during the handshake is already acked, so the first
	// tick finds both layers drained and emits DISCONNECTION_NOTIFICATION.
	tickEv := s.Tick(clock.Now())
	require.Equal(t, DisconnectingNotified, s.State())
	require.NotEmpty(t, tickEv.Outgoing)
	ackOutgoing(t, s, tickEv.Outgoing)

	tickEv2 := s.Tick(clock.Now())
	require.True(t, s.IsDone())
	require.Nil(t, tickEv2.DisconnectReason) // already fired at initiate time
}

func TestGracefulDisconnectDeadlineForcesTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock)
	handshake(t, s, 0)

	s.InitiateDisconnect(disconnect.ServerShutdown)
	clock.Advance(GracefulDisconnectTimeout + time.Second)

	ev := s.Tick(clock.Now())
	require.True(t, s.IsDone())
	require.Nil(t, ev.DisconnectReason) // fired at initiate, not again here
}

func TestForceDisconnectIsImmediate(t *testing.T) {
	s := newTestSession(t, clockwork.NewFakeClock())
	ev := s.ForceDisconnect(disconnect.BadPacket)
	require.True(t, s.IsDone())
	require.Equal(t, disconnect.BadPacket, *ev.DisconnectReason)
}
