// Package session implements the per-peer RakNet session state machine: the
// post-handshake control protocol (ping/pong, connection request/accept,
// graceful disconnect) layered on top of the reliability engine in
// internal/reliability. A Session never performs I/O itself; every method
// returns the raw bytes it wants written to the socket (and any events the
// server/application should react to) instead of calling back into a sink.
package session

import (
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ventosilenzioso/raknetd/internal/disconnect"
	"github.com/ventosilenzioso/raknetd/internal/reliability"
	"github.com/ventosilenzioso/raknetd/internal/wire"
)

const (
	// ActivityTimeout is how long a session may go without receiving any
	// datagram before it is forcibly disconnected for timing out.
	ActivityTimeout = 30 * time.Second
	// PingInterval is how often a connected session pings its peer to
	// measure round-trip time and keep NAT mappings alive.
	PingInterval = 5 * time.Second
	// GracefulDisconnectTimeout bounds how long a graceful disconnect waits
	// for both reliability layers to drain before the session is forced
	// into the Disconnected state anyway.
	GracefulDisconnectTimeout = 5 * time.Second
	// maxOutstandingPings bounds the RTT bookkeeping map so a peer can't
	// grow it unboundedly by never responding to pings.
	maxOutstandingPings = 16
)

// Events is everything a single call into a Session can produce: raw bytes
// to hand to the socket, application payloads to surface, and bookkeeping
// notifications for the server to relay to its listener.
type Events struct {
	Outgoing         [][]byte
	Delivered        [][]byte
	AckIDs           []uint32
	PingMeasures     []time.Duration
	Connected        bool
	DisconnectReason *disconnect.Reason
}

func (e *Events) merge(o Events) {
	e.Outgoing = append(e.Outgoing, o.Outgoing...)
	e.Delivered = append(e.Delivered, o.Delivered...)
	e.AckIDs = append(e.AckIDs, o.AckIDs...)
	e.PingMeasures = append(e.PingMeasures, o.PingMeasures...)
	e.Connected = e.Connected || o.Connected
	if o.DisconnectReason != nil {
		e.DisconnectReason = o.DisconnectReason
	}
}

// Session is one peer's connection: handshake state, reliability layers,
// and control-message handling.
type Session struct {
	log   *slog.Logger
	clock clockwork.Clock

	id         uint64
	peer       netip.AddrPort
	serverAddr netip.AddrPort
	clientGUID uint64
	serverGUID uint64
	mtu        uint16

	state State
	start time.Time

	send *reliability.SendLayer
	recv *reliability.ReceiveLayer

	lastActivity     time.Time
	lastPingSent     time.Time
	outstandingPings map[wire.RakNetTime]time.Time
	pingOrder        []wire.RakNetTime

	disconnectDeadline time.Time
	disconnectReason   disconnect.Reason
	disconnectFired    bool
}

// Config bundles the construction-time parameters for a new Session.
type Config struct {
	ID                  uint64
	Peer                netip.AddrPort
	ServerAddr          netip.AddrPort
	ClientGUID          uint64
	ServerGUID          uint64
	MTU                 uint16
	WindowSize          uint32
	MaxSplitPartCount   uint32
	MaxConcurrentSplits int
	Clock               clockwork.Clock
	Logger              *slog.Logger
}

// New constructs a session in ConnectingOnline: the offline handshake has
// already completed (the offline handler issued OPEN_CONNECTION_REPLY_2),
// and the session is now waiting for CONNECTION_REQUEST over the reliable
// channel.
func New(cfg Config) (*Session, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	send, err := reliability.NewSendLayer(clock, cfg.MTU, cfg.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	recv := reliability.NewReceiveLayer(cfg.WindowSize, cfg.MaxSplitPartCount, cfg.MaxConcurrentSplits)

	now := clock.Now()
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		log:              log.With(slog.Uint64("session_id", cfg.ID), slog.String("peer", cfg.Peer.String())),
		clock:            clock,
		id:               cfg.ID,
		peer:             cfg.Peer,
		serverAddr:       cfg.ServerAddr,
		clientGUID:       cfg.ClientGUID,
		serverGUID:       cfg.ServerGUID,
		mtu:              cfg.MTU,
		state:            ConnectingOnline,
		start:            now,
		send:             send,
		recv:             recv,
		lastActivity:     now,
		outstandingPings: make(map[wire.RakNetTime]time.Time),
	}, nil
}

func (s *Session) ID() uint64             { return s.id }
func (s *Session) Peer() netip.AddrPort   { return s.peer }
func (s *Session) State() State           { return s.state }
func (s *Session) ClientGUID() uint64     { return s.clientGUID }
func (s *Session) IsDone() bool           { return s.state == Disconnected }
func (s *Session) raknetTime() wire.RakNetTime {
	return wire.TimeFromDuration(s.clock.Now().Sub(s.start))
}

// HandleIncoming routes one received datagram from this session's peer. The
// server hands every datagram from a peer with a session here, without
// checking wire.LooksOffline first.
func (s *Session) HandleIncoming(data []byte) (Events, error) {
	var ev Events
	flags, ok := wire.PeekFlags(data)
	if !ok {
		return ev, nil
	}
	s.lastActivity = s.clock.Now()

	switch {
	case flags&wire.FlagACK != 0:
		seqs, err := wire.DecodeAckNakDatagram(data)
		if err != nil {
			return ev, err
		}
		ev.AckIDs = s.send.OnACK(seqs)
		return ev, nil

	case flags&wire.FlagNAK != 0:
		seqs, err := wire.DecodeAckNakDatagram(data)
		if err != nil {
			return ev, err
		}
		s.send.OnNACK(seqs)
		return ev, nil

	case flags&wire.FlagValid != 0:
		dg, err := wire.DecodeDatagram(data)
		if err != nil {
			return ev, err
		}
		packets, err := s.recv.OnDatagram(dg)
		if err != nil {
			return ev, err
		}
		for _, pk := range packets {
			out, derr := s.handlePacket(pk)
			ev.merge(out)
			if derr != nil {
				return ev, derr
			}
		}
		return ev, nil

	default:
		return ev, nil
	}
}

func (s *Session) handlePacket(pk *wire.EncapsulatedPacket) (Events, error) {
	var ev Events
	if len(pk.Payload) == 0 {
		return ev, nil
	}
	id := pk.Payload[0]

	if id >= wire.UserPacketEnum {
		if s.state == Connected {
			ev.Delivered = append(ev.Delivered, pk.Payload)
		}
		return ev, nil
	}

	switch id {
	case wire.IDConnectedPing:
		ping, err := wire.DecodeConnectedPing(pk.Payload)
		if err != nil {
			return ev, err
		}
		s.reply(&ev, (&wire.ConnectedPong{SendTimestamp: ping.SendTimestamp, SendPongTime: s.raknetTime()}).Encode(),
			wire.ReliableOrdered, 0)
		return ev, nil

	case wire.IDConnectedPong:
		pong, err := wire.DecodeConnectedPong(pk.Payload)
		if err != nil {
			return ev, err
		}
		if sentAt, ok := s.outstandingPings[pong.SendTimestamp]; ok {
			delete(s.outstandingPings, pong.SendTimestamp)
			ev.PingMeasures = append(ev.PingMeasures, s.clock.Now().Sub(sentAt))
		}
		return ev, nil

	case wire.IDConnectionRequest:
		req, err := wire.DecodeConnectionRequest(pk.Payload)
		if err != nil {
			return ev, err
		}
		accepted := &wire.ConnectionRequestAccepted{
			ClientAddress: s.peer,
			SendTimestamp: req.SendTimestamp,
			SendPongTime:  s.raknetTime(),
		}
		for i := range accepted.SystemAddresses {
			accepted.SystemAddresses[i] = wire.DummySystemAddress
		}
		s.reply(&ev, accepted.Encode(), wire.ReliableOrdered, 0)
		return ev, nil

	case wire.IDNewIncomingConnection:
		if _, err := wire.DecodeNewIncomingConnection(pk.Payload); err != nil {
			return ev, err
		}
		if s.state == ConnectingOnline {
			s.state = Connected
			ev.Connected = true
			s.sendPing(&ev)
		}
		return ev, nil

	case wire.IDDisconnectionNotification:
		s.log.Debug("peer sent disconnection notification")
		s.state = Disconnected
		s.fireDisconnect(&ev, disconnect.ClientDisconnect)
		return ev, nil

	default:
		s.log.Debug("ignoring unrecognized control message", slog.Int("id", int(id)))
		return ev, nil
	}
}

// reply enqueues a control payload for immediate send via the session's
// send layer, appending the resulting wire bytes to ev.
func (s *Session) reply(ev *Events, payload []byte, reliability wire.Reliability, channel byte) {
	dgs, err := s.send.Enqueue(payload, reliability, channel, true, 0, false)
	if err != nil {
		s.log.Warn("failed to enqueue control reply", slog.String("error", err.Error()))
		return
	}
	for _, dg := range dgs {
		ev.Outgoing = append(ev.Outgoing, dg.Encode())
	}
}

func (s *Session) sendPing(ev *Events) {
	now := s.clock.Now()
	ts := s.raknetTime()
	s.reply(ev, (&wire.ConnectedPing{SendTimestamp: ts}).Encode(), wire.Unreliable, 0)
	s.lastPingSent = now

	s.outstandingPings[ts] = now
	s.pingOrder = append(s.pingOrder, ts)
	for len(s.pingOrder) > maxOutstandingPings {
		oldest := s.pingOrder[0]
		s.pingOrder = s.pingOrder[1:]
		delete(s.outstandingPings, oldest)
	}
}

// QueueUser enqueues an application payload for delivery to the peer.
func (s *Session) QueueUser(payload []byte, reliability wire.Reliability, channel byte, immediate bool, ackID uint32, hasAckID bool) (Events, error) {
	var ev Events
	if !s.state.isConnectedLike() {
		return ev, fmt.Errorf("session: cannot queue user data in state %s", s.state)
	}
	dgs, err := s.send.Enqueue(payload, reliability, channel, immediate, ackID, hasAckID)
	if err != nil {
		return ev, err
	}
	for _, dg := range dgs {
		ev.Outgoing = append(ev.Outgoing, dg.Encode())
	}
	return ev, nil
}

// fireDisconnect records the disconnect event exactly once per session
// lifetime, no matter how many paths (graceful teardown, timeout, violation)
// converge on it.
func (s *Session) fireDisconnect(ev *Events, reason disconnect.Reason) {
	if s.disconnectFired {
		return
	}
	s.disconnectFired = true
	r := reason
	ev.DisconnectReason = &r
}

// InitiateDisconnect begins the two-phase graceful disconnect. The session
// first drains all pending reliable traffic, then queues
// DISCONNECTION_NOTIFICATION and waits for that to be acknowledged before
// transitioning to Disconnected; Tick drives both phases.
func (s *Session) InitiateDisconnect(reason disconnect.Reason) Events {
	var ev Events
	if s.state != ConnectingOnline && s.state != Connected {
		return ev
	}
	s.log.Debug("initiating graceful disconnect", slog.String("reason", reason.String()))
	s.state = DisconnectingGraceful
	s.disconnectReason = reason
	s.disconnectDeadline = s.clock.Now().Add(GracefulDisconnectTimeout)
	s.fireDisconnect(&ev, reason)
	return ev
}

// ForceDisconnect immediately tears the session down without waiting for
// delivery confirmation, used for protocol violations and server shutdown.
func (s *Session) ForceDisconnect(reason disconnect.Reason) Events {
	var ev Events
	if s.state == Disconnected {
		return ev
	}
	s.log.Info("forcibly disconnecting session", slog.String("reason", reason.String()))
	s.state = Disconnected
	s.fireDisconnect(&ev, reason)
	return ev
}

// Tick runs periodic per-session maintenance: timeout detection, ping
// scheduling, reliability-layer retransmission/ACK flushing, and graceful
// disconnect progression. now is not read: all timing uses the session's
// injected clock.
func (s *Session) Tick(now time.Time) Events {
	var ev Events

	if s.state != Disconnected && s.clock.Now().Sub(s.lastActivity) > ActivityTimeout {
		return s.ForceDisconnect(disconnect.PeerTimeout)
	}

	if s.state == Connected && s.clock.Now().Sub(s.lastPingSent) >= PingInterval {
		s.sendPing(&ev)
	}

	for _, dg := range s.send.Update() {
		ev.Outgoing = append(ev.Outgoing, dg.Encode())
	}
	for _, raw := range s.recv.Update() {
		ev.Outgoing = append(ev.Outgoing, raw)
	}

	switch s.state {
	case DisconnectingGraceful:
		if s.clock.Now().After(s.disconnectDeadline) {
			ev.merge(s.ForceDisconnect(disconnect.PeerTimeout))
			break
		}
		if !s.send.NeedsUpdate() && !s.recv.NeedsUpdate() {
			s.reply(&ev, wire.DisconnectionNotification{}.Encode(), wire.ReliableOrdered, 0)
			s.state = DisconnectingNotified
			s.disconnectDeadline = s.clock.Now().Add(GracefulDisconnectTimeout)
		}
	case DisconnectingNotified:
		if s.clock.Now().After(s.disconnectDeadline) {
			ev.merge(s.ForceDisconnect(disconnect.PeerTimeout))
			break
		}
		if !s.send.NeedsUpdate() && !s.recv.NeedsUpdate() {
			s.state = Disconnected
		}
	}

	return ev
}

// NeedsTick reports whether the session has pending reliability-layer work.
// The server does not consult it: it ticks every session each tick.
func (s *Session) NeedsTick() bool {
	return s.send.NeedsUpdate() || s.recv.NeedsUpdate()
}
