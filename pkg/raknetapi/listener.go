// Package raknetapi is the boundary between the transport core and the
// application embedding it: a raknetd server never does anything with a
// connected peer except call into a Listener.
package raknetapi

import (
	"net/netip"
	"time"

	"github.com/ventosilenzioso/raknetd/internal/disconnect"
)

// Listener receives every externally-visible event the transport produces.
// Implementations must not block: the server calls these synchronously from
// its tick loop.
type Listener interface {
	// OnClientConnect fires once a session completes the online handshake
	// (NEW_INCOMING_CONNECTION received).
	OnClientConnect(sessionID uint64, peer netip.AddrPort, clientGUID uint64)
	// OnClientDisconnect fires once per session, for any reason: when a
	// graceful disconnect begins (the session may keep draining afterwards),
	// or when the session is torn down.
	OnClientDisconnect(sessionID uint64, reason disconnect.Reason)
	// OnPacketReceive delivers one application payload from a connected
	// session. bytes must not be retained past the call.
	OnPacketReceive(sessionID uint64, bytes []byte)
	// OnPacketAck fires once every encapsulated packet tagged with
	// ackIdentifier has been acknowledged by the peer.
	OnPacketAck(sessionID uint64, ackIdentifier uint32)
	// OnBandwidthStats reports cumulative socket I/O since the last call.
	OnBandwidthStats(sentBytes, receivedBytes uint64)
	// OnPingMeasure reports a fresh round-trip time measurement.
	OnPingMeasure(sessionID uint64, rtt time.Duration)
	// OnRawPacket receives datagrams from peers without a session that are
	// not offline handshake messages. Optional: NopListener's implementation
	// is a no-op.
	OnRawPacket(peer netip.AddrPort, bytes []byte)
}

// NopListener implements Listener with every method doing nothing, useful
// as an embeddable base for partial implementations.
type NopListener struct{}

func (NopListener) OnClientConnect(uint64, netip.AddrPort, uint64) {}
func (NopListener) OnClientDisconnect(uint64, disconnect.Reason)   {}
func (NopListener) OnPacketReceive(uint64, []byte)                 {}
func (NopListener) OnPacketAck(uint64, uint32)                     {}
func (NopListener) OnBandwidthStats(uint64, uint64)                {}
func (NopListener) OnPingMeasure(uint64, time.Duration)            {}
func (NopListener) OnRawPacket(netip.AddrPort, []byte)             {}
