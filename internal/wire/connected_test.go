package wire

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectedPingPongRoundTrip(t *testing.T) {
	ping := &ConnectedPing{SendTimestamp: 10}
	gotPing, err := DecodeConnectedPing(ping.Encode())
	require.NoError(t, err)
	require.Equal(t, ping, gotPing)

	pong := &ConnectedPong{SendTimestamp: 10, SendPongTime: 20}
	gotPong, err := DecodeConnectedPong(pong.Encode())
	require.NoError(t, err)
	require.Equal(t, pong, gotPong)
}

func TestConnectionRequestRoundTrip(t *testing.T) {
	p := &ConnectionRequest{ClientGUID: 55, SendTimestamp: 100, UseSecurity: false}
	got, err := DecodeConnectionRequest(p.Encode())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestConnectionRequestAcceptedRoundTrip(t *testing.T) {
	p := &ConnectionRequestAccepted{
		ClientAddress: netip.MustParseAddrPort("198.51.100.5:34000"),
		SendTimestamp: 10,
		SendPongTime:  20,
	}
	for i := range p.SystemAddresses {
		p.SystemAddresses[i] = DummySystemAddress
	}
	data := p.Encode()
	got, err := DecodeConnectionRequestAccepted(data)
	require.NoError(t, err)
	require.Equal(t, p.ClientAddress, got.ClientAddress)
	require.Equal(t, p.SystemAddresses, got.SystemAddresses)
	require.Equal(t, p.SendTimestamp, got.SendTimestamp)
	require.Equal(t, p.SendPongTime, got.SendPongTime)
}

func TestNewIncomingConnectionToleratesShortAddressList(t *testing.T) {
	// A real client's NewIncomingConnection often has fewer populated system
	// address slots than SystemAddressSlots; decode must still succeed and
	// pad the remainder with DummySystemAddress rather than erroring.
	p := &NewIncomingConnection{
		ServerAddress: netip.MustParseAddrPort("192.0.2.1:19132"),
		SendTimestamp: 1,
		SendPongTime:  2,
	}
	for i := range p.SystemAddresses {
		p.SystemAddresses[i] = DummySystemAddress
	}
	full := p.Encode()

	// Truncate after just the first 3 system address slots plus timestamps,
	// simulating a client that only sent a handful of addresses.
	truncated := append([]byte(nil), full[:0]...)
	truncated = append(truncated, full[:len(full)-((SystemAddressSlots-3)*7)]...)

	got, err := DecodeNewIncomingConnection(truncated)
	require.NoError(t, err)
	require.Equal(t, p.ServerAddress, got.ServerAddress)
}

func TestNewIncomingConnectionRoundTrip(t *testing.T) {
	p := &NewIncomingConnection{
		ServerAddress: netip.MustParseAddrPort("192.0.2.1:19132"),
		SendTimestamp: 3,
		SendPongTime:  4,
	}
	for i := range p.SystemAddresses {
		p.SystemAddresses[i] = DummySystemAddress
	}
	data := p.Encode()
	got, err := DecodeNewIncomingConnection(data)
	require.NoError(t, err)
	require.Equal(t, p.ServerAddress, got.ServerAddress)
	require.Equal(t, p.SystemAddresses, got.SystemAddresses)
}

func TestDisconnectionNotificationRoundTrip(t *testing.T) {
	data := DisconnectionNotification{}.Encode()
	require.Equal(t, []byte{IDDisconnectionNotification}, data)
	got, err := DecodeDisconnectionNotification(data)
	require.NoError(t, err)
	require.Equal(t, DisconnectionNotification{}, got)
}
