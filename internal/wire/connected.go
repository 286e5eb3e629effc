package wire

import (
	"net/netip"

	"github.com/ventosilenzioso/raknetd/internal/bitio"
)

// ConnectedPing is ID_CONNECTED_PING, sent periodically by either side of an
// established session to measure round-trip time and keep it alive.
type ConnectedPing struct {
	SendTimestamp RakNetTime
}

func (p *ConnectedPing) Encode() []byte {
	w := bitio.NewWriterSize(9)
	writeID(w, IDConnectedPing)
	w.WriteUint64BE(uint64(p.SendTimestamp))
	return w.Bytes()
}

func DecodeConnectedPing(data []byte) (*ConnectedPing, error) {
	r := bitio.NewReader(data)
	if err := readID(r, IDConnectedPing); err != nil {
		return nil, err
	}
	ts, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	return &ConnectedPing{SendTimestamp: RakNetTime(ts)}, nil
}

// ConnectedPong is ID_CONNECTED_PONG, the reply to ConnectedPing.
type ConnectedPong struct {
	SendTimestamp RakNetTime
	SendPongTime  RakNetTime
}

func (p *ConnectedPong) Encode() []byte {
	w := bitio.NewWriterSize(17)
	writeID(w, IDConnectedPong)
	w.WriteUint64BE(uint64(p.SendTimestamp))
	w.WriteUint64BE(uint64(p.SendPongTime))
	return w.Bytes()
}

func DecodeConnectedPong(data []byte) (*ConnectedPong, error) {
	r := bitio.NewReader(data)
	if err := readID(r, IDConnectedPong); err != nil {
		return nil, err
	}
	ping, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	pong, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	return &ConnectedPong{SendTimestamp: RakNetTime(ping), SendPongTime: RakNetTime(pong)}, nil
}

// ConnectionRequest is ID_CONNECTION_REQUEST, the first message sent on a
// session after the offline handshake completes.
type ConnectionRequest struct {
	ClientGUID    uint64
	SendTimestamp RakNetTime
	UseSecurity   bool
}

func (p *ConnectionRequest) Encode() []byte {
	w := bitio.NewWriterSize(18)
	writeID(w, IDConnectionRequest)
	w.WriteUint64BE(p.ClientGUID)
	w.WriteUint64BE(uint64(p.SendTimestamp))
	w.WriteByte(boolByte(p.UseSecurity))
	return w.Bytes()
}

func DecodeConnectionRequest(data []byte) (*ConnectionRequest, error) {
	r := bitio.NewReader(data)
	if err := readID(r, IDConnectionRequest); err != nil {
		return nil, err
	}
	guid, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	ts, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	sec, err := r.ReadByte()
	if err != nil {
		return nil, ErrBadPacket
	}
	return &ConnectionRequest{ClientGUID: guid, SendTimestamp: RakNetTime(ts), UseSecurity: sec != 0}, nil
}

// ConnectionRequestAccepted is ID_CONNECTION_REQUEST_ACCEPTED, the server's
// reply to ConnectionRequest. SystemAddresses always has exactly
// SystemAddressSlots entries on encode; padded with DummySystemAddress.
type ConnectionRequestAccepted struct {
	ClientAddress   netip.AddrPort
	SystemAddresses [SystemAddressSlots]netip.AddrPort
	SendTimestamp   RakNetTime
	SendPongTime    RakNetTime
}

func (p *ConnectionRequestAccepted) Encode() []byte {
	w := bitio.NewWriterSize(128)
	writeID(w, IDConnectionRequestAccepted)
	WriteAddress(w, p.ClientAddress)
	w.WriteUint16BE(0) // system index, unused by any client that matters
	for _, a := range p.SystemAddresses {
		WriteAddress(w, a)
	}
	w.WriteUint64BE(uint64(p.SendTimestamp))
	w.WriteUint64BE(uint64(p.SendPongTime))
	return w.Bytes()
}

func DecodeConnectionRequestAccepted(data []byte) (*ConnectionRequestAccepted, error) {
	r := bitio.NewReader(data)
	if err := readID(r, IDConnectionRequestAccepted); err != nil {
		return nil, err
	}
	addr, err := ReadAddress(r)
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadUint16BE(); err != nil {
		return nil, ErrBadPacket
	}
	p := &ConnectionRequestAccepted{ClientAddress: addr}
	readPaddedSystemAddresses(r, p.SystemAddresses[:])
	ping, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	pong, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	p.SendTimestamp, p.SendPongTime = RakNetTime(ping), RakNetTime(pong)
	return p, nil
}

// NewIncomingConnection is ID_NEW_INCOMING_CONNECTION, sent by the client
// after receiving ConnectionRequestAccepted to finish the handshake.
type NewIncomingConnection struct {
	ServerAddress   netip.AddrPort
	SystemAddresses [SystemAddressSlots]netip.AddrPort
	SendTimestamp   RakNetTime
	SendPongTime    RakNetTime
}

func (p *NewIncomingConnection) Encode() []byte {
	w := bitio.NewWriterSize(128)
	writeID(w, IDNewIncomingConnection)
	WriteAddress(w, p.ServerAddress)
	for _, a := range p.SystemAddresses {
		WriteAddress(w, a)
	}
	w.WriteUint64BE(uint64(p.SendTimestamp))
	w.WriteUint64BE(uint64(p.SendPongTime))
	return w.Bytes()
}

func DecodeNewIncomingConnection(data []byte) (*NewIncomingConnection, error) {
	r := bitio.NewReader(data)
	if err := readID(r, IDNewIncomingConnection); err != nil {
		return nil, err
	}
	addr, err := ReadAddress(r)
	if err != nil {
		return nil, err
	}
	p := &NewIncomingConnection{ServerAddress: addr}
	readPaddedSystemAddresses(r, p.SystemAddresses[:])
	ping, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	pong, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	p.SendTimestamp, p.SendPongTime = RakNetTime(ping), RakNetTime(pong)
	return p, nil
}

// readPaddedSystemAddresses fills out with up to len(out) address entries,
// stopping early and padding with DummySystemAddress the moment 16 or fewer
// bytes remain (only room for the trailing ping/pong timestamps) or an
// entry fails to parse. Real clients often send fewer than SystemAddressSlots
// populated entries, relying on this padding behavior.
func readPaddedSystemAddresses(r *bitio.Reader, out []netip.AddrPort) {
	for i := range out {
		out[i] = DummySystemAddress
	}
	for i := range out {
		if r.Remaining() <= 16 {
			return
		}
		mark := r.Offset()
		addr, err := ReadAddress(r)
		if err != nil {
			r.Seek(mark)
			return
		}
		out[i] = addr
	}
}

// DisconnectionNotification is ID_DISCONNECTION_NOTIFICATION: a bare control
// byte with no payload, sent by either side to close a session cleanly.
type DisconnectionNotification struct{}

func (DisconnectionNotification) Encode() []byte { return []byte{IDDisconnectionNotification} }

func DecodeDisconnectionNotification(data []byte) (DisconnectionNotification, error) {
	r := bitio.NewReader(data)
	if err := readID(r, IDDisconnectionNotification); err != nil {
		return DisconnectionNotification{}, err
	}
	return DisconnectionNotification{}, nil
}
