package wire

import (
	"net/netip"

	"github.com/ventosilenzioso/raknetd/internal/bitio"
)

func writeMagic(w *bitio.Writer) { w.WriteBytes(OfflineMagic[:]) }

func readMagic(r *bitio.Reader) error {
	got, err := r.ReadBytes(len(OfflineMagic))
	if err != nil {
		return ErrBadPacket
	}
	for i, b := range OfflineMagic {
		if got[i] != b {
			return ErrBadPacket
		}
	}
	return nil
}

func writeID(w *bitio.Writer, id byte) { w.WriteByte(id) }

func readID(r *bitio.Reader, want byte) error {
	id, err := r.ReadByte()
	if err != nil || id != want {
		return ErrBadPacket
	}
	return nil
}

// UnconnectedPing is ID_UNCONNECTED_PING / ID_UNCONNECTED_PING_OPEN_CONNECTIONS
// (same wire shape; only the ID byte differs).
type UnconnectedPing struct {
	SendTimestamp RakNetTime
	ClientGUID    uint64
}

func (p *UnconnectedPing) Encode(id byte) []byte {
	w := bitio.NewWriterSize(35)
	writeID(w, id)
	w.WriteUint64BE(uint64(p.SendTimestamp))
	writeMagic(w)
	w.WriteUint64BE(p.ClientGUID)
	return w.Bytes()
}

func DecodeUnconnectedPing(data []byte, wantID byte) (*UnconnectedPing, error) {
	r := bitio.NewReader(data)
	if err := readID(r, wantID); err != nil {
		return nil, err
	}
	ts, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	if err := readMagic(r); err != nil {
		return nil, err
	}
	guid, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	return &UnconnectedPing{SendTimestamp: RakNetTime(ts), ClientGUID: guid}, nil
}

// UnconnectedPong is ID_UNCONNECTED_PONG.
type UnconnectedPong struct {
	SendTimestamp RakNetTime
	ServerGUID    uint64
	ServerName    string
}

func (p *UnconnectedPong) Encode() []byte {
	w := bitio.NewWriterSize(27 + len(p.ServerName))
	writeID(w, IDUnconnectedPong)
	w.WriteUint64BE(uint64(p.SendTimestamp))
	w.WriteUint64BE(p.ServerGUID)
	writeMagic(w)
	w.WriteUint16BE(uint16(len(p.ServerName)))
	w.WriteBytes([]byte(p.ServerName))
	return w.Bytes()
}

func DecodeUnconnectedPong(data []byte) (*UnconnectedPong, error) {
	r := bitio.NewReader(data)
	if err := readID(r, IDUnconnectedPong); err != nil {
		return nil, err
	}
	ts, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	guid, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	if err := readMagic(r); err != nil {
		return nil, err
	}
	nameLen, err := r.ReadUint16BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	name, err := r.ReadBytes(int(nameLen))
	if err != nil {
		return nil, ErrBadPacket
	}
	return &UnconnectedPong{SendTimestamp: RakNetTime(ts), ServerGUID: guid, ServerName: string(name)}, nil
}

// OpenConnectionRequest1 is ID_OPEN_CONNECTION_REQUEST_1. MTUSize on decode
// is not read from the wire: it is inferred by the caller from the size of
// the received datagram (the client pads the request to its MTU estimate).
type OpenConnectionRequest1 struct {
	Protocol byte
	MTUSize  uint16
}

func (p *OpenConnectionRequest1) Encode() []byte {
	w := bitio.NewWriterSize(int(p.MTUSize))
	writeID(w, IDOpenConnectionRequest1)
	writeMagic(w)
	w.WriteByte(p.Protocol)
	pad := int(p.MTUSize) - w.Len()
	if pad > 0 {
		w.WriteBytes(make([]byte, pad))
	}
	return w.Bytes()
}

func DecodeOpenConnectionRequest1(data []byte) (*OpenConnectionRequest1, error) {
	r := bitio.NewReader(data)
	if err := readID(r, IDOpenConnectionRequest1); err != nil {
		return nil, err
	}
	if err := readMagic(r); err != nil {
		return nil, err
	}
	proto, err := r.ReadByte()
	if err != nil {
		return nil, ErrBadPacket
	}
	return &OpenConnectionRequest1{Protocol: proto, MTUSize: uint16(len(data))}, nil
}

// OpenConnectionReply1 is ID_OPEN_CONNECTION_REPLY_1.
type OpenConnectionReply1 struct {
	ServerGUID     uint64
	ServerSecurity bool
	MTUSize        uint16
}

func (p *OpenConnectionReply1) Encode() []byte {
	w := bitio.NewWriterSize(28)
	writeID(w, IDOpenConnectionReply1)
	writeMagic(w)
	w.WriteUint64BE(p.ServerGUID)
	w.WriteByte(boolByte(p.ServerSecurity))
	w.WriteUint16BE(p.MTUSize)
	return w.Bytes()
}

func DecodeOpenConnectionReply1(data []byte) (*OpenConnectionReply1, error) {
	r := bitio.NewReader(data)
	if err := readID(r, IDOpenConnectionReply1); err != nil {
		return nil, err
	}
	if err := readMagic(r); err != nil {
		return nil, err
	}
	guid, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	sec, err := r.ReadByte()
	if err != nil {
		return nil, ErrBadPacket
	}
	mtu, err := r.ReadUint16BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	return &OpenConnectionReply1{ServerGUID: guid, ServerSecurity: sec != 0, MTUSize: mtu}, nil
}

// OpenConnectionRequest2 is ID_OPEN_CONNECTION_REQUEST_2.
type OpenConnectionRequest2 struct {
	ServerAddress netip.AddrPort
	MTUSize       uint16
	ClientGUID    uint64
}

func (p *OpenConnectionRequest2) Encode() []byte {
	w := bitio.NewWriterSize(34)
	writeID(w, IDOpenConnectionRequest2)
	writeMagic(w)
	WriteAddress(w, p.ServerAddress)
	w.WriteUint16BE(p.MTUSize)
	w.WriteUint64BE(p.ClientGUID)
	return w.Bytes()
}

func DecodeOpenConnectionRequest2(data []byte) (*OpenConnectionRequest2, error) {
	r := bitio.NewReader(data)
	if err := readID(r, IDOpenConnectionRequest2); err != nil {
		return nil, err
	}
	if err := readMagic(r); err != nil {
		return nil, err
	}
	addr, err := ReadAddress(r)
	if err != nil {
		return nil, err
	}
	mtu, err := r.ReadUint16BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	guid, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	return &OpenConnectionRequest2{ServerAddress: addr, MTUSize: mtu, ClientGUID: guid}, nil
}

// OpenConnectionReply2 is ID_OPEN_CONNECTION_REPLY_2.
type OpenConnectionReply2 struct {
	ServerGUID     uint64
	ClientAddress  netip.AddrPort
	MTUSize        uint16
	ServerSecurity bool
}

func (p *OpenConnectionReply2) Encode() []byte {
	w := bitio.NewWriterSize(32)
	writeID(w, IDOpenConnectionReply2)
	writeMagic(w)
	w.WriteUint64BE(p.ServerGUID)
	WriteAddress(w, p.ClientAddress)
	w.WriteUint16BE(p.MTUSize)
	w.WriteByte(boolByte(p.ServerSecurity))
	return w.Bytes()
}

func DecodeOpenConnectionReply2(data []byte) (*OpenConnectionReply2, error) {
	r := bitio.NewReader(data)
	if err := readID(r, IDOpenConnectionReply2); err != nil {
		return nil, err
	}
	if err := readMagic(r); err != nil {
		return nil, err
	}
	guid, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	addr, err := ReadAddress(r)
	if err != nil {
		return nil, err
	}
	mtu, err := r.ReadUint16BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	sec, err := r.ReadByte()
	if err != nil {
		return nil, ErrBadPacket
	}
	return &OpenConnectionReply2{ServerGUID: guid, ClientAddress: addr, MTUSize: mtu, ServerSecurity: sec != 0}, nil
}

// IncompatibleProtocolVersion is ID_INCOMPATIBLE_PROTOCOL_VERSION.
type IncompatibleProtocolVersion struct {
	ServerProtocol byte
	ServerGUID     uint64
}

func (p *IncompatibleProtocolVersion) Encode() []byte {
	w := bitio.NewWriterSize(26)
	writeID(w, IDIncompatibleProtocolVersion)
	w.WriteByte(p.ServerProtocol)
	writeMagic(w)
	w.WriteUint64BE(p.ServerGUID)
	return w.Bytes()
}

func DecodeIncompatibleProtocolVersion(data []byte) (*IncompatibleProtocolVersion, error) {
	r := bitio.NewReader(data)
	if err := readID(r, IDIncompatibleProtocolVersion); err != nil {
		return nil, err
	}
	proto, err := r.ReadByte()
	if err != nil {
		return nil, ErrBadPacket
	}
	if err := readMagic(r); err != nil {
		return nil, err
	}
	guid, err := r.ReadUint64BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	return &IncompatibleProtocolVersion{ServerProtocol: proto, ServerGUID: guid}, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// LooksOffline reports whether the leading byte of data is a recognized
// offline message ID, used by the session dispatcher / offline handler to
// decide whether to attempt offline decoding at all.
func LooksOffline(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	switch data[0] {
	case IDUnconnectedPing, IDUnconnectedPingOpenConns, IDOpenConnectionRequest1, IDOpenConnectionRequest2:
		return true
	default:
		return false
	}
}
