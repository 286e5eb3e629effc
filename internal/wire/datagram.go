package wire

import (
	"github.com/ventosilenzioso/raknetd/internal/bitio"
	"github.com/ventosilenzioso/raknetd/internal/seqnum"
)

// HeaderSize is the fixed size of a datagram header: one flag byte plus a
// 24-bit little-endian sequence number.
const HeaderSize = 1 + 3

// Datagram is a user datagram: {flags, seq, packets}. ACK/NACK datagrams are
// modeled separately (see ack.go) since they carry a record list instead of
// encapsulated packets.
type Datagram struct {
	Seq     seqnum.Num
	Packets []*EncapsulatedPacket
}

// Encode serializes the datagram with the VALID flag set.
func (d *Datagram) Encode() []byte {
	w := bitio.NewWriterSize(HeaderSize + 32*len(d.Packets))
	w.WriteByte(FlagValid)
	w.WriteUint24LE(uint32(d.Seq))
	for _, p := range d.Packets {
		// Encode errors only occur for payloads that can't fit a uint16 bit
		// length, which SRL already guards against before handing packets
		// here; ignore here to keep the hot path allocation-free.
		_ = p.Encode(w)
	}
	return w.Bytes()
}

// DecodeDatagram parses a full user datagram (the caller has already checked
// the leading flag byte has VALID set and neither ACK nor NAK set).
func DecodeDatagram(data []byte) (*Datagram, error) {
	if len(data) < HeaderSize {
		return nil, ErrBadPacket
	}
	r := bitio.NewReader(data)
	flags, _ := r.ReadByte()
	if flags&FlagValid == 0 {
		return nil, ErrBadPacket
	}
	seq, err := r.ReadUint24LE()
	if err != nil {
		return nil, ErrBadPacket
	}
	dg := &Datagram{Seq: seqnum.Mask(seq)}
	for r.Remaining() > 0 {
		p, err := DecodeEncapsulatedPacket(r)
		if err != nil {
			return nil, err
		}
		dg.Packets = append(dg.Packets, p)
	}
	return dg, nil
}

// PeekFlags reads only the leading flag byte, used by the session dispatcher
// to route between datagram and ACK/NACK decoding without double-parsing.
func PeekFlags(data []byte) (byte, bool) {
	if len(data) == 0 {
		return 0, false
	}
	return data[0], true
}
