package wire

import (
	"fmt"

	"github.com/ventosilenzioso/raknetd/internal/bitio"
)

const (
	reliabilityShift = 5
	reliabilityMask  = 0b111 << reliabilityShift
	splitFlag        = 0b0001_0000
	splitInfoLength  = 4 + 2 + 4 // part count + split id + part index
)

// SplitInfo identifies one part of a split (fragmented) encapsulated packet.
type SplitInfo struct {
	ID        uint16
	PartIndex uint32
	PartCount uint32
}

// EncapsulatedPacket is the unit the application sees. AckIdentifier is
// internal bookkeeping only and is never put on the wire.
type EncapsulatedPacket struct {
	Reliability   Reliability
	MessageIndex  uint32 // valid iff Reliability.IsReliable()
	OrderChannel  byte   // valid iff Reliability.HasOrderChannel()
	OrderIndex    uint32 // valid iff Reliability.HasOrderChannel()
	SequenceIndex uint32 // valid iff Reliability.IsSequenced()
	Split         *SplitInfo
	Payload       []byte

	AckIdentifier    uint32
	HasAckIdentifier bool
}

// HeaderLength returns the number of header bytes this packet will occupy on
// the wire, not counting the payload.
func (p *EncapsulatedPacket) HeaderLength() int {
	n := 1 + 2 // flags + bit-length
	if p.Reliability.IsReliable() {
		n += 3
	}
	if p.Reliability.IsSequenced() {
		n += 3
	}
	if p.Reliability.HasOrderChannel() {
		n += 3 + 1
	}
	if p.Split != nil {
		n += splitInfoLength
	}
	return n
}

// TotalLength is HeaderLength plus the payload size.
func (p *EncapsulatedPacket) TotalLength() int { return p.HeaderLength() + len(p.Payload) }

// Encode appends the wire encoding of p to w.
func (p *EncapsulatedPacket) Encode(w *bitio.Writer) error {
	flags := byte(p.Reliability) << reliabilityShift
	if p.Split != nil {
		flags |= splitFlag
	}
	w.WriteByte(flags)

	bitLen := len(p.Payload) * 8
	if bitLen > 0xFFFF {
		return fmt.Errorf("wire: payload too large to encode (%d bytes)", len(p.Payload))
	}
	w.WriteUint16BE(uint16(bitLen))

	if p.Reliability.IsReliable() {
		w.WriteUint24LE(p.MessageIndex)
	}
	if p.Reliability.IsSequenced() {
		w.WriteUint24LE(p.SequenceIndex)
	}
	if p.Reliability.HasOrderChannel() {
		w.WriteUint24LE(p.OrderIndex)
		w.WriteByte(p.OrderChannel)
	}
	if p.Split != nil {
		w.WriteUint32BE(p.Split.PartCount)
		w.WriteUint16BE(p.Split.ID)
		w.WriteUint32BE(p.Split.PartIndex)
	}
	w.WriteBytes(p.Payload)
	return nil
}

// DecodeEncapsulatedPacket reads one encapsulated packet from r.
func DecodeEncapsulatedPacket(r *bitio.Reader) (*EncapsulatedPacket, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return nil, ErrBadPacket
	}
	p := &EncapsulatedPacket{
		Reliability: Reliability((flags & reliabilityMask) >> reliabilityShift),
	}
	hasSplit := flags&splitFlag != 0

	bitLen, err := r.ReadUint16BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	if bitLen == 0 {
		return nil, fmt.Errorf("%w: zero-length encapsulated payload", ErrBadPacket)
	}
	byteLen := int((bitLen + 7) / 8)

	if p.Reliability.IsReliable() {
		v, err := r.ReadUint24LE()
		if err != nil {
			return nil, ErrBadPacket
		}
		p.MessageIndex = v
	}
	if p.Reliability.IsSequenced() {
		v, err := r.ReadUint24LE()
		if err != nil {
			return nil, ErrBadPacket
		}
		p.SequenceIndex = v
	}
	if p.Reliability.HasOrderChannel() {
		idx, err := r.ReadUint24LE()
		if err != nil {
			return nil, ErrBadPacket
		}
		ch, err := r.ReadByte()
		if err != nil {
			return nil, ErrBadPacket
		}
		p.OrderIndex = idx
		p.OrderChannel = ch
	}
	if hasSplit {
		count, err := r.ReadUint32BE()
		if err != nil {
			return nil, ErrBadPacket
		}
		id, err := r.ReadUint16BE()
		if err != nil {
			return nil, ErrBadPacket
		}
		index, err := r.ReadUint32BE()
		if err != nil {
			return nil, ErrBadPacket
		}
		p.Split = &SplitInfo{ID: id, PartIndex: index, PartCount: count}
	}

	payload, err := r.ReadBytes(byteLen)
	if err != nil {
		return nil, ErrBadPacket
	}
	p.Payload = append([]byte(nil), payload...)
	return p, nil
}

// Clone returns a deep copy of p suitable for stashing in a retransmit cache
// or split-packet reassembly buffer.
func (p *EncapsulatedPacket) Clone() *EncapsulatedPacket {
	cp := *p
	if p.Split != nil {
		s := *p.Split
		cp.Split = &s
	}
	cp.Payload = append([]byte(nil), p.Payload...)
	return &cp
}
