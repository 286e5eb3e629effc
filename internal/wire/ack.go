package wire

import (
	"fmt"
	"sort"

	"github.com/ventosilenzioso/raknetd/internal/bitio"
	"github.com/ventosilenzioso/raknetd/internal/seqnum"
)

const (
	recordTypeRange  = 0
	recordTypeSingle = 1
)

// EncodeRecordList run-length-encodes a set of sequence numbers into the
// RakNet ACK/NACK record list format: a big-endian record count followed by
// records, each a range {start,end} or a single seq. The input need not be
// sorted or deduplicated; the encoder does both and coalesces maximal
// contiguous runs (P5).
func EncodeRecordList(seqs []seqnum.Num) []byte {
	sorted := dedupeSorted(seqs)

	w := bitio.NewWriterSize(2 + len(sorted)*4)
	recordCountOffset := w.Len()
	w.WriteUint16BE(0) // placeholder, patched below

	records := 0
	i := 0
	for i < len(sorted) {
		start := sorted[i]
		end := start
		j := i + 1
		for j < len(sorted) && uint32(sorted[j]) == uint32(end)+1 {
			end = sorted[j]
			j++
		}
		if start == end {
			w.WriteByte(recordTypeSingle)
			w.WriteUint24LE(uint32(start))
		} else {
			w.WriteByte(recordTypeRange)
			w.WriteUint24LE(uint32(start))
			w.WriteUint24LE(uint32(end))
		}
		records++
		i = j
	}

	out := w.Bytes()
	out[recordCountOffset] = byte(records >> 8)
	out[recordCountOffset+1] = byte(records)
	return out
}

// dedupeSorted sorts seqs in plain numeric order and removes duplicates.
// RakNet ACK sets are always drawn from a bounded
// recent window, so ordinary numeric sort is sufficient and matches what
// real clients send.
func dedupeSorted(seqs []seqnum.Num) []seqnum.Num {
	if len(seqs) == 0 {
		return nil
	}
	cp := append([]seqnum.Num(nil), seqs...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	out := cp[:1]
	for _, s := range cp[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// DecodeRecordList parses a record list, expanding ranges into individual
// sequence numbers. It rejects invalid ranges (end < start, under plain
// numeric comparison since ranges are always produced by the encoder above
// without wraparound) and caps total expansion at MaxDecodedACKRecords to
// bound the cost of a maliciously crafted packet.
func DecodeRecordList(r *bitio.Reader) ([]seqnum.Num, error) {
	count, err := r.ReadUint16BE()
	if err != nil {
		return nil, ErrBadPacket
	}
	var out []seqnum.Num
	for i := uint16(0); i < count; i++ {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, ErrBadPacket
		}
		switch tag {
		case recordTypeSingle:
			seq, err := r.ReadUint24LE()
			if err != nil {
				return nil, ErrBadPacket
			}
			if len(out) >= MaxDecodedACKRecords {
				return nil, fmt.Errorf("%w: record list exceeds %d entries", ErrBadPacket, MaxDecodedACKRecords)
			}
			out = append(out, seqnum.Mask(seq))
		case recordTypeRange:
			start, err := r.ReadUint24LE()
			if err != nil {
				return nil, ErrBadPacket
			}
			end, err := r.ReadUint24LE()
			if err != nil {
				return nil, ErrBadPacket
			}
			if end < start {
				return nil, fmt.Errorf("%w: invalid ACK range [%d,%d]", ErrBadPacket, start, end)
			}
			if len(out)+int(end-start+1) > MaxDecodedACKRecords {
				return nil, fmt.Errorf("%w: record list exceeds %d entries", ErrBadPacket, MaxDecodedACKRecords)
			}
			for seq := start; seq <= end; seq++ {
				out = append(out, seqnum.Mask(seq))
			}
		default:
			return nil, fmt.Errorf("%w: unknown ACK record tag %d", ErrBadPacket, tag)
		}
	}
	return out, nil
}

// EncodeACKDatagram wraps a record list in a datagram header with VALID|ACK.
func EncodeACKDatagram(seqs []seqnum.Num) []byte {
	return encodeAckNakDatagram(FlagValid|FlagACK, seqs)
}

// EncodeNACKDatagram wraps a record list in a datagram header with VALID|NAK.
func EncodeNACKDatagram(seqs []seqnum.Num) []byte {
	return encodeAckNakDatagram(FlagValid|FlagNAK, seqs)
}

func encodeAckNakDatagram(flags byte, seqs []seqnum.Num) []byte {
	body := EncodeRecordList(seqs)
	w := bitio.NewWriterSize(1 + len(body))
	w.WriteByte(flags)
	w.WriteBytes(body)
	return w.Bytes()
}

// DecodeAckNakDatagram parses an ACK/NACK datagram's record list (the
// caller has already stripped and checked the leading flag byte).
func DecodeAckNakDatagram(data []byte) ([]seqnum.Num, error) {
	if len(data) < 1 {
		return nil, ErrBadPacket
	}
	r := bitio.NewReader(data[1:])
	return DecodeRecordList(r)
}
