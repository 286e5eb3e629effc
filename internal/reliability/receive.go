package reliability

import (
	"fmt"
	"sort"

	"github.com/ventosilenzioso/raknetd/internal/disconnect"
	"github.com/ventosilenzioso/raknetd/internal/seqnum"
	"github.com/ventosilenzioso/raknetd/internal/wire"
)

const (
	// DefaultMaxSplitPartCount bounds how many parts a split packet may
	// declare.
	DefaultMaxSplitPartCount = wire.MaxSplitParts
	// DefaultMaxConcurrentSplits bounds how many distinct split_ids may be
	// under reassembly at once.
	DefaultMaxConcurrentSplits = 4
)

type splitAssembly struct {
	parts     []*wire.EncapsulatedPacket
	partCount uint32
	filled    int
}

// ReceiveLayer is the per-session receive reliability engine (RRL).
type ReceiveLayer struct {
	maxSplitPartCount   uint32
	maxConcurrentSplits int

	windowStart    seqnum.Num
	windowEnd      seqnum.Num
	windowSize     uint32
	highestSeq     seqnum.Num
	haveHighestSeq bool
	received       map[seqnum.Num]struct{} // in-window seqs seen so far
	ackQueue       map[seqnum.Num]struct{}
	nackQueue      map[seqnum.Num]struct{}

	reliableWindowStart seqnum.Num
	reliableWindowEnd   seqnum.Num
	reliableWindow      map[seqnum.Num]struct{} // message_index -> received

	orderedCursor   [wire.MaxOrderChannels]seqnum.Num
	sequencedCursor [wire.MaxOrderChannels]seqnum.Num
	orderedBuffer   [wire.MaxOrderChannels]map[seqnum.Num]*wire.EncapsulatedPacket

	splitPackets map[uint16]*splitAssembly
}

// NewReceiveLayer constructs a receive layer. windowSize of 0 uses
// DefaultReliableWindowSize for both the datagram window and the reliable
// (message-index) window.
func NewReceiveLayer(windowSize uint32, maxSplitPartCount uint32, maxConcurrentSplits int) *ReceiveLayer {
	if windowSize == 0 {
		windowSize = DefaultReliableWindowSize
	}
	if maxSplitPartCount == 0 {
		maxSplitPartCount = DefaultMaxSplitPartCount
	}
	if maxConcurrentSplits == 0 {
		maxConcurrentSplits = DefaultMaxConcurrentSplits
	}
	r := &ReceiveLayer{
		maxSplitPartCount:   maxSplitPartCount,
		maxConcurrentSplits: maxConcurrentSplits,
		windowEnd:           seqnum.Num(windowSize),
		windowSize:          windowSize,
		received:            make(map[seqnum.Num]struct{}),
		ackQueue:            make(map[seqnum.Num]struct{}),
		nackQueue:           make(map[seqnum.Num]struct{}),
		reliableWindowEnd:   seqnum.Num(windowSize),
		reliableWindow:      make(map[seqnum.Num]struct{}),
		splitPackets:        make(map[uint16]*splitAssembly),
	}
	for i := range r.orderedBuffer {
		r.orderedBuffer[i] = make(map[seqnum.Num]*wire.EncapsulatedPacket)
	}
	return r
}

// OnDatagram admits one received user datagram: it updates the ack/nack
// bookkeeping and returns every application-visible packet it releases (in
// delivery order), or an error if the peer violated a reliability invariant
// and must be force-disconnected.
func (r *ReceiveLayer) OnDatagram(dg *wire.Datagram) ([]*wire.EncapsulatedPacket, error) {
	seq := dg.Seq
	if seqnum.Less(seq, r.windowStart) || seqnum.LessOrEqual(r.windowEnd, seq) {
		return nil, nil
	}
	if _, duplicate := r.received[seq]; duplicate {
		return nil, nil
	}
	r.received[seq] = struct{}{}

	delete(r.nackQueue, seq)
	r.ackQueue[seq] = struct{}{}

	if !r.haveHighestSeq || seqnum.Less(r.highestSeq, seq) {
		r.highestSeq = seq
		r.haveHighestSeq = true
	}

	if seq == r.windowStart {
		// Seqs behind the new window start are implicitly acknowledged by
		// the window advance; the pending ackQueue entries still go out.
		for {
			if _, ok := r.received[r.windowStart]; !ok {
				break
			}
			delete(r.received, r.windowStart)
			r.windowStart = r.windowStart.Add(1)
			r.windowEnd = r.windowEnd.Add(1)
		}
	} else if seqnum.Less(r.windowStart, seq) {
		for i := r.windowStart; i != seq; i = i.Add(1) {
			if _, ok := r.received[i]; !ok {
				r.nackQueue[i] = struct{}{}
			}
		}
	}

	var delivered []*wire.EncapsulatedPacket
	for _, pk := range dg.Packets {
		out, err := r.handleEncapsulated(pk)
		if err != nil {
			return delivered, err
		}
		delivered = append(delivered, out...)
	}
	return delivered, nil
}

func (r *ReceiveLayer) handleEncapsulated(pk *wire.EncapsulatedPacket) ([]*wire.EncapsulatedPacket, error) {
	if pk.Reliability.IsReliable() {
		idx := seqnum.Num(pk.MessageIndex)
		if seqnum.Less(idx, r.reliableWindowStart) || seqnum.LessOrEqual(r.reliableWindowEnd, idx) {
			return nil, nil
		}
		if _, seen := r.reliableWindow[idx]; seen {
			return nil, nil
		}
		r.reliableWindow[idx] = struct{}{}
		if idx == r.reliableWindowStart {
			for {
				if _, ok := r.reliableWindow[r.reliableWindowStart]; !ok {
					break
				}
				delete(r.reliableWindow, r.reliableWindowStart)
				r.reliableWindowStart = r.reliableWindowStart.Add(1)
				r.reliableWindowEnd = r.reliableWindowEnd.Add(1)
			}
		}
	}

	reassembled, err := r.handleSplit(pk)
	if err != nil {
		return nil, err
	}
	if reassembled == nil {
		return nil, nil // waiting for more parts
	}

	ch := reassembled.OrderChannel
	if ch >= wire.MaxOrderChannels {
		return nil, nil
	}

	switch {
	case reassembled.Reliability.IsSequenced():
		oi, si := seqnum.Mask(reassembled.OrderIndex), seqnum.Mask(reassembled.SequenceIndex)
		if seqnum.Less(oi, r.orderedCursor[ch]) || seqnum.Less(si, r.sequencedCursor[ch]) {
			return nil, nil
		}
		r.sequencedCursor[ch] = si.Add(1)
		return []*wire.EncapsulatedPacket{reassembled}, nil

	case reassembled.Reliability.IsOrdered():
		return r.deliverOrdered(ch, reassembled)

	default:
		return []*wire.EncapsulatedPacket{reassembled}, nil
	}
}

func (r *ReceiveLayer) deliverOrdered(ch byte, pk *wire.EncapsulatedPacket) ([]*wire.EncapsulatedPacket, error) {
	oi := seqnum.Mask(pk.OrderIndex)
	if oi == r.orderedCursor[ch] {
		r.sequencedCursor[ch] = 0
		r.orderedCursor[ch] = r.orderedCursor[ch].Add(1)
		out := []*wire.EncapsulatedPacket{pk}
		for {
			next, ok := r.orderedBuffer[ch][r.orderedCursor[ch]]
			if !ok {
				break
			}
			delete(r.orderedBuffer[ch], r.orderedCursor[ch])
			out = append(out, next)
			r.orderedCursor[ch] = r.orderedCursor[ch].Add(1)
		}
		return out, nil
	}
	if seqnum.Greater(oi, r.orderedCursor[ch]) {
		if len(r.orderedBuffer[ch]) >= int(r.windowSize) {
			return nil, disconnect.NewViolation(disconnect.OrderedBufferOverflow,
				fmt.Sprintf("ordered packet buffer overflow on channel %d", ch))
		}
		r.orderedBuffer[ch][oi] = pk
		return nil, nil
	}
	// order_index < cursor: duplicate, discard.
	return nil, nil
}

func (r *ReceiveLayer) handleSplit(pk *wire.EncapsulatedPacket) (*wire.EncapsulatedPacket, error) {
	if pk.Split == nil {
		return pk, nil
	}
	info := pk.Split
	if info.PartCount == 0 || info.PartCount >= r.maxSplitPartCount {
		return nil, disconnect.NewViolation(disconnect.SplitPacketTooLarge,
			fmt.Sprintf("invalid split packet part count (%d)", info.PartCount))
	}
	if info.PartIndex >= info.PartCount {
		return nil, disconnect.NewViolation(disconnect.SplitPacketInvalidPartIndex,
			fmt.Sprintf("invalid split packet part index (part index %d, part count %d)", info.PartIndex, info.PartCount))
	}

	asm, ok := r.splitPackets[info.ID]
	if !ok {
		if len(r.splitPackets) >= r.maxConcurrentSplits {
			return nil, disconnect.NewViolation(disconnect.SplitPacketTooManyConcurrent,
				fmt.Sprintf("exceeded concurrent split packet reassembly limit of %d", r.maxConcurrentSplits))
		}
		asm = &splitAssembly{parts: make([]*wire.EncapsulatedPacket, info.PartCount), partCount: info.PartCount}
		r.splitPackets[info.ID] = asm
	}
	if asm.partCount != info.PartCount {
		return nil, disconnect.NewViolation(disconnect.SplitPacketInconsistentHeader,
			fmt.Sprintf("wrong split count %d for split packet %d, expected %d", info.PartCount, info.ID, asm.partCount))
	}
	if asm.parts[info.PartIndex] != nil {
		return nil, nil // duplicate part, ignore
	}
	asm.parts[info.PartIndex] = pk
	asm.filled++

	if asm.filled != int(asm.partCount) {
		return nil, nil
	}

	total := 0
	for _, p := range asm.parts {
		total += len(p.Payload)
	}
	payload := make([]byte, 0, total)
	for _, p := range asm.parts {
		payload = append(payload, p.Payload...)
	}
	delete(r.splitPackets, info.ID)

	first := asm.parts[0]
	return &wire.EncapsulatedPacket{
		Reliability:   first.Reliability,
		MessageIndex:  first.MessageIndex,
		OrderChannel:  first.OrderChannel,
		OrderIndex:    first.OrderIndex,
		SequenceIndex: first.SequenceIndex,
		Payload:       payload,
	}, nil
}

// Update emits the raw wire bytes of one ACK datagram covering ack_queue and
// one NACK datagram covering nack_queue, whichever are non-empty, clearing
// both. The session is responsible for writing these bytes to the socket.
func (r *ReceiveLayer) Update() [][]byte {
	var out [][]byte
	if len(r.ackQueue) > 0 {
		out = append(out, wire.EncodeACKDatagram(keysOf(r.ackQueue)))
		r.ackQueue = make(map[seqnum.Num]struct{})
	}
	if len(r.nackQueue) > 0 {
		out = append(out, wire.EncodeNACKDatagram(keysOf(r.nackQueue)))
		r.nackQueue = make(map[seqnum.Num]struct{})
	}
	return out
}

// NeedsUpdate reports whether there are any queued ACKs or NACKs to emit.
func (r *ReceiveLayer) NeedsUpdate() bool {
	return len(r.ackQueue) > 0 || len(r.nackQueue) > 0
}

func keysOf(m map[seqnum.Num]struct{}) []seqnum.Num {
	out := make([]seqnum.Num, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
