// Package reliability implements the two per-session reliability state
// machines: the send layer, which turns user messages into reliable,
// ordered, MTU-sized datagrams, and the receive layer, which recovers
// ordered delivery from a lossy, reordering stream of datagrams. Both are
// synchronous and allocation-light: nothing here does I/O or blocks: every
// public method returns the datagrams/packets it produced instead of
// invoking a callback, so a session can batch and send them itself.
package reliability

import (
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ventosilenzioso/raknetd/internal/seqnum"
	"github.com/ventosilenzioso/raknetd/internal/wire"
)

const (
	// DatagramOverhead approximates the IP+UDP+RakNet datagram header cost
	// subtracted from the negotiated MTU to get the payload budget.
	DatagramOverhead = 36 + wire.HeaderSize
	// MinMTU is the smallest MTU accepted for a session; below this the
	// minimum encapsulated header can't fit a usable payload.
	MinMTU = 400
	// DefaultReliableWindowSize is the width of the sliding window over the
	// 24-bit message-index space.
	DefaultReliableWindowSize = 512
	// UnackedRetransmitDelay is how long a retransmit-cache entry sits
	// unacknowledged before its packets are moved to the resend queue.
	UnackedRetransmitDelay = 2 * time.Second
)

type cacheEntry struct {
	packets []*wire.EncapsulatedPacket
	sentAt  time.Time
}

// SendLayer is the per-session send reliability engine (SRL).
type SendLayer struct {
	clock      clockwork.Clock
	maxPayload int

	sendSeq      seqnum.Num
	messageIndex seqnum.Num
	splitID      uint16

	orderedNext   [wire.MaxOrderChannels]seqnum.Num
	sequencedNext [wire.MaxOrderChannels]seqnum.Num

	windowStart seqnum.Num
	windowEnd   seqnum.Num
	windowSize  uint32
	acked       map[seqnum.Num]bool // message_index -> acked

	backlog     map[seqnum.Num]*wire.EncapsulatedPacket
	resendQueue []*wire.EncapsulatedPacket

	retransmitCache map[seqnum.Num]*cacheEntry
	needAck         map[uint32]map[seqnum.Num]struct{}

	pending    []*wire.EncapsulatedPacket
	pendingLen int
}

// NewSendLayer constructs a send layer for a session whose negotiated MTU is
// mtuSize. windowSize of 0 uses DefaultReliableWindowSize.
func NewSendLayer(clock clockwork.Clock, mtuSize uint16, windowSize uint32) (*SendLayer, error) {
	if windowSize == 0 {
		windowSize = DefaultReliableWindowSize
	}
	maxPayload := int(mtuSize) - DatagramOverhead
	if mtuSize < MinMTU || maxPayload <= 0 {
		return nil, fmt.Errorf("reliability: MTU %d is below the minimum of %d", mtuSize, MinMTU)
	}
	return &SendLayer{
		clock:           clock,
		maxPayload:      maxPayload,
		windowEnd:       seqnum.Num(windowSize),
		windowSize:      windowSize,
		acked:           make(map[seqnum.Num]bool),
		backlog:         make(map[seqnum.Num]*wire.EncapsulatedPacket),
		retransmitCache: make(map[seqnum.Num]*cacheEntry),
		needAck:         make(map[uint32]map[seqnum.Num]struct{}),
	}, nil
}

// Enqueue assigns ordering/reliability metadata to payload, splitting it
// across multiple encapsulated packets if it doesn't fit the MTU budget, and
// returns any datagrams that were flushed as a result.
func (s *SendLayer) Enqueue(payload []byte, reliability wire.Reliability, channel byte, immediate bool, ackID uint32, hasAckID bool) ([]*wire.Datagram, error) {
	if channel >= wire.MaxOrderChannels {
		return nil, fmt.Errorf("reliability: invalid order channel %d", channel)
	}
	if hasAckID && !reliability.IsReliable() {
		return nil, fmt.Errorf("reliability: ack receipt requires a reliable delivery mode")
	}

	base := &wire.EncapsulatedPacket{Reliability: reliability, OrderChannel: channel}
	if reliability.IsOrdered() {
		base.OrderIndex = uint32(s.orderedNext[channel])
		s.orderedNext[channel] = s.orderedNext[channel].Add(1)
	} else if reliability.IsSequenced() {
		base.OrderIndex = uint32(s.orderedNext[channel])
		base.SequenceIndex = uint32(s.sequencedNext[channel])
		s.sequencedNext[channel] = s.sequencedNext[channel].Add(1)
	}
	if hasAckID {
		base.AckIdentifier, base.HasAckIdentifier = ackID, true
	}

	var out []*wire.Datagram

	headerLen := base.HeaderLength()
	if len(payload) > s.maxPayload-headerLen {
		splitHeaderLen := headerLen + 10 // split_info adds 4+2+4 bytes
		chunkSize := s.maxPayload - splitHeaderLen
		if chunkSize < 1 {
			return nil, fmt.Errorf("reliability: MTU leaves no room for a split payload chunk")
		}
		s.splitID++
		splitID := s.splitID
		partCount := (len(payload) + chunkSize - 1) / chunkSize
		for i := 0; i < partCount; i++ {
			start := i * chunkSize
			end := start + chunkSize
			if end > len(payload) {
				end = len(payload)
			}
			part := base.Clone()
			part.Split = &wire.SplitInfo{ID: splitID, PartIndex: uint32(i), PartCount: uint32(partCount)}
			part.Payload = append([]byte(nil), payload[start:end]...)
			if reliability.IsReliable() {
				part.MessageIndex = uint32(s.messageIndex)
				s.messageIndex = s.messageIndex.Add(1)
			}
			s.addInternal(part, true, &out)
		}
		return out, nil
	}

	base.Payload = payload
	if reliability.IsReliable() {
		base.MessageIndex = uint32(s.messageIndex)
		s.messageIndex = s.messageIndex.Add(1)
	}
	s.addInternal(base, immediate, &out)
	return out, nil
}

func (s *SendLayer) addInternal(pk *wire.EncapsulatedPacket, immediate bool, out *[]*wire.Datagram) {
	if pk.Reliability.IsReliable() {
		idx := seqnum.Num(pk.MessageIndex)
		if seqnum.Less(idx, s.windowStart) {
			return // already implicitly acked, drop
		}
		if seqnum.LessOrEqual(s.windowEnd, idx) {
			s.backlog[idx] = pk
			return
		}
		s.acked[idx] = false
	}

	if pk.HasAckIdentifier && pk.Reliability.IsReliable() {
		idx := seqnum.Num(pk.MessageIndex)
		if s.needAck[pk.AckIdentifier] == nil {
			s.needAck[pk.AckIdentifier] = make(map[seqnum.Num]struct{})
		}
		s.needAck[pk.AckIdentifier][idx] = struct{}{}
	}

	pkLen := pk.TotalLength()
	if len(s.pending) > 0 && s.pendingLen+pkLen > s.maxPayload {
		s.flush(out)
	}
	s.pending = append(s.pending, pk)
	s.pendingLen += pkLen

	if immediate || s.pendingLen >= s.maxPayload {
		s.flush(out)
	}
}

func (s *SendLayer) flush(out *[]*wire.Datagram) {
	if len(s.pending) == 0 {
		return
	}
	dg := &wire.Datagram{Seq: s.sendSeq, Packets: s.pending}
	s.sendSeq = s.sendSeq.Add(1)

	var resendable []*wire.EncapsulatedPacket
	for _, pk := range dg.Packets {
		if pk.Reliability.IsReliable() {
			resendable = append(resendable, pk.Clone())
		}
	}
	if len(resendable) > 0 {
		s.retransmitCache[dg.Seq] = &cacheEntry{packets: resendable, sentAt: s.clock.Now()}
	}

	*out = append(*out, dg)
	s.pending = nil
	s.pendingLen = 0
}

// OnACK processes an ACK record list and returns the ack_identifiers whose
// every constituent message_index has now been satisfied.
func (s *SendLayer) OnACK(seqs []seqnum.Num) []uint32 {
	var fulfilled []uint32
	for _, seq := range seqs {
		entry, ok := s.retransmitCache[seq]
		if !ok {
			continue
		}
		delete(s.retransmitCache, seq)
		for _, pk := range entry.packets {
			idx := seqnum.Num(pk.MessageIndex)
			if seqnum.Less(idx, s.windowStart) || seqnum.LessOrEqual(s.windowEnd, idx) {
				continue
			}
			wasSent, existed := s.acked[idx]
			if !existed || wasSent {
				continue
			}
			s.acked[idx] = true
			s.slideWindow()

			if pk.HasAckIdentifier {
				if set, ok := s.needAck[pk.AckIdentifier]; ok {
					delete(set, idx)
					if len(set) == 0 {
						delete(s.needAck, pk.AckIdentifier)
						fulfilled = append(fulfilled, pk.AckIdentifier)
					}
				}
			}
		}
	}
	return fulfilled
}

// OnNACK processes a NACK record list, queuing the affected reliable
// packets for immediate resend.
func (s *SendLayer) OnNACK(seqs []seqnum.Num) {
	for _, seq := range seqs {
		entry, ok := s.retransmitCache[seq]
		if !ok {
			continue
		}
		delete(s.retransmitCache, seq)
		s.resendQueue = append(s.resendQueue, entry.packets...)
	}
}

func (s *SendLayer) slideWindow() {
	for {
		acked, ok := s.acked[s.windowStart]
		if !ok || !acked {
			return
		}
		delete(s.acked, s.windowStart)
		s.windowStart = s.windowStart.Add(1)
		s.windowEnd = s.windowEnd.Add(1)
	}
}

// Update runs the periodic per-tick maintenance: scanning the retransmit
// cache for timed-out entries, draining the resend queue, promoting backlog
// entries that have entered the window, and flushing anything pending. It
// returns the datagrams produced.
func (s *SendLayer) Update() []*wire.Datagram {
	var out []*wire.Datagram

	threshold := s.clock.Now().Add(-UnackedRetransmitDelay)
	var timedOut []seqnum.Num
	for seq, entry := range s.retransmitCache {
		if entry.sentAt.Before(threshold) {
			timedOut = append(timedOut, seq)
		}
	}
	for _, seq := range timedOut {
		entry := s.retransmitCache[seq]
		delete(s.retransmitCache, seq)
		s.resendQueue = append(s.resendQueue, entry.packets...)
	}

	resend := s.resendQueue
	s.resendQueue = nil
	for _, pk := range resend {
		if pk.Reliability.IsReliable() && seqnum.Less(seqnum.Num(pk.MessageIndex), s.windowStart) {
			continue
		}
		s.addInternal(pk, false, &out)
	}

	if len(s.backlog) > 0 {
		keys := make([]seqnum.Num, 0, len(s.backlog))
		for k := range s.backlog {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return seqnum.Less(keys[i], keys[j]) })
		for _, k := range keys {
			if seqnum.LessOrEqual(s.windowEnd, k) {
				continue
			}
			pk := s.backlog[k]
			delete(s.backlog, k)
			s.addInternal(pk, false, &out)
		}
	}

	s.flush(&out)
	return out
}

// NeedsUpdate reports whether there is any pending work: a buffered partial
// datagram, backlogged reliable packets, a resend queue, or unacked
// in-flight retransmit-cache entries.
func (s *SendLayer) NeedsUpdate() bool {
	return len(s.pending) > 0 || len(s.backlog) > 0 || len(s.resendQueue) > 0 || len(s.retransmitCache) > 0
}
