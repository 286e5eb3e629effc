// Package seqnum implements the 24-bit modular sequence-number arithmetic
// RakNet uses for datagram sequence numbers, reliable message indices, and
// per-channel order/sequence indices.
package seqnum

// Num is a 24-bit counter that wraps modulo 2^24. Only the low 24 bits are
// ever significant; callers must mask inputs that may carry garbage in the
// high byte.
type Num uint32

const (
	bits = 24
	mod  = 1 << bits
	mask = mod - 1
	half = mod / 2 // 2^23
)

// Mask truncates v to the 24-bit counter space.
func Mask(v uint32) Num { return Num(v & mask) }

// Add returns a + delta, wrapped into the 24-bit space.
func (a Num) Add(delta uint32) Num { return Num((uint32(a) + delta) & mask) }

// Less reports whether a precedes b under signed modular distance: a < b iff
// (b-a) mod 2^24 is in (0, 2^23). When a and b are exactly 2^23 apart the
// distance is the same both ways, so the numerically smaller value is the
// lesser one. This is P6's seq_less and is its own complement: for any a, b
// exactly one of Less(a,b), Less(b,a), a==b holds.
func Less(a, b Num) bool {
	if a == b {
		return false
	}
	d := (uint32(b) - uint32(a)) & mask
	if d == half {
		return uint32(a) < uint32(b)
	}
	return d > 0 && d < half
}

// Greater is the mirror of Less.
func Greater(a, b Num) bool { return Less(b, a) }

// LessOrEqual reports a < b || a == b.
func LessOrEqual(a, b Num) bool { return a == b || Less(a, b) }

// Distance returns the modular distance from a to b, i.e. how many Add(1)
// steps take a to b, in [0, 2^24).
func Distance(a, b Num) uint32 { return (uint32(b) - uint32(a)) & mask }
