package wire

import (
	"fmt"
	"net/netip"

	"github.com/ventosilenzioso/raknetd/internal/bitio"
)

// WriteAddress encodes a RakNet "system address": an IPv4 entry is a version
// byte (4), four bitwise-inverted octets, and a big-endian port; an IPv6
// entry is a version byte (6), a little-endian family word, a big-endian
// port, a big-endian flow label, the 16 raw address bytes, and a big-endian
// scope id. The IPv4 octet inversion is a RakNet wire-format quirk, not a
// typo: real clients expect it.
func WriteAddress(w *bitio.Writer, ap netip.AddrPort) {
	addr := ap.Addr()
	if addr.Is4() || addr.Is4In6() {
		w.WriteByte(4)
		b := addr.As4()
		for _, o := range b {
			w.WriteByte(^o)
		}
		w.WriteUint16BE(ap.Port())
		return
	}
	w.WriteByte(6)
	w.WriteUint16LE(unix_AF_INET6)
	w.WriteUint16BE(ap.Port())
	w.WriteUint32BE(0) // flow info
	b := addr.As16()
	w.WriteBytes(b[:])
	w.WriteUint32BE(0) // scope id
}

// unix_AF_INET6 is the address-family constant RakNet embeds for IPv6
// entries; it is wire-format data, not a syscall constant, so it is defined
// locally rather than imported from golang.org/x/sys.
const unix_AF_INET6 = 10

// ReadAddress decodes a system address written by WriteAddress.
func ReadAddress(r *bitio.Reader) (netip.AddrPort, error) {
	version, err := r.ReadByte()
	if err != nil {
		return netip.AddrPort{}, ErrBadPacket
	}
	switch version {
	case 4:
		raw, err := r.ReadBytes(4)
		if err != nil {
			return netip.AddrPort{}, ErrBadPacket
		}
		var b [4]byte
		for i, o := range raw {
			b[i] = ^o
		}
		port, err := r.ReadUint16BE()
		if err != nil {
			return netip.AddrPort{}, ErrBadPacket
		}
		return netip.AddrPortFrom(netip.AddrFrom4(b), port), nil
	case 6:
		if _, err := r.ReadUint16LE(); err != nil {
			return netip.AddrPort{}, ErrBadPacket
		}
		port, err := r.ReadUint16BE()
		if err != nil {
			return netip.AddrPort{}, ErrBadPacket
		}
		if _, err := r.ReadUint32BE(); err != nil {
			return netip.AddrPort{}, ErrBadPacket
		}
		raw, err := r.ReadBytes(16)
		if err != nil {
			return netip.AddrPort{}, ErrBadPacket
		}
		var b [16]byte
		copy(b[:], raw)
		if _, err := r.ReadUint32BE(); err != nil {
			return netip.AddrPort{}, ErrBadPacket
		}
		return netip.AddrPortFrom(netip.AddrFrom16(b), port), nil
	default:
		return netip.AddrPort{}, fmt.Errorf("%w: unsupported address version %d", ErrBadPacket, version)
	}
}

// DummySystemAddress is the 0.0.0.0:0 entry used to pad the fixed
// SystemAddressSlots list.
var DummySystemAddress = netip.AddrPortFrom(netip.IPv4Unspecified(), 0)
