package wire

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/raknetd/internal/bitio"
)

func TestAddressRoundTripIPv4(t *testing.T) {
	ap := netip.MustParseAddrPort("203.0.113.7:19132")
	w := bitio.NewWriter()
	WriteAddress(w, ap)

	r := bitio.NewReader(w.Bytes())
	got, err := ReadAddress(r)
	require.NoError(t, err)
	require.Equal(t, ap, got)
}

func TestAddressRoundTripIPv6(t *testing.T) {
	ap := netip.MustParseAddrPort("[2001:db8::1]:19132")
	w := bitio.NewWriter()
	WriteAddress(w, ap)

	r := bitio.NewReader(w.Bytes())
	got, err := ReadAddress(r)
	require.NoError(t, err)
	require.Equal(t, ap, got)
}

func TestAddressIPv4OctetsAreInverted(t *testing.T) {
	ap := netip.MustParseAddrPort("1.2.3.4:80")
	w := bitio.NewWriter()
	WriteAddress(w, ap)

	b := w.Bytes()
	require.Equal(t, byte(4), b[0])
	require.Equal(t, byte(^byte(1)), b[1])
	require.Equal(t, byte(^byte(2)), b[2])
	require.Equal(t, byte(^byte(3)), b[3])
	require.Equal(t, byte(^byte(4)), b[4])
}

func TestReadAddressRejectsUnknownVersion(t *testing.T) {
	r := bitio.NewReader([]byte{9})
	_, err := ReadAddress(r)
	require.ErrorIs(t, err, ErrBadPacket)
}
