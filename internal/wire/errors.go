package wire

import "errors"

// ErrBadPacket is returned by any decoder on truncation, magic mismatch,
// invalid tag, or record-list overflow. Session-level callers translate it
// into a forced disconnect; the offline handler just drops the packet.
var ErrBadPacket = errors.New("wire: bad packet")
