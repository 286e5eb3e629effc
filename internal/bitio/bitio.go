// Package bitio provides the byte reader/writer the wire
// codecs are built on. Despite the name it is a plain byte-slice cursor,
// not an actual bit-packed stream: RakNet's header field widths are all
// byte-aligned except the advertised bit-length of an encapsulated
// packet's payload, which callers convert themselves.
package bitio

import "errors"

// ErrShortBuffer is returned by every Read* call that runs past the end of
// the underlying buffer.
var ErrShortBuffer = errors.New("bitio: short buffer")

// Reader walks a byte slice without copying it.
type Reader struct {
	data   []byte
	offset int
}

func NewReader(data []byte) *Reader { return &Reader{data: data} }

// Remaining reports how many unread bytes are left.
func (r *Reader) Remaining() int { return len(r.data) - r.offset }

// Offset reports the current read cursor, and Seek rewinds/advances it.
// Both exist solely so callers can speculatively attempt a variable-length
// read (e.g. a system address entry) and back out if it turns out truncated.
func (r *Reader) Offset() int { return r.offset }

func (r *Reader) Seek(offset int) { r.offset = offset }

func (r *Reader) ReadByte() (byte, error) {
	if r.offset >= len(r.data) {
		return 0, ErrShortBuffer
	}
	b := r.data[r.offset]
	r.offset++
	return b, nil
}

func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, ErrShortBuffer
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

// ReadUint16BE reads a big-endian uint16 (used for the encapsulated payload
// bit-length field).
func (r *Reader) ReadUint16BE() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func (r *Reader) ReadUint32BE() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// ReadUint24LE reads RakNet's 24-bit little-endian triad (sequence numbers,
// message/order/sequence indices).
func (r *Reader) ReadUint24LE() (uint32, error) {
	b, err := r.ReadBytes(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

func (r *Reader) ReadUint16LE() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func (r *Reader) ReadUint64BE() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// Writer accumulates bytes into a growable buffer.
type Writer struct {
	data []byte
}

func NewWriter() *Writer { return &Writer{} }

// NewWriterSize preallocates cap bytes of backing storage.
func NewWriterSize(cap int) *Writer { return &Writer{data: make([]byte, 0, cap)} }

func (w *Writer) WriteByte(b byte) { w.data = append(w.data, b) }

func (w *Writer) WriteBytes(b []byte) { w.data = append(w.data, b...) }

func (w *Writer) WriteUint16BE(v uint16) {
	w.data = append(w.data, byte(v>>8), byte(v))
}

func (w *Writer) WriteUint32BE(v uint32) {
	w.data = append(w.data, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (w *Writer) WriteUint24LE(v uint32) {
	w.data = append(w.data, byte(v), byte(v>>8), byte(v>>16))
}

func (w *Writer) WriteUint16LE(v uint16) {
	w.data = append(w.data, byte(v), byte(v>>8))
}

func (w *Writer) WriteUint64BE(v uint64) {
	for i := 7; i >= 0; i-- {
		w.data = append(w.data, byte(v>>(uint(i)*8)))
	}
}

func (w *Writer) Bytes() []byte { return w.data }

func (w *Writer) Len() int { return len(w.data) }
