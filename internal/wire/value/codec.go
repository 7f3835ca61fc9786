// Package value implements the binary primitive codec, the primitive
// value tagged union, and the Object-or-token wire value described in
// spec.md §4.4: a length-prefixed "blob" form for variable-length data,
// fixed-width forms for numerics, all big-endian (only the outer frame
// header is little-endian per spec.md §4.1).
package value

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrEOF is returned when a read runs past the end of the buffer.
var ErrEOF = errors.New("value: unexpected end of data")

// Reader decodes primitives from an in-memory buffer. Frame bodies are
// fully buffered by the transport before a handler ever sees them, so
// Reader only needs buffer mode.
type Reader struct {
	buf    []byte
	offset int
}

func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

func (r *Reader) Remaining() int { return len(r.buf) - r.offset }

func (r *Reader) take(n int) ([]byte, error) {
	if r.offset+n > len(r.buf) {
		return nil, ErrEOF
	}
	b := r.buf[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *Reader) ReadByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func (r *Reader) ReadInt16() (int16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadBlob reads a length-prefixed byte slice. Lengths up to 253 fit in
// a single byte; 255 flags a 16-bit length; 254 flags a 32-bit length.
func (r *Reader) ReadBlob() ([]byte, error) {
	lead, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch lead {
	case 0:
		return []byte{}, nil
	case 255:
		n, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		return r.take(int(n))
	case 254:
		n, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		return r.take(int(n))
	default:
		return r.take(int(lead))
	}
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBlob()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Writer encodes primitives into a growable buffer.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{buf: make([]byte, 0, 64)} }

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) WriteByte(v byte) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) WriteBool(v bool) *Writer {
	if v {
		return w.WriteByte(1)
	}
	return w.WriteByte(0)
}

func (w *Writer) WriteInt16(v int16) *Writer {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) WriteUint16(v uint16) *Writer {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) WriteInt32(v int32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) WriteUint32(v uint32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) WriteInt64(v int64) *Writer {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) WriteUint64(v uint64) *Writer {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) WriteFloat32(v float32) *Writer {
	return w.WriteUint32(math.Float32bits(v))
}

func (w *Writer) WriteFloat64(v float64) *Writer {
	return w.WriteUint64(math.Float64bits(v))
}

func (w *Writer) WriteBlob(v []byte) *Writer {
	switch {
	case len(v) == 0:
		w.WriteByte(0)
	case len(v) <= 253:
		w.WriteByte(byte(len(v)))
		w.buf = append(w.buf, v...)
	case len(v) <= 0xFFFF:
		w.WriteByte(255)
		w.WriteUint16(uint16(len(v)))
		w.buf = append(w.buf, v...)
	default:
		w.WriteByte(254)
		w.WriteUint32(uint32(len(v)))
		w.buf = append(w.buf, v...)
	}
	return w
}

func (w *Writer) WriteString(s string) *Writer {
	return w.WriteBlob([]byte(s))
}
