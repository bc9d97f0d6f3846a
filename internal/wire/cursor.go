// Package wire implements the binary codec shared by every wire-visible
// type in the mesh: big-endian fixed-width integers, length-prefixed
// strings, and hex/UUID display helpers (C1 in the design doc).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned by Reader methods when the requested field
// does not fully fit in the remaining bytes.
var ErrShortBuffer = errors.New("wire: short buffer")

// Reader is a forward-only cursor over a byte slice. All multi-byte
// integers are big-endian. Reads never panic; a field that doesn't fit
// returns ErrShortBuffer and leaves the cursor unmoved.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding. buf is not copied.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Pos returns the current read offset.
func (r *Reader) Pos() int {
	return r.pos
}

func (r *Reader) need(n int) error {
	if n < 0 || r.Remaining() < n {
		return ErrShortBuffer
	}
	return nil
}

// Bytes reads n raw bytes and advances the cursor. The returned slice
// aliases the underlying buffer.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// CopyBytes is like Bytes but returns an owned copy.
func (r *Reader) CopyBytes(n int) ([]byte, error) {
	b, err := r.Bytes(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Uint8 reads one byte.
func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// Uint16 reads a big-endian uint16.
func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// Uint32 reads a big-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// Uint64 reads a big-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// String reads a length-prefixed UTF-8 string. The prefix is one byte
// when maxLen <= 255, otherwise a big-endian two-byte prefix.
func (r *Reader) String(maxLen int) (string, error) {
	start := r.pos
	var n int
	if maxLen <= 255 {
		b, err := r.Uint8()
		if err != nil {
			return "", err
		}
		n = int(b)
	} else {
		b, err := r.Uint16()
		if err != nil {
			return "", err
		}
		n = int(b)
	}
	if n > maxLen {
		r.pos = start
		return "", fmt.Errorf("wire: string length %d exceeds max %d", n, maxLen)
	}
	b, err := r.Bytes(n)
	if err != nil {
		r.pos = start
		return "", err
	}
	return string(b), nil
}

// Writer is a growable big-endian byte builder. Writes never fail.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer, optionally pre-sized.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// PutBytes appends raw bytes.
func (w *Writer) PutBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// PutUint8 appends one byte.
func (w *Writer) PutUint8(v uint8) {
	w.buf = append(w.buf, v)
}

// PutUint16 appends a big-endian uint16.
func (w *Writer) PutUint16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// PutUint32 appends a big-endian uint32.
func (w *Writer) PutUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// PutUint64 appends a big-endian uint64.
func (w *Writer) PutUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// PutString appends a length-prefixed string using the same 1-or-2-byte
// prefix rule as Reader.String.
func (w *Writer) PutString(s string, maxLen int) error {
	if len(s) > maxLen {
		return fmt.Errorf("wire: string length %d exceeds max %d", len(s), maxLen)
	}
	if maxLen <= 255 {
		w.PutUint8(uint8(len(s)))
	} else {
		w.PutUint16(uint16(len(s)))
	}
	w.buf = append(w.buf, s...)
	return nil
}
