package packet

import (
	"github.com/gosuda/bitchat-mesh/internal/wire"
)

// Field is one decoded TLV: a type tag plus its raw value bytes.
type Field struct {
	Type  uint8
	Value []byte
}

// TLVWriter accumulates TLV-encoded fields. LenWidth selects the
// length-prefix width: 1 for identity TLVs (ANNOUNCE), 2 for
// packet-level TLVs (everything else, per §4.2/§6).
type TLVWriter struct {
	w        *wire.Writer
	lenWidth int
}

// NewTLVWriter creates a writer using the given length-prefix width (1 or 2).
func NewTLVWriter(lenWidth int) *TLVWriter {
	return &TLVWriter{w: wire.NewWriter(0), lenWidth: lenWidth}
}

// Put appends one TLV field.
func (t *TLVWriter) Put(typ uint8, value []byte) {
	t.w.PutUint8(typ)
	if t.lenWidth == 1 {
		t.w.PutUint8(uint8(len(value)))
	} else {
		t.w.PutUint16(uint16(len(value)))
	}
	t.w.PutBytes(value)
}

// PutUint8 appends a single-byte TLV value.
func (t *TLVWriter) PutUint8(typ uint8, v uint8) {
	t.Put(typ, []byte{v})
}

// PutUint64 appends an 8-byte big-endian TLV value.
func (t *TLVWriter) PutUint64(typ uint8, v uint64) {
	w := wire.NewWriter(8)
	w.PutUint64(v)
	t.Put(typ, w.Bytes())
}

// Bytes returns the accumulated TLV stream.
func (t *TLVWriter) Bytes() []byte {
	return t.w.Bytes()
}

// DecodeTLVs parses a flat TLV stream using the given length-prefix
// width. When skipUnknown is true, fields whose Type is not present in
// known are skipped rather than rejected (§4.2: ANNOUNCE and
// REQUEST_SYNC tolerate unknown TLV types for forward compatibility;
// PRIVATE_MESSAGE and FRAGMENT are strict).
func DecodeTLVs(data []byte, lenWidth int, skipUnknown bool, known map[uint8]bool) ([]Field, error) {
	r := wire.NewReader(data)
	var fields []Field

	for r.Remaining() > 0 {
		typ, err := r.Uint8()
		if err != nil {
			return nil, ErrMalformedPacket
		}

		var length int
		if lenWidth == 1 {
			l, err := r.Uint8()
			if err != nil {
				return nil, ErrMalformedPacket
			}
			length = int(l)
		} else {
			l, err := r.Uint16()
			if err != nil {
				return nil, ErrMalformedPacket
			}
			length = int(l)
		}

		value, err := r.Bytes(length)
		if err != nil {
			return nil, ErrMalformedPacket
		}

		if !known[typ] {
			if skipUnknown {
				continue
			}
			return nil, ErrUnknownTLVType
		}

		owned := make([]byte, len(value))
		copy(owned, value)
		fields = append(fields, Field{Type: typ, Value: owned})
	}

	return fields, nil
}

// FirstField returns the first field with the given type, if any.
func FirstField(fields []Field, typ uint8) ([]byte, bool) {
	for _, f := range fields {
		if f.Type == typ {
			return f.Value, true
		}
	}
	return nil, false
}
