// Package fragment implements splitting and reassembly of payloads
// exceeding the effective transport MTU (C3 in the design doc, §4.3).
package fragment

import (
	"crypto/rand"
	"errors"

	"github.com/gosuda/bitchat-mesh/internal/packet"
	"github.com/gosuda/bitchat-mesh/internal/wire"
)

// HeaderSize is the fixed 13-byte fragment header: 8-byte fragment_id,
// 2-byte index, 2-byte total, 1-byte original_type.
const HeaderSize = 13

// DefaultMaxSize is the conservative default fragment threshold
// (F_max), chosen so a fragmented chunk plus its header still fits a
// typical BLE-constrained MTU.
const DefaultMaxSize = 500

var (
	ErrPayloadEmpty  = errors.New("fragment: payload is empty")
	ErrInvalidHeader = errors.New("fragment: invalid fragment header")
	ErrInvalidIndex  = errors.New("fragment: index out of range")
	ErrEmptyData     = errors.New("fragment: empty fragment data")
)

// Fragment is one decoded slice of a larger logical packet.
type Fragment struct {
	FragmentID   [8]byte
	Index        uint16
	Total        uint16
	OriginalType packet.Type
	Data         []byte
}

// Encode serializes the fragment header followed by its data.
func (f *Fragment) Encode() []byte {
	w := wire.NewWriter(HeaderSize + len(f.Data))
	w.PutBytes(f.FragmentID[:])
	w.PutUint16(f.Index)
	w.PutUint16(f.Total)
	w.PutUint8(uint8(f.OriginalType))
	w.PutBytes(f.Data)
	return w.Bytes()
}

// Decode parses a single fragment's wire bytes. Invalid fragments
// (index >= total, total == 0, or empty data) are rejected per §4.3.
func Decode(data []byte) (*Fragment, error) {
	r := wire.NewReader(data)

	idBytes, err := r.Bytes(8)
	if err != nil {
		return nil, ErrInvalidHeader
	}
	index, err := r.Uint16()
	if err != nil {
		return nil, ErrInvalidHeader
	}
	total, err := r.Uint16()
	if err != nil {
		return nil, ErrInvalidHeader
	}
	origType, err := r.Uint8()
	if err != nil {
		return nil, ErrInvalidHeader
	}
	body, err := r.CopyBytes(r.Remaining())
	if err != nil {
		return nil, ErrInvalidHeader
	}

	if total == 0 || index >= total {
		return nil, ErrInvalidIndex
	}
	if len(body) == 0 {
		return nil, ErrEmptyData
	}

	f := &Fragment{Index: index, Total: total, OriginalType: packet.Type(origType), Data: body}
	copy(f.FragmentID[:], idBytes)
	return f, nil
}

// Split breaks payload into contiguous chunks of at most maxSize-HeaderSize
// bytes, sharing one random fragment_id, per §4.3's split rule. Returns
// nil if payload does not need fragmenting (caller should send it whole).
func Split(originalType packet.Type, payload []byte, maxSize int) ([]*Fragment, error) {
	if len(payload) == 0 {
		return nil, ErrPayloadEmpty
	}
	chunkSize := maxSize - HeaderSize
	if chunkSize <= 0 {
		return nil, errors.New("fragment: maxSize too small to fit the fragment header")
	}
	if len(payload) <= maxSize {
		return nil, nil
	}

	var fragID [8]byte
	if _, err := rand.Read(fragID[:]); err != nil {
		return nil, err
	}

	total := (len(payload) + chunkSize - 1) / chunkSize
	if total > int(^uint16(0)) {
		return nil, errors.New("fragment: payload too large to fragment")
	}

	frags := make([]*Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := make([]byte, end-start)
		copy(chunk, payload[start:end])
		frags = append(frags, &Fragment{
			FragmentID:   fragID,
			Index:        uint16(i),
			Total:        uint16(total),
			OriginalType: originalType,
			Data:         chunk,
		})
	}
	return frags, nil
}
