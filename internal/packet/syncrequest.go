package packet

import (
	"encoding/binary"
	"errors"
)

// REQUEST_SYNC TLV tags (2-byte length prefix: the GCS bitstream can run
// well past 255 bytes).
const (
	SyncTagP              uint8 = 0x01
	SyncTagM              uint8 = 0x02
	SyncTagBits           uint8 = 0x03
	SyncTagTypeFilter     uint8 = 0x04
	SyncTagSinceTimestamp uint8 = 0x05
	SyncTagFragmentFilter uint8 = 0x06
)

var syncKnownTags = map[uint8]bool{
	SyncTagP: true, SyncTagM: true, SyncTagBits: true,
	SyncTagTypeFilter: true, SyncTagSinceTimestamp: true, SyncTagFragmentFilter: true,
}

// ErrMissingSyncFields is returned when P, M, or Bits is absent from a
// REQUEST_SYNC payload.
var ErrMissingSyncFields = errors.New("packet: REQUEST_SYNC missing required P/M/Bits field")

// RequestSync is the decoded REQUEST_SYNC (0x30) payload: a GCS filter
// plus optional narrowing criteria (§4.8).
type RequestSync struct {
	P    uint8
	M    uint64
	Bits []byte

	HasTypeFilter bool
	TypeFilter    Type

	HasSince       bool
	SinceTimestamp uint64

	HasFragmentFilter bool
	FragmentFilter    [8]byte
}

// EncodeRequestSync serializes s as a TLV payload.
func EncodeRequestSync(s *RequestSync) []byte {
	tw := NewTLVWriter(2)
	tw.PutUint8(SyncTagP, s.P)
	tw.PutUint64(SyncTagM, s.M)
	tw.Put(SyncTagBits, s.Bits)
	if s.HasTypeFilter {
		tw.PutUint8(SyncTagTypeFilter, uint8(s.TypeFilter))
	}
	if s.HasSince {
		tw.PutUint64(SyncTagSinceTimestamp, s.SinceTimestamp)
	}
	if s.HasFragmentFilter {
		tw.Put(SyncTagFragmentFilter, s.FragmentFilter[:])
	}
	return tw.Bytes()
}

// DecodeRequestSync parses a REQUEST_SYNC payload, tolerating unknown TLV
// types for forward compatibility.
func DecodeRequestSync(payload []byte) (*RequestSync, error) {
	fields, err := DecodeTLVs(payload, 2, true, syncKnownTags)
	if err != nil {
		return nil, err
	}

	s := &RequestSync{}
	pField, hasP := FirstField(fields, SyncTagP)
	mField, hasM := FirstField(fields, SyncTagM)
	bitsField, hasBits := FirstField(fields, SyncTagBits)
	if !hasP || len(pField) != 1 || !hasM || len(mField) != 8 || !hasBits {
		return nil, ErrMissingSyncFields
	}
	s.P = pField[0]
	s.M = binary.BigEndian.Uint64(mField)
	s.Bits = bitsField

	if v, ok := FirstField(fields, SyncTagTypeFilter); ok && len(v) == 1 {
		s.TypeFilter = Type(v[0])
		s.HasTypeFilter = true
	}
	if v, ok := FirstField(fields, SyncTagSinceTimestamp); ok && len(v) == 8 {
		s.SinceTimestamp = binary.BigEndian.Uint64(v)
		s.HasSince = true
	}
	if v, ok := FirstField(fields, SyncTagFragmentFilter); ok && len(v) == 8 {
		copy(s.FragmentFilter[:], v)
		s.HasFragmentFilter = true
	}

	return s, nil
}
