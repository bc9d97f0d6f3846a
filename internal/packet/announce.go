package packet

import (
	"encoding/binary"
	"errors"
)

// Identity TLV tags (1-byte length prefix, unknown types skipped on
// decode per §4.2 and §9 Open Question: "adopt the three-key form and
// tolerate the two-key legacy form on decode").
const (
	AnnounceTagNickname   uint8 = 0x01
	AnnounceTagNoiseKey   uint8 = 0x02 // current form: Noise (X25519) static public key
	AnnounceTagSigningKey uint8 = 0x03 // current form: Ed25519 signing public key
	AnnounceTagFeatures   uint8 = 0x04 // optional features bitmask, u32
	AnnounceTagLegacyKey  uint8 = 0x05 // legacy two-key schema: single combined public key
)

var announceKnownTags = map[uint8]bool{
	AnnounceTagNickname:   true,
	AnnounceTagNoiseKey:   true,
	AnnounceTagSigningKey: true,
	AnnounceTagFeatures:   true,
	AnnounceTagLegacyKey:  true,
}

// ErrLegacyAnnounce is returned by DecodeAnnounce when only the legacy
// two-key schema was present. The returned Announce then carries the
// legacy key in SigningKey and leaves NoiseKey unset.
var ErrLegacyAnnounce = errors.New("packet: legacy two-key ANNOUNCE schema")

// Announce is the decoded ANNOUNCE (0x01) identity payload.
type Announce struct {
	Nickname   string
	NoiseKey   []byte // 32 bytes, X25519 static public key
	SigningKey []byte // 32 bytes, Ed25519 public key
	Features   uint32
	HasFeatures bool
	Legacy     bool // true when only AnnounceTagLegacyKey was present
}

// EncodeAnnounce serializes the current three-key schema.
func EncodeAnnounce(a *Announce) []byte {
	tw := NewTLVWriter(1)
	if a.Nickname != "" {
		tw.Put(AnnounceTagNickname, []byte(a.Nickname))
	}
	if len(a.NoiseKey) > 0 {
		tw.Put(AnnounceTagNoiseKey, a.NoiseKey)
	}
	if len(a.SigningKey) > 0 {
		tw.Put(AnnounceTagSigningKey, a.SigningKey)
	}
	if a.HasFeatures {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], a.Features)
		tw.Put(AnnounceTagFeatures, buf[:])
	}
	return tw.Bytes()
}

// DecodeAnnounce parses an ANNOUNCE payload, tolerating unknown TLV
// types (forward compatibility) and the legacy two-key schema.
func DecodeAnnounce(payload []byte) (*Announce, error) {
	fields, err := DecodeTLVs(payload, 1, true, announceKnownTags)
	if err != nil {
		return nil, err
	}

	a := &Announce{}
	if v, ok := FirstField(fields, AnnounceTagNickname); ok {
		a.Nickname = string(v)
	}
	noiseKey, hasNoise := FirstField(fields, AnnounceTagNoiseKey)
	signKey, hasSign := FirstField(fields, AnnounceTagSigningKey)
	if hasNoise {
		a.NoiseKey = noiseKey
	}
	if hasSign {
		a.SigningKey = signKey
	}
	if v, ok := FirstField(fields, AnnounceTagFeatures); ok && len(v) == 4 {
		a.Features = binary.BigEndian.Uint32(v)
		a.HasFeatures = true
	}

	if !hasNoise && !hasSign {
		if legacy, ok := FirstField(fields, AnnounceTagLegacyKey); ok {
			a.Legacy = true
			a.SigningKey = legacy
			return a, ErrLegacyAnnounce
		}
	}

	return a, nil
}
