package wire

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// EncodeHex lowercases its output, matching every other hex surface in
// the mesh (fingerprints, peer IDs).
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeHex accepts upper or lower case and rejects odd-length input.
func DecodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("wire: odd-length hex string %q", s)
	}
	return hex.DecodeString(s)
}

// UUIDString renders 16 raw bytes as a canonical hyphenated UUID string.
func UUIDString(raw [16]byte) string {
	return uuid.UUID(raw).String()
}

// ParseUUID parses a canonical hyphenated UUID string back into 16 raw
// bytes.
func ParseUUID(s string) ([16]byte, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, fmt.Errorf("wire: parse uuid: %w", err)
	}
	return [16]byte(u), nil
}
