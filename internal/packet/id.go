package packet

import (
	"encoding/binary"

	"github.com/multiformats/go-multihash"
	"lukechampine.com/blake3"
)

// blake3MulticodecCode is the multicodec table entry for blake3-256
// (https://github.com/multiformats/multicodec, "blake3" = 0x1e). Wrapping
// the raw digest in a multihash makes the packet ID self-describing: any
// future revision of the digest function can coexist on the wire without
// breaking peers that only know how to compare IDs opaquely.
const blake3MulticodecCode = 0x1e

// ID is the stable identifier derived from (sender_id, timestamp, type,
// payload), used for seen-set dedup and sync reconciliation (§3).
type ID []byte

// Key returns a comparable, map-key-safe representation of the ID.
func (id ID) Key() string {
	return string(id)
}

func (id ID) String() string {
	return multihash.Multihash(id).HexString()
}

// Equal reports whether two IDs carry the same bytes.
func (id ID) Equal(other ID) bool {
	return string(id) == string(other)
}

// ComputeID derives the packet ID per §3: a stable digest of
// (sender_id, timestamp, type, payload).
func ComputeID(sender PeerID, timestamp uint64, typ Type, payload []byte) ID {
	h := blake3.New(32, nil)
	h.Write(sender[:])

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], timestamp)
	h.Write(tsBuf[:])

	h.Write([]byte{byte(typ)})
	h.Write(payload)

	digest := h.Sum(nil)

	mh, err := multihash.Encode(digest, blake3MulticodecCode)
	if err != nil {
		// Encode only fails on an invalid code or a digest/length
		// mismatch, neither of which can happen with fixed inputs above.
		panic("packet: multihash encode: " + err.Error())
	}
	return ID(mh)
}
