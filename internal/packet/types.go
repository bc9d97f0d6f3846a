// Package packet implements the wire packet model (C2): the fixed
// header, flag-gated optional fields, and the typed TLV payload variants
// carried over the mesh.
package packet

import (
	"encoding/hex"
	"errors"
)

// Type identifies the payload variant carried by a Packet.
type Type uint8

const (
	TypeAnnounce            Type = 0x01
	TypeMessage             Type = 0x04
	TypeNoiseHandshakeInit  Type = 0x10
	TypeNoiseHandshakeResp  Type = 0x11
	TypeNoiseHandshakeFinal Type = 0x12
	TypeNoiseEncrypted      Type = 0x13
	TypeFragment            Type = 0x20
	TypeRequestSync         Type = 0x30
	TypeFile                Type = 0x40
)

func (t Type) String() string {
	switch t {
	case TypeAnnounce:
		return "ANNOUNCE"
	case TypeMessage:
		return "MESSAGE"
	case TypeNoiseHandshakeInit:
		return "NOISE_HANDSHAKE_INIT"
	case TypeNoiseHandshakeResp:
		return "NOISE_HANDSHAKE_RESP"
	case TypeNoiseHandshakeFinal:
		return "NOISE_HANDSHAKE_FINAL"
	case TypeNoiseEncrypted:
		return "NOISE_ENCRYPTED"
	case TypeFragment:
		return "FRAGMENT"
	case TypeRequestSync:
		return "REQUEST_SYNC"
	case TypeFile:
		return "FILE"
	default:
		return "UNKNOWN"
	}
}

// Flag bits gate the presence of optional header fields.
const (
	FlagHasRecipient uint8 = 1 << 0
	FlagHasSignature uint8 = 1 << 1
)

// CurrentVersion is the only wire version this implementation emits.
const CurrentVersion uint8 = 1

// InitialTTL is stamped on every locally-originated packet (§4.7 step 8).
const InitialTTL uint8 = 7

const (
	// IDSize is the length in bytes of sender_id and recipient_id fields.
	IDSize = 8
	// SignatureSize is the length in bytes of an Ed25519 signature.
	SignatureSize = 64
	// MaxPayloadLen is the largest payload a single (unfragmented) packet
	// may carry; payload_len is a wire uint16.
	MaxPayloadLen = 65535
)

var (
	ErrMalformedPacket  = errors.New("packet: malformed packet")
	ErrPayloadTooLarge  = errors.New("packet: payload exceeds 65535 bytes")
	ErrUnknownTLVType   = errors.New("packet: unknown TLV type in strict payload")
	ErrTruncatedPayload = errors.New("packet: payload shorter than declared length")
)

// PeerID is the 8-byte sender/recipient identifier.
type PeerID [IDSize]byte

// IsZero reports whether the ID is the all-zero broadcast placeholder.
func (p PeerID) IsZero() bool {
	return p == PeerID{}
}

// String returns the lowercase hex encoding of the ID.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}
