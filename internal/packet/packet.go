package packet

import (
	"crypto/ed25519"

	"github.com/gosuda/bitchat-mesh/internal/wire"
)

// Packet is the wire atom: a fixed header plus a variable-length typed
// payload, optionally addressed to a single recipient and optionally
// signed (§3).
type Packet struct {
	Version     uint8
	Type        Type
	TTL         uint8
	Timestamp   uint64 // ms since epoch
	SenderID    PeerID
	RecipientID PeerID // zero value means "absent" unless HasRecip is set
	HasRecip    bool
	Payload     []byte
	Signature   []byte // 64 bytes when present
}

// IsBroadcast reports whether the packet has no directed recipient.
func (p *Packet) IsBroadcast() bool {
	return !p.HasRecip
}

func (p *Packet) flags() uint8 {
	var f uint8
	if p.HasRecip {
		f |= FlagHasRecipient
	}
	if len(p.Signature) > 0 {
		f |= FlagHasSignature
	}
	return f
}

// Encode serializes the packet per §4.2: fixed header fields in order,
// flags set for present optional fields, payload, then signature.
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Payload) > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	if len(p.Signature) > 0 && len(p.Signature) != SignatureSize {
		return nil, ErrMalformedPacket
	}

	w := wire.NewWriter(16 + len(p.Payload) + SignatureSize)
	w.PutUint8(p.Version)
	w.PutUint8(uint8(p.Type))
	w.PutUint8(p.TTL)
	w.PutUint64(p.Timestamp)
	w.PutUint8(p.flags())
	w.PutBytes(p.SenderID[:])
	if p.HasRecip {
		w.PutBytes(p.RecipientID[:])
	}
	w.PutUint16(uint16(len(p.Payload)))
	w.PutBytes(p.Payload)
	if len(p.Signature) > 0 {
		w.PutBytes(p.Signature)
	}
	return w.Bytes(), nil
}

// Decode parses a packet per §4.2, verifying the advertised payload
// length against what's actually present. A payload shorter than its
// advertised length returns ErrTruncatedPayload; other framing errors
// return ErrMalformedPacket.
func Decode(data []byte) (*Packet, error) {
	r := wire.NewReader(data)

	version, err := r.Uint8()
	if err != nil {
		return nil, ErrMalformedPacket
	}
	typ, err := r.Uint8()
	if err != nil {
		return nil, ErrMalformedPacket
	}
	ttl, err := r.Uint8()
	if err != nil {
		return nil, ErrMalformedPacket
	}
	ts, err := r.Uint64()
	if err != nil {
		return nil, ErrMalformedPacket
	}
	flags, err := r.Uint8()
	if err != nil {
		return nil, ErrMalformedPacket
	}

	senderBytes, err := r.Bytes(IDSize)
	if err != nil {
		return nil, ErrMalformedPacket
	}

	p := &Packet{
		Version:   version,
		Type:      Type(typ),
		TTL:       ttl,
		Timestamp: ts,
	}
	copy(p.SenderID[:], senderBytes)

	if flags&FlagHasRecipient != 0 {
		recipBytes, err := r.Bytes(IDSize)
		if err != nil {
			return nil, ErrMalformedPacket
		}
		copy(p.RecipientID[:], recipBytes)
		p.HasRecip = true
	}

	payloadLen, err := r.Uint16()
	if err != nil {
		return nil, ErrMalformedPacket
	}

	wantSig := flags&FlagHasSignature != 0
	remainingAfterPayload := r.Remaining() - int(payloadLen)
	if remainingAfterPayload < 0 {
		return nil, ErrTruncatedPayload
	}
	if wantSig && remainingAfterPayload != SignatureSize {
		return nil, ErrMalformedPacket
	}
	if !wantSig && remainingAfterPayload != 0 {
		return nil, ErrMalformedPacket
	}

	payload, err := r.CopyBytes(int(payloadLen))
	if err != nil {
		return nil, ErrMalformedPacket
	}
	p.Payload = payload

	if wantSig {
		sig, err := r.CopyBytes(SignatureSize)
		if err != nil {
			return nil, ErrMalformedPacket
		}
		p.Signature = sig
	}

	return p, nil
}

// SignableBytes returns the header+payload bytes a signature must cover,
// i.e. the packet as encoded with an empty signature (§4.2: "signatures
// cover the serialized header + payload excluding the signature field
// itself").
func (p *Packet) SignableBytes() ([]byte, error) {
	clone := *p
	clone.Signature = nil
	return clone.Encode()
}

// Sign computes and attaches an Ed25519 signature over SignableBytes.
func (p *Packet) Sign(priv ed25519.PrivateKey) error {
	msg, err := p.SignableBytes()
	if err != nil {
		return err
	}
	p.Signature = ed25519.Sign(priv, msg)
	return nil
}

// VerifySignature checks the attached signature against pub. Returns
// false if no signature is present.
func (p *Packet) VerifySignature(pub ed25519.PublicKey) bool {
	if len(p.Signature) != SignatureSize {
		return false
	}
	msg, err := p.SignableBytes()
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, msg, p.Signature)
}

// ID derives the packet's stable dedup/sync identifier (§3).
func (p *Packet) ID() ID {
	return ComputeID(p.SenderID, p.Timestamp, p.Type, p.Payload)
}
