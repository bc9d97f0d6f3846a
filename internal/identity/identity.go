// Package identity supplies a node's long-lived cryptographic identity:
// the Curve25519 static keypair used for Noise sessions and the Ed25519
// keypair used for ANNOUNCE/message signing (§6). The credential shape and
// the Ed25519-seed-to-X25519 derivation are grounded on the teacher's
// cryptoops.Credential; the fingerprint format (SHA-256 hex) follows the
// identity-store interface contract rather than the teacher's base32 ID.
package identity

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"

	"github.com/flynn/noise"
)

var ErrInvalidPrivateKey = errors.New("identity: invalid ed25519 private key length")

// Store supplies a node's static cryptographic identity.
type Store interface {
	StaticKeypair() noise.DHKey
	SigningPublicKey() ed25519.PublicKey
	SigningPrivateKey() ed25519.PrivateKey
	Fingerprint(publicKey []byte) string
}

// Credential is the default in-memory Store implementation: one Ed25519
// keypair, from which the Noise X25519 static keypair is deterministically
// derived so a node only needs to persist a single seed.
type Credential struct {
	signingPrivate ed25519.PrivateKey
	signingPublic  ed25519.PublicKey
	staticKeypair  noise.DHKey
}

// NewCredential generates a fresh random Ed25519 identity.
func NewCredential() (*Credential, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewCredentialFromPrivateKey(priv, pub)
}

// NewCredentialFromPrivateKey builds a Credential from an existing Ed25519
// private key, deriving the Noise static keypair from its seed.
func NewCredentialFromPrivateKey(priv ed25519.PrivateKey, pub ed25519.PublicKey) (*Credential, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivateKey
	}
	x25519Priv := deriveX25519PrivateKey(priv)
	defer wipeMemory(x25519Priv)

	curve := ecdh.X25519()
	xPriv, err := curve.NewPrivateKey(x25519Priv)
	if err != nil {
		return nil, err
	}

	return &Credential{
		signingPrivate: priv,
		signingPublic:  pub,
		staticKeypair: noise.DHKey{
			Private: append([]byte(nil), x25519Priv...),
			Public:  xPriv.PublicKey().Bytes(),
		},
	}, nil
}

// StaticKeypair returns the node's Curve25519 static keypair for Noise sessions.
func (c *Credential) StaticKeypair() noise.DHKey { return c.staticKeypair }

// SigningPublicKey returns the Ed25519 public key used to sign ANNOUNCE/message packets.
func (c *Credential) SigningPublicKey() ed25519.PublicKey { return c.signingPublic }

// SigningPrivateKey returns the Ed25519 private key used to sign ANNOUNCE/message packets.
func (c *Credential) SigningPrivateKey() ed25519.PrivateKey { return c.signingPrivate }

// Fingerprint returns the SHA-256 hex digest of publicKey, per the
// identity-store interface contract.
func (c *Credential) Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:])
}

// deriveX25519PrivateKey converts an Ed25519 seed to an X25519 private key
// via SHA-512(seed)[:32] with RFC 7748 clamping.
func deriveX25519PrivateKey(priv ed25519.PrivateKey) []byte {
	h := sha512.Sum512(priv.Seed())
	defer wipeMemory(h[:])

	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	key := make([]byte, 32)
	copy(key, h[:32])
	return key
}

func wipeMemory(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
