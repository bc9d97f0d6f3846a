package identity

import (
	"crypto/ed25519"
	"testing"
)

func TestNewCredentialDerivesConsistentStaticKeypair(t *testing.T) {
	c, err := NewCredential()
	if err != nil {
		t.Fatalf("NewCredential: %v", err)
	}
	kp := c.StaticKeypair()
	if len(kp.Private) != 32 || len(kp.Public) != 32 {
		t.Fatalf("expected 32B X25519 keys, got priv=%d pub=%d", len(kp.Private), len(kp.Public))
	}

	c2, err := NewCredentialFromPrivateKey(c.SigningPrivateKey(), c.SigningPublicKey())
	if err != nil {
		t.Fatalf("NewCredentialFromPrivateKey: %v", err)
	}
	if string(c2.StaticKeypair().Public) != string(kp.Public) {
		t.Fatal("re-deriving from the same seed should produce the same static public key")
	}
}

func TestFingerprintIsSHA256Hex(t *testing.T) {
	c, err := NewCredential()
	if err != nil {
		t.Fatalf("NewCredential: %v", err)
	}
	fp := c.Fingerprint(c.SigningPublicKey())
	if len(fp) != 64 {
		t.Fatalf("expected 64 hex chars (SHA-256), got %d: %q", len(fp), fp)
	}
}

func TestSignAndVerify(t *testing.T) {
	c, err := NewCredential()
	if err != nil {
		t.Fatalf("NewCredential: %v", err)
	}
	msg := []byte("hello mesh")
	sig := ed25519.Sign(c.SigningPrivateKey(), msg)
	if !ed25519.Verify(c.SigningPublicKey(), msg, sig) {
		t.Fatal("signature failed to verify")
	}
	if ed25519.Verify(c.SigningPublicKey(), []byte("tampered"), sig) {
		t.Fatal("signature verified against different message")
	}
}
