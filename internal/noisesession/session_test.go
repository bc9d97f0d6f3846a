package noisesession

import (
	"bytes"
	"testing"
	"time"

	"github.com/flynn/noise"

	"github.com/gosuda/bitchat-mesh/internal/packet"
)

func mustKeypair(t *testing.T) noise.DHKey {
	t.Helper()
	k, err := GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("GenerateStaticKeypair: %v", err)
	}
	return k
}

// runHandshake drives both sides of a session to completion and returns
// them Established. Mirrors S1: msg1=32B, msg2=80B, msg3=48B.
func runHandshake(t *testing.T) (initiator, responder *Session) {
	t.Helper()

	aKey := mustKeypair(t)
	bKey := mustKeypair(t)

	initiator = NewSession(packet.PeerID{0xA}, RoleInitiator, aKey)
	responder = NewSession(packet.PeerID{0xB}, RoleResponder, bKey)

	msg1, err := initiator.StartHandshake()
	if err != nil {
		t.Fatalf("StartHandshake: %v", err)
	}
	if len(msg1) != 32 {
		t.Fatalf("msg1 size = %d, want 32", len(msg1))
	}

	msg2, err := responder.ProcessHandshake(msg1)
	if err != nil {
		t.Fatalf("responder process msg1: %v", err)
	}
	if len(msg2) != 80 {
		t.Fatalf("msg2 size = %d, want 80", len(msg2))
	}

	msg3, err := initiator.ProcessHandshake(msg2)
	if err != nil {
		t.Fatalf("initiator process msg2: %v", err)
	}
	if len(msg3) != 48 {
		t.Fatalf("msg3 size = %d, want 48", len(msg3))
	}
	if initiator.State() != StateEstablished {
		t.Fatalf("initiator state = %v, want Established", initiator.State())
	}

	if out, err := responder.ProcessHandshake(msg3); err != nil {
		t.Fatalf("responder process msg3: %v", err)
	} else if out != nil {
		t.Fatalf("expected no output from final responder step, got %d bytes", len(out))
	}
	if responder.State() != StateEstablished {
		t.Fatalf("responder state = %v, want Established", responder.State())
	}

	return initiator, responder
}

func TestHandshakeSizesAndEstablishment(t *testing.T) {
	runHandshake(t)
}

func TestMutualKeyAgreement(t *testing.T) {
	initiator, responder := runHandshake(t)

	if len(initiator.RemoteStaticPublic()) == 0 {
		t.Fatal("initiator has no remote static public key recorded")
	}
	if len(responder.RemoteStaticPublic()) == 0 {
		t.Fatal("responder has no remote static public key recorded")
	}

	ct, err := initiator.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := responder.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "hello" {
		t.Fatalf("decrypted %q, want %q", pt, "hello")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	initiator, responder := runHandshake(t)

	plaintext := []byte("hello")
	ct, err := initiator.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(ct) != len(plaintext)+16 {
		t.Fatalf("ciphertext length = %d, want %d (plaintext + 16B tag)", len(ct), len(plaintext)+16)
	}

	pt, err := responder.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", pt, plaintext)
	}

	// And the reverse direction.
	reply, err := responder.Encrypt([]byte("world"))
	if err != nil {
		t.Fatalf("responder Encrypt: %v", err)
	}
	got, err := initiator.Decrypt(reply)
	if err != nil {
		t.Fatalf("initiator Decrypt: %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("reverse round trip = %q, want %q", got, "world")
	}
}

func TestRejectsOversizeHandshakeMessage(t *testing.T) {
	responder := NewSession(packet.PeerID{0xB}, RoleResponder, mustKeypair(t))
	oversized := make([]byte, maxHandshakeMsgSize+1)
	if _, err := responder.ProcessHandshake(oversized); err == nil {
		t.Fatal("expected error for oversize handshake message")
	}
	if responder.State() != StateFailed {
		t.Fatalf("state = %v, want Failed", responder.State())
	}
}

func TestRejectsWrongSizeHandshakeMessage(t *testing.T) {
	responder := NewSession(packet.PeerID{0xB}, RoleResponder, mustKeypair(t))
	if _, err := responder.ProcessHandshake([]byte("not 32 bytes")); err == nil {
		t.Fatal("expected error for wrong-size msg1")
	}
}

func TestNeedsRekeyOnMessageCount(t *testing.T) {
	initiator, _ := runHandshake(t)

	initiator.mu.Lock()
	initiator.sentCount = rekeyMessageCount + 1
	initiator.mu.Unlock()

	if !initiator.NeedsRekey() {
		t.Fatal("expected NeedsRekey true after exceeding message count threshold")
	}
}

func TestNeedsRekeyOnAge(t *testing.T) {
	initiator, _ := runHandshake(t)

	initiator.mu.Lock()
	initiator.establishedAt = time.Now().Add(-2 * rekeyAge)
	initiator.mu.Unlock()

	if !initiator.NeedsRekey() {
		t.Fatal("expected NeedsRekey true after exceeding age threshold")
	}
}

func TestDestroyZeroizesAndFails(t *testing.T) {
	initiator, _ := runHandshake(t)
	initiator.Destroy()

	if initiator.State() != StateFailed {
		t.Fatalf("state after Destroy = %v, want Failed", initiator.State())
	}
	if _, err := initiator.Encrypt([]byte("x")); err != ErrSessionDestroyed {
		t.Fatalf("Encrypt after Destroy = %v, want ErrSessionDestroyed", err)
	}
}

func TestStartHandshakeWrongRoleRejected(t *testing.T) {
	responder := NewSession(packet.PeerID{0xB}, RoleResponder, mustKeypair(t))
	if _, err := responder.StartHandshake(); err != ErrWrongRole {
		t.Fatalf("expected ErrWrongRole, got %v", err)
	}
}
