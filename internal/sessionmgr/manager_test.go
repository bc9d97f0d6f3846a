package sessionmgr

import (
	"encoding/hex"
	"testing"

	"github.com/flynn/noise"

	"github.com/gosuda/bitchat-mesh/internal/noisesession"
	"github.com/gosuda/bitchat-mesh/internal/packet"
)

type recordingObserver struct {
	established []packet.PeerID
	failed      []packet.PeerID
}

func (r *recordingObserver) OnSessionEstablished(peerID packet.PeerID, _ *noisesession.Session) {
	r.established = append(r.established, peerID)
}

func (r *recordingObserver) OnSessionFailed(peerID packet.PeerID, _ error) {
	r.failed = append(r.failed, peerID)
}

func mustKeypair(t *testing.T) (noise.DHKey, string) {
	t.Helper()
	k, err := noisesession.GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("GenerateStaticKeypair: %v", err)
	}
	return k, hex.EncodeToString(k.Public)
}

// driveHandshake fully establishes a session between two managers for a
// given peerID pair, exercising InitiateHandshake/HandleIncoming end to end.
func driveHandshake(t *testing.T, a, b *Manager, aID, bID packet.PeerID, aHex, bHex string) {
	t.Helper()

	msg1, err := a.InitiateHandshake(bID)
	if err != nil {
		t.Fatalf("a.InitiateHandshake: %v", err)
	}

	msg2, establishedB, err := b.HandleIncoming(aID, aHex, msg1)
	if err != nil {
		t.Fatalf("b.HandleIncoming msg1: %v", err)
	}
	if establishedB != nil {
		t.Fatal("b should not be established after msg1")
	}

	msg3, establishedA, err := a.HandleIncoming(bID, bHex, msg2)
	if err != nil {
		t.Fatalf("a.HandleIncoming msg2: %v", err)
	}
	if establishedA == nil {
		t.Fatal("a should be established after msg2->msg3")
	}

	_, establishedB2, err := b.HandleIncoming(aID, aHex, msg3)
	if err != nil {
		t.Fatalf("b.HandleIncoming msg3: %v", err)
	}
	if establishedB2 == nil {
		t.Fatal("b should be established after msg3")
	}
}

func TestEstablishSessionBothSides(t *testing.T) {
	aKey, aHex := mustKeypair(t)
	bKey, bHex := mustKeypair(t)

	a := New(aKey)
	b := New(bKey)

	aID := packet.PeerID{0xA}
	bID := packet.PeerID{0xB}

	driveHandshake(t, a, b, aID, bID, aHex, bHex)

	if _, ok := a.Session(bID); !ok {
		t.Fatal("a has no session for b after handshake")
	}
	if _, ok := b.Session(aID); !ok {
		t.Fatal("b has no session for a after handshake")
	}
}

func TestObserverNotifiedOnEstablish(t *testing.T) {
	aKey, aHex := mustKeypair(t)
	bKey, bHex := mustKeypair(t)

	a := New(aKey)
	b := New(bKey)
	obsA := &recordingObserver{}
	obsB := &recordingObserver{}
	a.AddObserver(obsA)
	b.AddObserver(obsB)

	aID := packet.PeerID{0xA}
	bID := packet.PeerID{0xB}
	driveHandshake(t, a, b, aID, bID, aHex, bHex)

	if len(obsA.established) != 1 || obsA.established[0] != bID {
		t.Fatalf("expected a's observer to see b established, got %+v", obsA.established)
	}
	if len(obsB.established) != 1 || obsB.established[0] != aID {
		t.Fatalf("expected b's observer to see a established, got %+v", obsB.established)
	}
}

// TestHandshakeStormTieBreaker is the S6 scenario: both peers simultaneously
// send a fresh msg1 to each other. Only the side with the lexicographically
// smaller static public key should end up as initiator; the loser's
// competing msg1 is dropped in favor of finishing the handshake it's
// already responding to.
func TestHandshakeStormTieBreaker(t *testing.T) {
	aKey, aHex := mustKeypair(t)
	bKey, bHex := mustKeypair(t)

	// Ensure deterministic winner regardless of random key generation order.
	winnerHex, loserHex := aHex, bHex
	winnerKey, loserKey := aKey, bKey
	if loserHex < winnerHex {
		winnerHex, loserHex = loserHex, winnerHex
		winnerKey, loserKey = loserKey, winnerKey
	}

	winner := New(winnerKey)
	loser := New(loserKey)

	winnerID := packet.PeerID{0x1}
	loserID := packet.PeerID{0x2}

	// Both sides initiate at "the same time".
	winnerMsg1, err := winner.InitiateHandshake(loserID)
	if err != nil {
		t.Fatalf("winner.InitiateHandshake: %v", err)
	}
	loserMsg1, err := loser.InitiateHandshake(winnerID)
	if err != nil {
		t.Fatalf("loser.InitiateHandshake: %v", err)
	}

	// Winner receives loser's competing msg1: since winner's key ties
	// lower, winner keeps initiating and ignores loser's msg1.
	out, established, err := winner.HandleIncoming(loserID, loserHex, loserMsg1)
	if err != nil {
		t.Fatalf("winner.HandleIncoming(loserMsg1): %v", err)
	}
	if out != nil || established != nil {
		t.Fatal("winner should have ignored the loser's competing msg1")
	}

	// Loser receives winner's msg1: loser's own pending attempt loses the
	// tie (loserHex > winnerHex), so it tears down and responds instead.
	msg2, established, err := loser.HandleIncoming(winnerID, winnerHex, winnerMsg1)
	if err != nil {
		t.Fatalf("loser.HandleIncoming(winnerMsg1): %v", err)
	}
	if established != nil {
		t.Fatal("loser should not be established yet")
	}

	msg3, established, err := winner.HandleIncoming(loserID, loserHex, msg2)
	if err != nil {
		t.Fatalf("winner.HandleIncoming(msg2): %v", err)
	}
	if established == nil {
		t.Fatal("winner should be established after msg2")
	}

	_, established, err = loser.HandleIncoming(winnerID, winnerHex, msg3)
	if err != nil {
		t.Fatalf("loser.HandleIncoming(msg3): %v", err)
	}
	if established == nil {
		t.Fatal("loser should be established after msg3")
	}

	if _, ok := winner.Session(loserID); !ok {
		t.Fatal("winner missing session")
	}
	if _, ok := loser.Session(winnerID); !ok {
		t.Fatal("loser missing session")
	}
}

func TestMaxSessionsEviction(t *testing.T) {
	localKey, _ := mustKeypair(t)
	m := New(localKey)

	for i := 0; i < MaxSessions+5; i++ {
		peerKey, peerHex := mustKeypair(t)
		peer := New(peerKey)

		peerID := packet.PeerID{byte(i), byte(i >> 8)}
		localID := packet.PeerID{0xFF, 0xFF}

		driveHandshake(t, m, peer, localID, peerID, hex.EncodeToString(localKey.Public), peerHex)
	}

	m.mu.RLock()
	n := len(m.sessions)
	m.mu.RUnlock()
	if n > MaxSessions {
		t.Fatalf("session table grew to %d, want <= %d", n, MaxSessions)
	}
}
