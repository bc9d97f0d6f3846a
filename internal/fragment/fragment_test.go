package fragment

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/gosuda/bitchat-mesh/internal/packet"
)

func TestSplitAndReassembleInOrder(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 1200)
	frags, err := Split(packet.TypeMessage, payload, 500)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(frags) != 3 {
		t.Fatalf("expected 3 fragments for 1200B at F_max=500, got %d", len(frags))
	}
	for i, f := range frags {
		if int(f.Index) != i || int(f.Total) != 3 {
			t.Fatalf("fragment %d has wrong index/total: %+v", i, f)
		}
		if len(f.Data) > DefaultMaxSize-HeaderSize {
			t.Fatalf("fragment %d chunk too large: %d bytes", i, len(f.Data))
		}
	}

	sender := packet.PeerID{1, 2, 3, 4, 5, 6, 7, 8}
	ra := NewReassembler(DefaultExpiry, DefaultMaxBuffers)

	var result []byte
	for _, f := range frags {
		out, _, complete := ra.Add(sender, f)
		if complete {
			result = out
		}
	}
	if !bytes.Equal(result, payload) {
		t.Fatalf("reassembled payload mismatch: got %d bytes, want %d", len(result), len(payload))
	}
}

func TestReassembleOutOfOrder(t *testing.T) {
	payload := bytes.Repeat([]byte{0xCD}, 1200)
	frags, err := Split(packet.TypeMessage, payload, 500)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	rand.Shuffle(len(frags), func(i, j int) { frags[i], frags[j] = frags[j], frags[i] })

	sender := packet.PeerID{9, 9, 9, 9, 9, 9, 9, 9}
	ra := NewReassembler(DefaultExpiry, DefaultMaxBuffers)

	var result []byte
	var complete bool
	for _, f := range frags {
		out, _, ok := ra.Add(sender, f)
		if ok {
			result = out
			complete = true
		}
	}
	if !complete {
		t.Fatal("expected assembly to complete")
	}
	if !bytes.Equal(result, payload) {
		t.Fatal("out-of-order reassembly did not reproduce the original payload")
	}
}

func TestSplitSkipsSmallPayloads(t *testing.T) {
	small := []byte("short")
	frags, err := Split(packet.TypeMessage, small, 500)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if frags != nil {
		t.Fatal("expected nil fragments for a payload under the threshold")
	}
}

func TestDecodeRejectsInvalidFragments(t *testing.T) {
	// total == 0
	f := &Fragment{Index: 0, Total: 0, Data: []byte{1}}
	if _, err := Decode(f.Encode()); err != ErrInvalidIndex {
		t.Fatalf("expected ErrInvalidIndex for total=0, got %v", err)
	}

	// index >= total
	f2 := &Fragment{Index: 5, Total: 5, Data: []byte{1}}
	if _, err := Decode(f2.Encode()); err != ErrInvalidIndex {
		t.Fatalf("expected ErrInvalidIndex for index>=total, got %v", err)
	}
}

func TestDuplicateIndexFirstWins(t *testing.T) {
	sender := packet.PeerID{1}
	ra := NewReassembler(DefaultExpiry, DefaultMaxBuffers)

	var fragID [8]byte
	copy(fragID[:], []byte("fragidxx"))

	f0 := &Fragment{FragmentID: fragID, Index: 0, Total: 2, Data: []byte("first")}
	f0dup := &Fragment{FragmentID: fragID, Index: 0, Total: 2, Data: []byte("second")}
	f1 := &Fragment{FragmentID: fragID, Index: 1, Total: 2, Data: []byte("-tail")}

	ra.Add(sender, f0)
	ra.Add(sender, f0dup)
	out, _, complete := ra.Add(sender, f1)
	if !complete {
		t.Fatal("expected completion after all indices seen")
	}
	if string(out) != "first-tail" {
		t.Fatalf("expected first write to win, got %q", out)
	}
}

func TestAssemblyExpiresAfterInactivity(t *testing.T) {
	sender := packet.PeerID{1}
	ra := NewReassembler(20*time.Millisecond, DefaultMaxBuffers)

	var fragID [8]byte
	copy(fragID[:], []byte("expireid"))
	f0 := &Fragment{FragmentID: fragID, Index: 0, Total: 2, Data: []byte("a")}
	ra.Add(sender, f0)

	time.Sleep(80 * time.Millisecond)

	if ra.Len() != 0 {
		t.Fatalf("expected expired assembly to be evicted, still have %d buffers", ra.Len())
	}
}
