package seenset

import (
	"fmt"
	"testing"

	"github.com/gosuda/bitchat-mesh/internal/packet"
)

func idN(n int) packet.ID {
	return packet.ID(fmt.Sprintf("id-%d", n))
}

func TestSeenSetBoundedAndDedup(t *testing.T) {
	s := New(5)
	for i := 0; i < 10; i++ {
		s.Insert(idN(i))
	}
	if s.Len() != 5 {
		t.Fatalf("expected capacity-bounded length 5, got %d", s.Len())
	}
	// The oldest 5 entries (0-4) should have been evicted.
	for i := 0; i < 5; i++ {
		if s.Contains(idN(i)) {
			t.Fatalf("expected id %d to be evicted", i)
		}
	}
	for i := 5; i < 10; i++ {
		if !s.Contains(idN(i)) {
			t.Fatalf("expected id %d to still be present", i)
		}
	}
}

func TestSeenSetReinsertDoesNotGrow(t *testing.T) {
	s := New(10)
	s.Insert(idN(1))
	s.Insert(idN(1))
	s.Insert(idN(1))
	if s.Len() != 1 {
		t.Fatalf("expected length 1 after repeated insert, got %d", s.Len())
	}
	if added := s.Insert(idN(1)); added {
		t.Fatal("expected Insert to report false for a duplicate")
	}
}

func TestSeenSetCapacityClamped(t *testing.T) {
	tooSmall := New(1)
	if tooSmall.capacity != MinCapacity {
		t.Fatalf("expected capacity clamped to %d, got %d", MinCapacity, tooSmall.capacity)
	}
	tooBig := New(100000)
	if tooBig.capacity != MaxCapacity {
		t.Fatalf("expected capacity clamped to %d, got %d", MaxCapacity, tooBig.capacity)
	}
}

func TestRecentIDsOrderAndLimit(t *testing.T) {
	s := New(10)
	for i := 0; i < 5; i++ {
		s.Insert(idN(i))
	}
	recent := s.RecentIDs(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent ids, got %d", len(recent))
	}
	want := []packet.ID{idN(2), idN(3), idN(4)}
	for i, id := range recent {
		if !id.Equal(want[i]) {
			t.Fatalf("recent[%d] = %s, want %s", i, id, want[i])
		}
	}
}
