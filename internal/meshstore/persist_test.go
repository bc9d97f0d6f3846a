package meshstore

import (
	"errors"
	"testing"
)

func openTestStore(t *testing.T) *PersistentStore {
	t.Helper()
	s, err := OpenPersistentStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenPersistentStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPersistentStoreIdentitySeedRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.LoadIdentitySeed(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadIdentitySeed on empty store: got %v, want ErrNotFound", err)
	}

	seed := []byte("0123456789abcdef0123456789abcdef")
	if err := s.SaveIdentitySeed(seed); err != nil {
		t.Fatalf("SaveIdentitySeed: %v", err)
	}

	got, err := s.LoadIdentitySeed()
	if err != nil {
		t.Fatalf("LoadIdentitySeed: %v", err)
	}
	if string(got) != string(seed) {
		t.Fatalf("LoadIdentitySeed = %q, want %q", got, seed)
	}
}

func TestPersistentStoreFavorites(t *testing.T) {
	s := openTestStore(t)

	for _, fp := range []string{"aa", "bb", "cc"} {
		if err := s.AddFavorite(fp); err != nil {
			t.Fatalf("AddFavorite(%q): %v", fp, err)
		}
	}
	if err := s.RemoveFavorite("bb"); err != nil {
		t.Fatalf("RemoveFavorite: %v", err)
	}

	got, err := s.ListFavorites()
	if err != nil {
		t.Fatalf("ListFavorites: %v", err)
	}
	want := map[string]bool{"aa": true, "cc": true}
	if len(got) != len(want) {
		t.Fatalf("ListFavorites = %v, want keys of %v", got, want)
	}
	for _, fp := range got {
		if !want[fp] {
			t.Fatalf("unexpected favorite %q in %v", fp, got)
		}
	}
}
