package meshstore

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by PersistentStore.LoadIdentitySeed when no seed
// has ever been saved to the store.
var ErrNotFound = errors.New("meshstore: key not found")

const (
	keyIdentitySeed = "identity/seed"
	favoritePrefix  = "favorite/"
)

// PersistentStore is the on-disk half of §6's "recommended minimum"
// persistent state: the local node's identity seed and its favorites
// fingerprint list. Everything else the core touches (seen-set, sessions,
// fragment buffers) stays in-memory and never reaches this store.
type PersistentStore struct {
	db *pebble.DB
}

// OpenPersistentStore opens (creating if necessary) a pebble database at dir.
func OpenPersistentStore(dir string) (*PersistentStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PersistentStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *PersistentStore) Close() error {
	return s.db.Close()
}

// SaveIdentitySeed persists the node's Ed25519 seed so a restart can
// reload the same static identity instead of generating a fresh one.
func (s *PersistentStore) SaveIdentitySeed(seed []byte) error {
	return s.db.Set([]byte(keyIdentitySeed), seed, pebble.Sync)
}

// LoadIdentitySeed returns the previously saved seed, or ErrNotFound if
// this store has never had one saved.
func (s *PersistentStore) LoadIdentitySeed() ([]byte, error) {
	v, closer, err := s.db.Get([]byte(keyIdentitySeed))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// AddFavorite records fingerprint as a favorited peer.
func (s *PersistentStore) AddFavorite(fingerprint string) error {
	return s.db.Set([]byte(favoritePrefix+fingerprint), []byte{1}, pebble.Sync)
}

// RemoveFavorite un-favorites fingerprint, if present.
func (s *PersistentStore) RemoveFavorite(fingerprint string) error {
	return s.db.Delete([]byte(favoritePrefix+fingerprint), pebble.Sync)
}

// ListFavorites returns every currently favorited fingerprint.
func (s *PersistentStore) ListFavorites() ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(favoritePrefix),
		UpperBound: []byte(favoritePrefix + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, string(iter.Key()[len(favoritePrefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}
