package fragment

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gosuda/bitchat-mesh/internal/packet"
)

// DefaultExpiry is T_frag: how long a partial assembly may sit idle
// before it is discarded (§3, §4.3).
const DefaultExpiry = 30 * time.Second

// DefaultMaxBuffers bounds the number of concurrently in-flight
// reassemblies, guarding against a flood of bogus fragment_ids
// exhausting memory.
const DefaultMaxBuffers = 256

type assembly struct {
	total        uint16
	originalType packet.Type
	chunks       map[uint16][]byte
	firstSeen    time.Time
	size         int
}

// Reassembler tracks in-flight fragment assemblies keyed by
// (sender_id, fragment_id), per §3's fragment assembly buffer. It is
// safe for concurrent use; the map mutex is held only briefly on
// insert/remove per §5's resource policy.
type Reassembler struct {
	mu    sync.Mutex
	cache *lru.LRU[string, *assembly]
}

// NewReassembler builds a Reassembler with the given inactivity expiry
// and max buffer count.
func NewReassembler(expiry time.Duration, maxBuffers int) *Reassembler {
	return &Reassembler{
		cache: lru.NewLRU[string, *assembly](maxBuffers, nil, expiry),
	}
}

func bufferKey(senderID packet.PeerID, fragmentID [8]byte) string {
	var key [16]byte
	copy(key[:8], senderID[:])
	copy(key[8:], fragmentID[:])
	return string(key[:])
}

// Add feeds one fragment into its assembly buffer. When the assembly
// becomes complete (all `total` indices present), it returns the
// concatenated payload and the original packet type. Duplicate indices
// are ignored; first write wins (§4.3).
func (r *Reassembler) Add(senderID packet.PeerID, f *Fragment) (payload []byte, originalType packet.Type, complete bool) {
	key := bufferKey(senderID, f.FragmentID)

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.cache.Get(key)
	if !ok {
		a = &assembly{
			total:        f.Total,
			originalType: f.OriginalType,
			chunks:       make(map[uint16][]byte),
			firstSeen:    time.Now(),
		}
	}

	if _, dup := a.chunks[f.Index]; !dup {
		a.chunks[f.Index] = f.Data
		a.size += len(f.Data)
	}

	// Re-adding refreshes the TTL, approximating "expires after T_frag
	// of inactivity" rather than a fixed deadline from first fragment.
	r.cache.Add(key, a)

	if len(a.chunks) != int(a.total) {
		return nil, 0, false
	}

	out := make([]byte, 0, a.size)
	for i := uint16(0); i < a.total; i++ {
		out = append(out, a.chunks[i]...)
	}
	r.cache.Remove(key)
	return out, a.originalType, true
}

// Len reports the number of in-flight assemblies (for tests/metrics).
func (r *Reassembler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}
