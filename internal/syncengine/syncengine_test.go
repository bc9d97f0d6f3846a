package syncengine

import (
	"context"
	"sync"
	"testing"

	"github.com/gosuda/bitchat-mesh/internal/meshstore"
	"github.com/gosuda/bitchat-mesh/internal/packet"
	"github.com/gosuda/bitchat-mesh/internal/seenset"
	"github.com/gosuda/bitchat-mesh/internal/transport"
)

type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeSender) Send(_ context.Context, _ transport.Address, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// copy: caller may reuse the backing slice
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func mkPacket(t *testing.T, sender packet.PeerID, ts uint64, payload []byte) (*packet.Packet, []byte) {
	t.Helper()
	pkt := &packet.Packet{
		Version:   packet.CurrentVersion,
		Type:      packet.TypeMessage,
		TTL:       5,
		Timestamp: ts,
		SenderID:  sender,
		Payload:   payload,
	}
	data, err := pkt.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return pkt, data
}

// TestEmitOnceSendsRequestSync verifies the periodic side builds and sends
// a well-formed REQUEST_SYNC reflecting the local seen-set.
func TestEmitOnceSendsRequestSync(t *testing.T) {
	seen := seenset.New(100)
	cache := meshstore.NewCache(100)
	localID := packet.PeerID{0xA}

	sender := packet.PeerID{0xB}
	for i := 0; i < 10; i++ {
		pkt, data := mkPacket(t, sender, uint64(i), []byte("payload"))
		id := pkt.ID()
		seen.Insert(id)
		cache.Put(meshstore.Entry{ID: id, Type: pkt.Type, Timestamp: pkt.Timestamp, Data: data})
	}

	e := New(DefaultConfig(), seen, cache)
	fs := &fakeSender{}

	e.emitOnce(context.Background(), fs, "peerAddr", localID)

	if fs.count() != 1 {
		t.Fatalf("expected exactly one REQUEST_SYNC emitted, got %d", fs.count())
	}

	pkt, err := packet.Decode(fs.sent[0])
	if err != nil {
		t.Fatalf("decode emitted packet: %v", err)
	}
	if pkt.Type != packet.TypeRequestSync {
		t.Fatalf("emitted packet type = %v, want TypeRequestSync", pkt.Type)
	}
	if pkt.TTL != 1 {
		t.Fatalf("REQUEST_SYNC must be unicast with TTL=1, got %d", pkt.TTL)
	}

	req, err := packet.DecodeRequestSync(pkt.Payload)
	if err != nil {
		t.Fatalf("DecodeRequestSync: %v", err)
	}
	if req.P < 1 {
		t.Fatalf("invalid P: %d", req.P)
	}
	if req.M == 0 {
		t.Fatal("M must not be zero")
	}
}

// TestHandleRequestSyncRetransmitsMissing is the S5 scenario: a peer's
// filter omits packets we have cached, and we replay exactly those.
func TestHandleRequestSyncRetransmitsMissing(t *testing.T) {
	seen := seenset.New(100)
	cache := meshstore.NewCache(100)

	var peerKnownIDs []packet.ID
	sender := packet.PeerID{0xB}

	// Peer already has packets 0-4.
	for i := 0; i < 5; i++ {
		pkt, _ := mkPacket(t, sender, uint64(i), []byte("known"))
		peerKnownIDs = append(peerKnownIDs, pkt.ID())
	}

	// We additionally have packets 5-9 that the peer is missing.
	for i := 5; i < 10; i++ {
		pkt, data := mkPacket(t, sender, uint64(i), []byte("missing"))
		seen.Insert(pkt.ID())
		cache.Put(meshstore.Entry{ID: pkt.ID(), Type: pkt.Type, Timestamp: pkt.Timestamp, Data: data})
	}
	// Also cache the packets the peer already has, so Walk sees the full set.
	for i, id := range peerKnownIDs {
		cache.Put(meshstore.Entry{ID: id, Type: packet.TypeMessage, Timestamp: uint64(i), Data: []byte("known")})
	}

	peerFilter, err := seenset.Build(10, peerKnownIDs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	req := &packet.RequestSync{P: uint8(peerFilter.P), M: peerFilter.M, Bits: peerFilter.Bits}
	payload := packet.EncodeRequestSync(req)

	e := New(DefaultConfig(), seen, cache)
	fs := &fakeSender{}

	if err := e.HandleRequestSync(context.Background(), fs, "peerAddr", payload); err != nil {
		t.Fatalf("HandleRequestSync: %v", err)
	}

	if fs.count() != 5 {
		t.Fatalf("expected exactly 5 retransmissions, got %d", fs.count())
	}
}

// TestHandleRequestSyncRejectsOversizeFilter enforces the receiver-side
// safety bound on incoming filter size.
func TestHandleRequestSyncRejectsOversizeFilter(t *testing.T) {
	seen := seenset.New(10)
	cache := meshstore.NewCache(10)
	e := New(DefaultConfig(), seen, cache)
	fs := &fakeSender{}

	oversized := make([]byte, seenset.MaxAcceptFilterBytes+1)
	if err := e.HandleRequestSync(context.Background(), fs, "peerAddr", oversized); err == nil {
		t.Fatal("expected rejection of an oversize REQUEST_SYNC payload")
	}
}

// TestHandleRequestSyncRespectsRetransmitCap verifies the per-sync
// retransmission count cap is enforced even when many packets are missing.
func TestHandleRequestSyncRespectsRetransmitCap(t *testing.T) {
	seen := seenset.New(1000)
	cache := meshstore.NewCache(1000)
	sender := packet.PeerID{0xC}

	for i := 0; i < 200; i++ {
		pkt, data := mkPacket(t, sender, uint64(i), []byte("bulk"))
		seen.Insert(pkt.ID())
		cache.Put(meshstore.Entry{ID: pkt.ID(), Type: pkt.Type, Timestamp: pkt.Timestamp, Data: data})
	}

	// Empty peer filter: peer has nothing, so everything is "missing".
	emptyFilter, err := seenset.Build(10, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	req := &packet.RequestSync{P: uint8(emptyFilter.P), M: emptyFilter.M, Bits: emptyFilter.Bits}
	payload := packet.EncodeRequestSync(req)

	cfg := DefaultConfig()
	cfg.MaxRetransmit = 20
	e := New(cfg, seen, cache)
	fs := &fakeSender{}

	if err := e.HandleRequestSync(context.Background(), fs, "peerAddr", payload); err != nil {
		t.Fatalf("HandleRequestSync: %v", err)
	}

	if fs.count() > cfg.MaxRetransmit {
		t.Fatalf("retransmitted %d packets, exceeds cap of %d", fs.count(), cfg.MaxRetransmit)
	}
}
