// Package router implements the mesh relay shell (C7): decode, dedup,
// TTL-gated relay, and local delivery/origination. Concurrency shape
// (RWMutex-guarded maps, one lock per concern) follows the teacher's
// routing.DecisionMaker.
package router

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/bitchat-mesh/internal/fragment"
	"github.com/gosuda/bitchat-mesh/internal/identity"
	"github.com/gosuda/bitchat-mesh/internal/meshstore"
	"github.com/gosuda/bitchat-mesh/internal/metrics"
	"github.com/gosuda/bitchat-mesh/internal/packet"
	"github.com/gosuda/bitchat-mesh/internal/seenset"
	"github.com/gosuda/bitchat-mesh/internal/sessionmgr"
	"github.com/gosuda/bitchat-mesh/internal/syncengine"
	"github.com/gosuda/bitchat-mesh/internal/transport"
)

var ErrRelayDisabled = errors.New("router: relay disabled by policy")

// Delivery is a decoded message handed to the application layer.
type Delivery struct {
	From    packet.PeerID
	Kind    packet.Type
	Inner   packet.InnerKind // set only for NOISE_ENCRYPTED deliveries
	Payload []byte
}

// DeliveryHandler receives application-bound messages.
type DeliveryHandler func(Delivery)

// Config tunes router policy.
type Config struct {
	RelayEnabled bool
	SeenCapacity int
	CacheSize    int
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{RelayEnabled: true, SeenCapacity: seenset.DefaultCapacity, CacheSize: 2048}
}

// Router owns the per-node seen-set, fragment reassembler, and session
// manager, and fans packets out across every registered Transport.
type Router struct {
	localID    packet.PeerID
	credential identity.Store
	cfg        Config

	seen        *seenset.SeenSet
	reassembler *fragment.Reassembler
	sessions    *sessionmgr.Manager
	cache       *meshstore.Cache

	mu              sync.RWMutex
	transports      map[string]transport.Transport
	peerSigningKeys map[packet.PeerID]ed25519.PublicKey
	peerNoiseKeys   map[packet.PeerID][]byte

	onDeliver DeliveryHandler
	metrics   *metrics.Collector
	sync      *syncengine.Engine
}

// SetMetrics attaches a Prometheus collector. Optional; nil leaves the
// router uninstrumented.
func (r *Router) SetMetrics(m *metrics.Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// SetSyncEngine attaches the C8 sync engine so incoming REQUEST_SYNC
// packets (§4.8) are answered by replaying locally-cached packets the
// sender's filter is missing, rather than handed to the application as an
// ordinary directed delivery.
func (r *Router) SetSyncEngine(e *syncengine.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sync = e
}

// New creates a Router for localID, using credential for signing and
// sessions as the established Noise session table.
func New(localID packet.PeerID, credential identity.Store, sessions *sessionmgr.Manager, cfg Config) *Router {
	return &Router{
		localID:         localID,
		credential:      credential,
		cfg:             cfg,
		seen:            seenset.New(cfg.SeenCapacity),
		reassembler:     fragment.NewReassembler(fragment.DefaultExpiry, fragment.DefaultMaxBuffers),
		sessions:        sessions,
		cache:           meshstore.NewCache(cfg.CacheSize),
		transports:      make(map[string]transport.Transport),
		peerSigningKeys: make(map[packet.PeerID]ed25519.PublicKey),
		peerNoiseKeys:   make(map[packet.PeerID][]byte),
	}
}

// SetDeliveryHandler registers the callback invoked for application-bound messages.
func (r *Router) SetDeliveryHandler(h DeliveryHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDeliver = h
}

// RegisterTransport adds t to the set the router fans packets out over.
func (r *Router) RegisterTransport(t transport.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Name()] = t
}

// SeenSet exposes the dedup set for the sync engine to sample.
func (r *Router) SeenSet() *seenset.SeenSet { return r.seen }

// Cache exposes the recent-packet cache for the sync engine to walk.
func (r *Router) Cache() *meshstore.Cache { return r.cache }

func (r *Router) noiseKeyHex(peerID packet.PeerID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.peerNoiseKeys[peerID]
	if !ok {
		return ""
	}
	return hex.EncodeToString(key)
}

// HandleInbound processes a raw frame received from transport ingressName
// at peer address addr, per the C7 relay algorithm.
func (r *Router) HandleInbound(ctx context.Context, ingressName string, addr transport.Address, data []byte) error {
	pkt, err := packet.Decode(data)
	if err != nil {
		log.Debug().Err(err).Str("transport", ingressName).Msg("dropping malformed packet")
		return nil
	}
	return r.process(ctx, ingressName, addr, pkt)
}

func (r *Router) process(ctx context.Context, ingressName string, addr transport.Address, pkt *packet.Packet) error {
	if m := r.metricsRef(); m != nil {
		m.PacketsReceived.WithLabelValues(ingressName).Inc()
	}

	id := pkt.ID()
	if r.seen.Contains(id) {
		if m := r.metricsRef(); m != nil {
			m.PacketsDropped.WithLabelValues("duplicate").Inc()
		}
		return nil // duplicate
	}
	r.seen.Insert(id)
	if pkt.Type != packet.TypeRequestSync {
		// REQUEST_SYNC is link-local and never replayed to other peers.
		r.cache.Put(meshstore.Entry{
			ID:        id,
			Type:      pkt.Type,
			Timestamp: pkt.Timestamp,
			Data:      mustEncode(pkt),
		})
	}
	if m := r.metricsRef(); m != nil {
		m.SeenSetSize.Set(float64(r.seen.Len()))
		m.CacheSize.Set(float64(r.cache.Len()))
	}

	if err := r.checkSignature(pkt); err != nil {
		log.Debug().Err(err).Str("sender", pkt.SenderID.String()).Msg("dropping packet with bad signature")
		if m := r.metricsRef(); m != nil {
			m.PacketsDropped.WithLabelValues("bad_signature").Inc()
		}
		return nil
	}

	if pkt.Type == packet.TypeFragment {
		return r.handleFragment(ctx, ingressName, addr, pkt)
	}

	if pkt.Type == packet.TypeRequestSync {
		// REQUEST_SYNC is unicast to the directly-connected link (§4.8);
		// it carries no recipient_id (the link itself identifies the
		// peer), so it is answered here rather than falling through to
		// the directed/relay branches below.
		r.handleRequestSync(ctx, ingressName, addr, pkt)
		return nil
	}

	directedToUs := pkt.HasRecip && pkt.RecipientID == r.localID
	if directedToUs {
		r.deliverDirected(pkt)
		return nil
	}

	if pkt.IsBroadcast() {
		r.notifyDelivery(Delivery{From: pkt.SenderID, Kind: pkt.Type, Payload: pkt.Payload})
	}
	return r.relay(ctx, ingressName, addr, pkt)
}

func (r *Router) checkSignature(pkt *packet.Packet) error {
	if pkt.Type == packet.TypeAnnounce {
		ann, err := packet.DecodeAnnounce(pkt.Payload)
		if err != nil && !errors.Is(err, packet.ErrLegacyAnnounce) {
			return err
		}
		r.mu.Lock()
		if len(ann.SigningKey) == ed25519.PublicKeySize {
			r.peerSigningKeys[pkt.SenderID] = ed25519.PublicKey(ann.SigningKey)
		}
		if len(ann.NoiseKey) > 0 {
			r.peerNoiseKeys[pkt.SenderID] = ann.NoiseKey
		}
		r.mu.Unlock()

		if len(ann.SigningKey) == ed25519.PublicKeySize {
			if !pkt.VerifySignature(ed25519.PublicKey(ann.SigningKey)) {
				return errors.New("router: announce signature mismatch")
			}
		}
		return nil
	}

	r.mu.RLock()
	knownKey, known := r.peerSigningKeys[pkt.SenderID]
	r.mu.RUnlock()
	if known && len(pkt.Signature) > 0 {
		if !pkt.VerifySignature(knownKey) {
			return errors.New("router: signature mismatch for known peer key")
		}
	}
	return nil
}

func (r *Router) handleFragment(ctx context.Context, ingressName string, addr transport.Address, pkt *packet.Packet) error {
	frag, err := fragment.Decode(pkt.Payload)
	if err != nil {
		return nil
	}
	payload, _, complete := r.reassembler.Add(pkt.SenderID, frag)
	if !complete {
		return nil
	}
	inner, err := packet.Decode(payload)
	if err != nil {
		return nil
	}
	return r.process(ctx, ingressName, addr, inner)
}

// handleRequestSync hands an inbound REQUEST_SYNC (§4.8) to the sync
// engine, which replays locally-cached packets absent from the sender's
// GCS filter back over the same link it arrived on. A no-op if no sync
// engine is attached.
func (r *Router) handleRequestSync(ctx context.Context, ingressName string, addr transport.Address, pkt *packet.Packet) {
	r.mu.RLock()
	eng := r.sync
	sender, ok := r.transports[ingressName]
	r.mu.RUnlock()
	if eng == nil || !ok {
		return
	}
	if err := eng.HandleRequestSync(ctx, sender, addr, pkt.Payload); err != nil {
		log.Debug().Err(err).Str("peer", pkt.SenderID.String()).Msg("rejected REQUEST_SYNC")
		if m := r.metricsRef(); m != nil {
			m.PacketsDropped.WithLabelValues("bad_sync_filter").Inc()
		}
	}
}

func (r *Router) deliverDirected(pkt *packet.Packet) {
	switch pkt.Type {
	case packet.TypeNoiseHandshakeInit, packet.TypeNoiseHandshakeResp, packet.TypeNoiseHandshakeFinal:
		r.handleHandshakePacket(pkt)
	case packet.TypeNoiseEncrypted:
		r.handleEncrypted(pkt)
	default:
		r.notifyDelivery(Delivery{From: pkt.SenderID, Kind: pkt.Type, Payload: pkt.Payload})
	}
}

func (r *Router) handleHandshakePacket(pkt *packet.Packet) {
	remoteHex := r.noiseKeyHex(pkt.SenderID)
	out, established, err := r.sessions.HandleIncoming(pkt.SenderID, remoteHex, pkt.Payload)
	if err != nil {
		log.Debug().Err(err).Str("peer", pkt.SenderID.String()).Msg("handshake step failed")
		return
	}
	if out != nil {
		respType := packet.TypeNoiseHandshakeResp
		if established != nil {
			respType = packet.TypeNoiseHandshakeFinal
		}
		r.sendDirected(pkt.SenderID, respType, out, false)
	}
}

func (r *Router) handleEncrypted(pkt *packet.Packet) {
	sess, ok := r.sessions.Session(pkt.SenderID)
	if !ok {
		log.Debug().Str("peer", pkt.SenderID.String()).Msg("no established session for encrypted packet")
		return
	}
	plaintext, err := sess.Decrypt(pkt.Payload)
	if err != nil {
		log.Debug().Err(err).Str("peer", pkt.SenderID.String()).Msg("decrypt failed")
		return
	}
	if len(plaintext) < 1 {
		return
	}
	r.notifyDelivery(Delivery{
		From:    pkt.SenderID,
		Kind:    pkt.Type,
		Inner:   packet.InnerKind(plaintext[0]),
		Payload: plaintext[1:],
	})
}

func (r *Router) notifyDelivery(d Delivery) {
	r.mu.RLock()
	handler := r.onDeliver
	r.mu.RUnlock()
	if handler != nil {
		handler(d)
	}
}

func (r *Router) relay(ctx context.Context, ingressName string, addr transport.Address, pkt *packet.Packet) error {
	if !r.cfg.RelayEnabled {
		return ErrRelayDisabled
	}
	if pkt.TTL == 0 {
		if m := r.metricsRef(); m != nil {
			m.PacketsDropped.WithLabelValues("ttl_expired").Inc()
		}
		return nil
	}
	pkt.TTL--

	encoded, err := pkt.Encode()
	if err != nil {
		return err
	}
	if m := r.metricsRef(); m != nil {
		m.PacketsRelayed.WithLabelValues(pkt.Type.String()).Inc()
	}
	return r.fanOutExcept(ctx, ingressName, encoded)
}

func (r *Router) metricsRef() *metrics.Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics
}

// fanOutExcept broadcasts data on every registered transport other than
// except, concurrently: one flaky transport must not hold up delivery on
// the rest. A single transport's failure doesn't fail the whole emit, it
// is just aggregated and returned alongside the transports that succeeded.
func (r *Router) fanOutExcept(ctx context.Context, except string, data []byte) error {
	r.mu.RLock()
	targets := make([]transport.Transport, 0, len(r.transports))
	for name, t := range r.transports {
		if name == except {
			continue
		}
		targets = append(targets, t)
	}
	r.mu.RUnlock()

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			if err := t.Broadcast(ctx, data); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// Send originates a new packet locally: stamps sender/timestamp/TTL,
// signs if requested, inserts into the seen-set, and floods it across
// every registered transport.
func (r *Router) Send(ctx context.Context, typ packet.Type, recipient *packet.PeerID, payload []byte, sign bool) error {
	pkt := &packet.Packet{
		Version:   packet.CurrentVersion,
		Type:      typ,
		TTL:       packet.InitialTTL,
		Timestamp: uint64(time.Now().UnixMilli()),
		SenderID:  r.localID,
		Payload:   payload,
	}
	if recipient != nil {
		pkt.HasRecip = true
		pkt.RecipientID = *recipient
	}
	if sign {
		if err := pkt.Sign(r.credential.SigningPrivateKey()); err != nil {
			return err
		}
	}

	r.seen.Insert(pkt.ID())
	if m := r.metricsRef(); m != nil {
		m.PacketsSent.WithLabelValues(typ.String()).Inc()
	}

	data, err := pkt.Encode()
	if err != nil {
		return err
	}
	return r.fanOutExcept(ctx, "", data)
}

// sendDirected is used internally for handshake responses, which must be
// addressed to the originating peer rather than flooded as new local origin.
func (r *Router) sendDirected(recipient packet.PeerID, typ packet.Type, payload []byte, sign bool) {
	if err := r.Send(context.Background(), typ, &recipient, payload, sign); err != nil {
		log.Debug().Err(err).Str("peer", recipient.String()).Msg("failed to send handshake response")
	}
}

// PeerNoiseKey returns the Curve25519 static public key bound to peerID via
// a previously processed ANNOUNCE, if any.
func (r *Router) PeerNoiseKey(peerID packet.PeerID) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.peerNoiseKeys[peerID]
	return k, ok
}

// KnownPeers returns the peer IDs this router has bound a Noise or
// signing key to via ANNOUNCE, for display purposes only (§9: neighbor
// information is a UI hint, never routing input).
func (r *Router) KnownPeers() []packet.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[packet.PeerID]struct{}, len(r.peerNoiseKeys)+len(r.peerSigningKeys))
	for id := range r.peerNoiseKeys {
		seen[id] = struct{}{}
	}
	for id := range r.peerSigningKeys {
		seen[id] = struct{}{}
	}
	ids := make([]packet.PeerID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}

func mustEncode(pkt *packet.Packet) []byte {
	data, err := pkt.Encode()
	if err != nil {
		return nil
	}
	return data
}

// StartSessionManager launches the session manager's background cleanup
// worker.
func (r *Router) StartSessionManager(sess *sessionmgr.Manager) {
	sess.Start()
}

// InitiateHandshake is a convenience used by callers that want to
// originate a handshake toward a peer whose address is only known at the
// router layer (e.g. after an ANNOUNCE).
func (r *Router) InitiateHandshake(ctx context.Context, peerID packet.PeerID) error {
	msg1, err := r.sessions.InitiateHandshake(peerID)
	if err != nil {
		return err
	}
	return r.Send(ctx, packet.TypeNoiseHandshakeInit, &peerID, msg1, false)
}
