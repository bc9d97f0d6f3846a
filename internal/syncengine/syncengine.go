// Package syncengine implements the periodic gossip reconciliation duty
// (C8): building and emitting REQUEST_SYNC filters, and answering peers'
// filters by replaying packets they're missing, rate-limited.
package syncengine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gosuda/bitchat-mesh/internal/meshstore"
	"github.com/gosuda/bitchat-mesh/internal/metrics"
	"github.com/gosuda/bitchat-mesh/internal/packet"
	"github.com/gosuda/bitchat-mesh/internal/seenset"
	"github.com/gosuda/bitchat-mesh/internal/transport"
)

// Config tunes the sync engine's periodic behavior and anti-flood limits.
type Config struct {
	Interval        time.Duration
	MaxFilterBytes  int
	TargetFPR       float64
	MaxRetransmit   int           // per-sync retransmission count cap
	MaxBytesPerSync int           // per-sync byte budget cap
	RetransmitRate  rate.Limit    // sustained retransmissions/sec across all syncs
	RetransmitBurst int
}

// DefaultConfig returns the §4.8 defaults: 10s interval, 512-byte filters.
func DefaultConfig() Config {
	return Config{
		Interval:        10 * time.Second,
		MaxFilterBytes:  512,
		TargetFPR:       0.01,
		MaxRetransmit:   64,
		MaxBytesPerSync: 64 * 1024,
		RetransmitRate:  rate.Limit(200),
		RetransmitBurst: 400,
	}
}

// Sender is the narrow transport capability the engine needs: unicast
// delivery of a REQUEST_SYNC or a replayed packet to one peer over the
// link it arrived on.
type Sender interface {
	Send(ctx context.Context, addr transport.Address, data []byte) error
}

// Engine drives both halves of §4.8: periodic REQUEST_SYNC emission
// sampled from the seen-set, and on-receipt reconciliation against the
// local packet cache.
type Engine struct {
	cfg     Config
	seen    *seenset.SeenSet
	cache   *meshstore.Cache
	limiter *rate.Limiter
	metrics *metrics.Collector
}

// New creates an Engine over seen (for sampling outgoing filters) and
// cache (for answering incoming ones).
func New(cfg Config, seen *seenset.SeenSet, cache *meshstore.Cache) *Engine {
	return &Engine{
		cfg:     cfg,
		seen:    seen,
		cache:   cache,
		limiter: rate.NewLimiter(cfg.RetransmitRate, cfg.RetransmitBurst),
	}
}

// SetMetrics attaches a Prometheus collector. Optional; nil leaves the
// engine uninstrumented.
func (e *Engine) SetMetrics(m *metrics.Collector) {
	e.metrics = m
}

// RunPeriodic emits a REQUEST_SYNC to sender/addr every cfg.Interval until
// ctx is canceled. Intended to run once per Established transport link.
func (e *Engine) RunPeriodic(ctx context.Context, sender Sender, addr transport.Address, localID packet.PeerID) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.emitOnce(ctx, sender, addr, localID)
	for {
		select {
		case <-ticker.C:
			e.emitOnce(ctx, sender, addr, localID)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) emitOnce(ctx context.Context, sender Sender, addr transport.Address, localID packet.PeerID) {
	p, nMax := seenset.Params(e.cfg.MaxFilterBytes, e.cfg.TargetFPR)
	ids := e.seen.RecentIDs(nMax)

	filter, err := seenset.Build(p, ids)
	if err != nil {
		log.Debug().Err(err).Msg("sync: failed to build GCS filter")
		return
	}

	req := &packet.RequestSync{P: uint8(filter.P), M: filter.M, Bits: filter.Bits}
	payload := packet.EncodeRequestSync(req)

	pkt := &packet.Packet{
		Version:   packet.CurrentVersion,
		Type:      packet.TypeRequestSync,
		TTL:       1, // unicast to the directly-connected peer, never relayed
		Timestamp: uint64(time.Now().UnixMilli()),
		SenderID:  localID,
	}
	pkt.Payload = payload

	data, err := pkt.Encode()
	if err != nil {
		log.Debug().Err(err).Msg("sync: failed to encode REQUEST_SYNC")
		return
	}
	if err := sender.Send(ctx, addr, data); err != nil {
		log.Debug().Err(err).Msg("sync: failed to send REQUEST_SYNC")
		return
	}
	if e.metrics != nil {
		e.metrics.SyncFiltersSent.Inc()
	}
}

// HandleRequestSync processes an incoming REQUEST_SYNC payload from addr
// over sender, replaying every locally-cached packet the peer's filter
// doesn't contain, subject to the per-sync and global rate limits.
func (e *Engine) HandleRequestSync(ctx context.Context, sender Sender, addr transport.Address, payload []byte) error {
	if len(payload) > seenset.MaxAcceptFilterBytes {
		if e.metrics != nil {
			e.metrics.SyncFiltersRejected.Inc()
		}
		return seenset.ErrFilterTooLarge
	}

	req, err := packet.DecodeRequestSync(payload)
	if err != nil {
		return err
	}
	if err := seenset.Validate(len(req.Bits), int(req.P), req.M); err != nil {
		if e.metrics != nil {
			e.metrics.SyncFiltersRejected.Inc()
		}
		return err
	}

	filter := &seenset.Filter{P: int(req.P), M: req.M, Bits: req.Bits, N: elementCount(req.M, int(req.P))}

	var cacheFilter meshstore.Filter
	if req.HasTypeFilter {
		cacheFilter.Type = &req.TypeFilter
	}
	if req.HasSince {
		cacheFilter.SinceTimestamp = req.SinceTimestamp
	}
	if req.HasFragmentFilter {
		cacheFilter.FragmentID = &req.FragmentFilter
	}

	candidates := e.cache.Walk(cacheFilter)

	sent := 0
	bytesSent := 0
	for _, entry := range candidates {
		if sent >= e.cfg.MaxRetransmit || bytesSent >= e.cfg.MaxBytesPerSync {
			log.Debug().Int("dropped_remaining", len(candidates)-sent).Msg("sync: retransmission budget exhausted, remainder dropped")
			break
		}
		if filter.Contains(entry.ID) {
			continue // peer already (probably) has it
		}
		if !e.limiter.Allow() {
			break
		}
		if err := sender.Send(ctx, addr, entry.Data); err != nil {
			// link dropped mid-transmission: remaining retransmissions for
			// this round are silently abandoned, per §5 cancellation policy.
			return nil
		}
		sent++
		bytesSent += len(entry.Data)
		if e.metrics != nil {
			e.metrics.SyncRetransmitted.Inc()
		}
	}
	return nil
}

// elementCount recovers N from the wire-carried M and P (Build sets
// M = N << P), so REQUEST_SYNC doesn't need its own N field.
func elementCount(m uint64, p int) uint64 {
	if p < 0 || p > 63 {
		return 0
	}
	n := m >> uint(p)
	if n == 0 {
		n = 1
	}
	return n
}
