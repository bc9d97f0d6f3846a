// Package sessionmgr tracks one noisesession.Session per peer (C6),
// arbitrating simultaneous handshake attempts and evicting stale sessions.
// The background cleanup ticker is modeled on the teacher's
// LeaseManagerV2.ttlWorker/cleanupExpiredLeases pattern.
package sessionmgr

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/flynn/noise"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/bitchat-mesh/internal/noisesession"
	"github.com/gosuda/bitchat-mesh/internal/packet"
)

// MaxSessions bounds the number of concurrently established sessions a
// node keeps before evicting the oldest to make room for a new one.
const MaxSessions = 50

// PendingHandshakeExpiry tears down a handshake that hasn't completed
// within this window.
const PendingHandshakeExpiry = 30 * time.Second

const cleanupInterval = 5 * time.Second

// Observer receives lifecycle notifications for sessions this manager owns.
type Observer interface {
	OnSessionEstablished(peerID packet.PeerID, session *noisesession.Session)
	OnSessionFailed(peerID packet.PeerID, reason error)
}

type pendingEntry struct {
	session *noisesession.Session
	started time.Time
}

// Manager owns the concurrent peer_id -> Session table plus the
// in-progress handshake table, and resolves simultaneous-handshake races
// via the static-key tie-breaker rule.
type Manager struct {
	localStaticKeypair noise.DHKey
	localStaticHex     string

	mu       sync.RWMutex
	sessions map[packet.PeerID]*noisesession.Session
	pending  map[packet.PeerID]*pendingEntry
	order    []packet.PeerID // establishment order, for MaxSessions eviction

	observers []Observer

	maxSessions int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Manager using localStaticKeypair as this node's Noise
// static identity for every session it establishes.
func New(localStaticKeypair noise.DHKey) *Manager {
	return &Manager{
		localStaticKeypair: localStaticKeypair,
		localStaticHex:     hex.EncodeToString(localStaticKeypair.Public),
		sessions:           make(map[packet.PeerID]*noisesession.Session),
		pending:            make(map[packet.PeerID]*pendingEntry),
		maxSessions:        MaxSessions,
		stopCh:             make(chan struct{}),
	}
}

// SetMaxSessions overrides the default MaxSessions eviction threshold, e.g.
// to scale it with available system memory.
func (m *Manager) SetMaxSessions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.maxSessions = n
	}
}

// AddObserver registers o to receive session lifecycle events.
func (m *Manager) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Start launches the background pending-handshake cleanup worker.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.cleanupWorker()
}

// Stop halts the background cleanup worker.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) cleanupWorker() {
	defer m.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.expirePending()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) expirePending() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for peerID, entry := range m.pending {
		if now.Sub(entry.started) > PendingHandshakeExpiry {
			entry.session.Destroy()
			delete(m.pending, peerID)
			log.Debug().Str("peer", peerID.String()).Msg("pending handshake expired")
		}
	}
}

// Session returns the established session for peerID, if any.
func (m *Manager) Session(peerID packet.PeerID) (*noisesession.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[peerID]
	return s, ok
}

// shouldInitiate implements the tie-breaker rule: the peer with the
// lexicographically smaller hex-encoded static public key is the initiator
// when both sides would otherwise start a handshake simultaneously.
func (m *Manager) shouldInitiate(remoteStaticHex string) bool {
	return m.localStaticHex < remoteStaticHex
}

// InitiateHandshake starts a new outbound handshake toward peerID, tearing
// down and replacing any existing session. Returns the msg1 bytes to send.
func (m *Manager) InitiateHandshake(peerID packet.PeerID) ([]byte, error) {
	m.mu.Lock()

	if old, ok := m.sessions[peerID]; ok {
		old.Destroy()
		delete(m.sessions, peerID)
	}
	if old, ok := m.pending[peerID]; ok {
		old.session.Destroy()
		delete(m.pending, peerID)
	}

	sess := noisesession.NewSession(peerID, noisesession.RoleInitiator, m.localStaticKeypair)
	m.pending[peerID] = &pendingEntry{session: sess, started: time.Now()}
	m.mu.Unlock()

	return sess.StartHandshake()
}

// HandleIncoming processes an inbound handshake/transport-data message from
// peerID. A message of exactly 32 bytes is treated as a fresh XX msg1 (the
// only unambiguous signal that a peer is starting a brand-new handshake,
// independent of our own state).
//
// When both sides initiate simultaneously against a peer whose static key
// sorts lower than ours, we yield: tear down our own pending/established
// session and accept the incoming handshake as the responder, per the
// tie-breaker rule.
func (m *Manager) HandleIncoming(peerID packet.PeerID, remoteStaticHex string, msg []byte) (out []byte, established *noisesession.Session, err error) {
	m.mu.Lock()

	looksLikeFreshInit := len(msg) == 32

	if looksLikeFreshInit {
		if _, hasPending := m.pending[peerID]; hasPending && m.shouldInitiate(remoteStaticHex) {
			// We are the rightful initiator and already have a handshake in
			// flight; a peer ignoring that and sending its own msg1 loses the
			// tie. Drop its attempt, keep ours running.
			m.mu.Unlock()
			return nil, nil, nil
		}

		if old, ok := m.sessions[peerID]; ok {
			old.Destroy()
			delete(m.sessions, peerID)
		}
		if old, ok := m.pending[peerID]; ok {
			old.session.Destroy()
			delete(m.pending, peerID)
		}

		sess := noisesession.NewSession(peerID, noisesession.RoleResponder, m.localStaticKeypair)
		m.pending[peerID] = &pendingEntry{session: sess, started: time.Now()}
		m.mu.Unlock()

		out, err = sess.ProcessHandshake(msg)
		if err != nil {
			m.finishFailed(peerID, err)
			return nil, nil, err
		}
		return out, nil, nil
	}

	entry, ok := m.pending[peerID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, noisesession.ErrWrongState
	}

	out, err = entry.session.ProcessHandshake(msg)
	if err != nil {
		m.finishFailed(peerID, err)
		return nil, nil, err
	}

	if entry.session.State() == noisesession.StateEstablished {
		m.finishEstablished(peerID, entry.session)
		return out, entry.session, nil
	}
	return out, nil, nil
}

func (m *Manager) finishEstablished(peerID packet.PeerID, sess *noisesession.Session) {
	m.mu.Lock()
	delete(m.pending, peerID)

	if existing, ok := m.sessions[peerID]; ok {
		existing.Destroy()
	} else {
		m.order = append(m.order, peerID)
	}
	m.sessions[peerID] = sess

	var evicted packet.PeerID
	var evict *noisesession.Session
	if len(m.sessions) > m.maxSessions && len(m.order) > 0 {
		evicted = m.order[0]
		m.order = m.order[1:]
		evict = m.sessions[evicted]
		delete(m.sessions, evicted)
	}
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	if evict != nil {
		evict.Destroy()
		log.Info().Str("peer", evicted.String()).Msg("evicted oldest session over MaxSessions limit")
	}

	for _, o := range observers {
		o.OnSessionEstablished(peerID, sess)
	}
}

func (m *Manager) finishFailed(peerID packet.PeerID, reason error) {
	m.mu.Lock()
	delete(m.pending, peerID)
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	for _, o := range observers {
		o.OnSessionFailed(peerID, reason)
	}
}

// Close destroys every session and pending handshake this manager owns.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		s.Destroy()
	}
	for _, p := range m.pending {
		p.session.Destroy()
	}
	m.sessions = make(map[packet.PeerID]*noisesession.Session)
	m.pending = make(map[packet.PeerID]*pendingEntry)
	m.order = nil
}
