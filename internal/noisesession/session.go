// Package noisesession implements the per-peer Noise_XX_25519_ChaChaPoly_SHA256
// session state machine (C5). Handshake framing and cipher-state handling
// mirror the teacher's cryptoops.Handshaker, generalized from a one-shot
// client/server connection handshake into a long-lived, message-oriented
// session that a session manager can drive incrementally.
package noisesession

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flynn/noise"

	"github.com/gosuda/bitchat-mesh/internal/packet"
)

// State is the coarse lifecycle stage of a Session.
type State int

const (
	StateUninitialized State = iota
	StateHandshaking
	StateEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Role identifies which side of the XX pattern this session plays.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

var (
	ErrWrongRole          = errors.New("noisesession: operation not valid for this role")
	ErrWrongState         = errors.New("noisesession: operation not valid in current state")
	ErrHandshakeFailed    = errors.New("noisesession: handshake failed")
	ErrInvalidMessageSize = errors.New("noisesession: handshake message has invalid size")
	ErrNotEstablished     = errors.New("noisesession: session is not established")
	ErrEncryptionFailed   = errors.New("noisesession: encryption failed")
	ErrDecryptionFailed   = errors.New("noisesession: decryption failed")
	ErrSessionDestroyed   = errors.New("noisesession: session has been destroyed")
)

const (
	// noisePrologue binds every handshake to this protocol's identity so a
	// peer running an unrelated Noise-based protocol can't be confused for one.
	noisePrologue = "bitchat-mesh/noise-xx/1"

	// maxHandshakeMsgSize rejects any handshake message over this size
	// outright, before even attempting to parse it (anti-DoS, mirrors the
	// teacher's maxRawPacketSize check at the framing layer).
	maxHandshakeMsgSize = 200

	// Exact expected sizes for the three XX messages when no handshake
	// payload is carried (this implementation carries none): e, e+s+tag, s+tag.
	msg1Size = 32
	msg2Size = 80
	msg3Size = 48

	// rekeyAge and rekeyMessageCount are the needs_rekey() thresholds.
	rekeyAge          = time.Hour
	rekeyMessageCount = 10000
)

// cipherSuite is the Noise cipher suite used for every session:
// Noise_XX_25519_ChaChaPoly_SHA256.
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// GenerateStaticKeypair creates a fresh X25519 static keypair for use as a
// Session's local identity key.
func GenerateStaticKeypair() (noise.DHKey, error) {
	return cipherSuite.GenerateKeypair(nil)
}

// Session is a single Noise XX handshake-then-transport session with one
// remote peer. It is safe for concurrent use; every exported method takes
// the session's mutex.
type Session struct {
	mu sync.Mutex

	peerID packet.PeerID
	role   Role
	state  State
	step   int // number of handshake messages processed so far (0-3)

	staticKeypair noise.DHKey
	hs            *noise.HandshakeState

	sendCipher *noise.CipherState
	recvCipher *noise.CipherState

	remoteStaticPublic []byte

	establishedAt time.Time
	sentCount     uint64
	recvCount     uint64

	failureReason error
	destroyed     bool
}

// NewSession creates a Session for peerID in the Uninitialized state. The
// caller supplies the local static keypair (usually shared across all of a
// node's sessions, derived once at startup). The session keeps its own copy
// of the private key, so Destroy does not wipe the caller's keypair.
func NewSession(peerID packet.PeerID, role Role, staticKeypair noise.DHKey) *Session {
	staticKeypair.Private = append([]byte(nil), staticKeypair.Private...)
	return &Session{
		peerID:        peerID,
		role:          role,
		state:         StateUninitialized,
		staticKeypair: staticKeypair,
	}
}

// PeerID returns the remote peer this session is associated with.
func (s *Session) PeerID() packet.PeerID { return s.peerID }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FailureReason returns the error that caused a Failed state, or nil.
func (s *Session) FailureReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureReason
}

// RemoteStaticPublic returns the remote party's X25519 static public key.
// Only valid once the session reaches Established.
func (s *Session) RemoteStaticPublic() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteStaticPublic
}

func (s *Session) fail(reason error) error {
	s.state = StateFailed
	s.failureReason = reason
	return reason
}

func (s *Session) ensureHandshakeState() error {
	if s.hs != nil {
		return nil
	}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     s.role == RoleInitiator,
		StaticKeypair: s.staticKeypair,
		Prologue:      []byte(noisePrologue),
	})
	if err != nil {
		return s.fail(fmt.Errorf("%w: init: %w", ErrHandshakeFailed, err))
	}
	s.hs = hs
	s.state = StateHandshaking
	return nil
}

// StartHandshake begins the handshake as the initiator, returning the first
// message (msg1: e) to send to the peer. Only valid for RoleInitiator in
// the Uninitialized state.
func (s *Session) StartHandshake() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil, ErrSessionDestroyed
	}
	if s.role != RoleInitiator {
		return nil, ErrWrongRole
	}
	if s.state != StateUninitialized {
		return nil, ErrWrongState
	}
	if err := s.ensureHandshakeState(); err != nil {
		return nil, err
	}

	msg1, _, _, err := s.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, s.fail(fmt.Errorf("%w: write msg1: %w", ErrHandshakeFailed, err))
	}
	s.step = 1
	return msg1, nil
}

// ProcessHandshake advances the handshake with an incoming message from the
// peer. It returns the next outgoing message to send, or nil if the
// handshake completed on our side without anything further to send.
//
// Responder flow: ProcessHandshake(msg1) -> msg2, ProcessHandshake(msg3) -> nil (Established).
// Initiator flow: ProcessHandshake(msg2) -> msg3 (Established after writing).
func (s *Session) ProcessHandshake(in []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil, ErrSessionDestroyed
	}
	if len(in) > maxHandshakeMsgSize {
		return nil, s.fail(fmt.Errorf("%w: %d bytes exceeds max %d", ErrInvalidMessageSize, len(in), maxHandshakeMsgSize))
	}

	switch s.role {
	case RoleResponder:
		return s.processResponder(in)
	case RoleInitiator:
		return s.processInitiator(in)
	default:
		return nil, ErrWrongRole
	}
}

func (s *Session) processResponder(in []byte) ([]byte, error) {
	switch s.step {
	case 0:
		if len(in) != msg1Size {
			return nil, s.fail(fmt.Errorf("%w: msg1 is %d bytes, want %d", ErrInvalidMessageSize, len(in), msg1Size))
		}
		if s.state != StateUninitialized {
			return nil, ErrWrongState
		}
		if err := s.ensureHandshakeState(); err != nil {
			return nil, err
		}
		if _, _, _, err := s.hs.ReadMessage(nil, in); err != nil {
			return nil, s.fail(fmt.Errorf("%w: read msg1: %w", ErrHandshakeFailed, err))
		}
		msg2, _, _, err := s.hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, s.fail(fmt.Errorf("%w: write msg2: %w", ErrHandshakeFailed, err))
		}
		s.step = 2
		return msg2, nil

	case 2:
		if len(in) != msg3Size {
			return nil, s.fail(fmt.Errorf("%w: msg3 is %d bytes, want %d", ErrInvalidMessageSize, len(in), msg3Size))
		}
		if s.state != StateHandshaking {
			return nil, ErrWrongState
		}
		_, cs1, cs2, err := s.hs.ReadMessage(nil, in)
		if err != nil {
			return nil, s.fail(fmt.Errorf("%w: read msg3: %w", ErrHandshakeFailed, err))
		}
		if cs1 == nil || cs2 == nil {
			return nil, s.fail(fmt.Errorf("%w: handshake did not complete at msg3", ErrHandshakeFailed))
		}
		// cs1 = initiator->responder (our decrypt), cs2 = responder->initiator (our encrypt)
		s.recvCipher, s.sendCipher = cs1, cs2
		s.remoteStaticPublic = s.hs.PeerStatic()
		s.establishedAt = time.Now()
		s.state = StateEstablished
		s.step = 3
		return nil, nil

	default:
		return nil, ErrWrongState
	}
}

func (s *Session) processInitiator(in []byte) ([]byte, error) {
	if s.step != 1 || s.state != StateHandshaking {
		return nil, ErrWrongState
	}
	if len(in) != msg2Size {
		return nil, s.fail(fmt.Errorf("%w: msg2 is %d bytes, want %d", ErrInvalidMessageSize, len(in), msg2Size))
	}
	if _, _, _, err := s.hs.ReadMessage(nil, in); err != nil {
		return nil, s.fail(fmt.Errorf("%w: read msg2: %w", ErrHandshakeFailed, err))
	}
	msg3, cs1, cs2, err := s.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, s.fail(fmt.Errorf("%w: write msg3: %w", ErrHandshakeFailed, err))
	}
	if cs1 == nil || cs2 == nil {
		return nil, s.fail(fmt.Errorf("%w: handshake did not complete at msg3", ErrHandshakeFailed))
	}
	// cs1 = initiator->responder (our encrypt), cs2 = responder->initiator (our decrypt)
	s.sendCipher, s.recvCipher = cs1, cs2
	s.remoteStaticPublic = s.hs.PeerStatic()
	s.establishedAt = time.Now()
	s.state = StateEstablished
	s.step = 3
	return msg3, nil
}

// Encrypt seals plaintext for transmission to the peer. Only valid once
// Established.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil, ErrSessionDestroyed
	}
	if s.state != StateEstablished {
		return nil, ErrNotEstablished
	}
	out, err := s.sendCipher.Encrypt(nil, nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}
	s.sentCount++
	return out, nil
}

// Decrypt opens a ciphertext received from the peer. Only valid once
// Established.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil, ErrSessionDestroyed
	}
	if s.state != StateEstablished {
		return nil, ErrNotEstablished
	}
	out, err := s.recvCipher.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	s.recvCount++
	return out, nil
}

// NeedsRekey reports whether this session has aged or transferred enough
// messages that it should be torn down and re-established with a fresh
// handshake, per the session lifetime policy.
func (s *Session) NeedsRekey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateEstablished {
		return false
	}
	if time.Since(s.establishedAt) > rekeyAge {
		return true
	}
	return s.sentCount+s.recvCount > rekeyMessageCount
}

// Destroy zeroizes what secret material this Session directly holds and
// transitions it to Failed so it can no longer be used. The underlying
// noise.CipherState values don't expose their raw keys for wiping; dropping
// every reference to them here is the best this layer can do, same
// limitation the teacher's SecureConnection accepts for CipherState.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	wipeMemory(s.staticKeypair.Private)
	wipeMemory(s.remoteStaticPublic)
	s.sendCipher = nil
	s.recvCipher = nil
	s.hs = nil
	s.destroyed = true
	s.state = StateFailed
	s.failureReason = ErrSessionDestroyed
}

func wipeMemory(b []byte) {
	b = b[:cap(b)]
	for i := range b {
		b[i] = 0
	}
}
