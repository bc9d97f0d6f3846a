package main

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	"github.com/gosuda/bitchat-mesh/internal/config"
	"github.com/gosuda/bitchat-mesh/internal/identity"
	"github.com/gosuda/bitchat-mesh/internal/meshstore"
	"github.com/gosuda/bitchat-mesh/internal/metrics"
	"github.com/gosuda/bitchat-mesh/internal/packet"
	"github.com/gosuda/bitchat-mesh/internal/router"
	"github.com/gosuda/bitchat-mesh/internal/sessionmgr"
	"github.com/gosuda/bitchat-mesh/internal/syncengine"
	"github.com/gosuda/bitchat-mesh/internal/transport"
)

// nodeFlags carries the CLI-parsed settings fx.Supply hands to the
// constructors below, matching the Design Note §9 guidance to "model
// [singletons] as process-wide services initialized at start-up and
// injected into components" rather than relying on package-level globals.
type nodeFlags struct {
	Nickname   string
	ListenAddr string
	AdminAddr  string
	Peers      []string
	DataDir    string
}

// node bundles one mesh node's wired-up component graph.
type node struct {
	flags      nodeFlags
	credential *identity.Credential
	localID    packet.PeerID
	metrics    *metrics.Collector
	sessions   *sessionmgr.Manager
	router     *router.Router
	sync       *syncengine.Engine
	ws         *wsTransport
	store      *meshstore.PersistentStore
}

// deriveLocalID turns the node's Noise static public key into the 8-byte
// PeerID carried in every packet header (§3), by truncating its SHA-256
// digest — the same "hash down to a short handle" shape as
// identity.Credential.Fingerprint, just shorter.
func deriveLocalID(pub []byte) packet.PeerID {
	sum := sha256.Sum256(pub)
	var id packet.PeerID
	copy(id[:], sum[:len(id)])
	return id
}

// newPersistentStore opens the on-disk identity/favorites store (§6's
// "recommended minimum" persistent state) when --data-dir is set, or
// returns nil to fall back to an in-memory-only identity.
func newPersistentStore(flags nodeFlags) (*meshstore.PersistentStore, error) {
	if flags.DataDir == "" {
		return nil, nil
	}
	return meshstore.OpenPersistentStore(flags.DataDir)
}

// newCredential loads the node's identity seed from the persistent store
// if one is configured and already has one, otherwise generates a fresh
// identity and, when a store is present, saves its seed for next start.
func newCredential(store *meshstore.PersistentStore) (*identity.Credential, error) {
	if store == nil {
		return identity.NewCredential()
	}

	seed, err := store.LoadIdentitySeed()
	switch {
	case err == nil:
		priv := ed25519.NewKeyFromSeed(seed)
		return identity.NewCredentialFromPrivateKey(priv, priv.Public().(ed25519.PublicKey))
	case err == meshstore.ErrNotFound:
		cred, err := identity.NewCredential()
		if err != nil {
			return nil, err
		}
		if err := store.SaveIdentitySeed(cred.SigningPrivateKey().Seed()); err != nil {
			return nil, err
		}
		return cred, nil
	default:
		return nil, err
	}
}

func newMetrics() *metrics.Collector {
	return metrics.NewCollector(nil)
}

func newSessionManager(cred *identity.Credential) *sessionmgr.Manager {
	mgr := sessionmgr.New(cred.StaticKeypair())
	mgr.SetMaxSessions(config.MaxSessions())
	return mgr
}

func newRouter(cred *identity.Credential, sessions *sessionmgr.Manager, m *metrics.Collector, cfg config.Node) (*router.Router, packet.PeerID) {
	localID := deriveLocalID(cred.StaticKeypair().Public)
	rt := router.New(localID, cred, sessions, cfg.Router)
	rt.SetMetrics(m)
	return rt, localID
}

func newSyncEngine(rt *router.Router, m *metrics.Collector, cfg config.Node) *syncengine.Engine {
	eng := syncengine.New(cfg.SyncEngine, rt.SeenSet(), rt.Cache())
	eng.SetMetrics(m)
	rt.SetSyncEngine(eng)
	return eng
}

func newNode(flags nodeFlags, cred *identity.Credential, localID packet.PeerID, m *metrics.Collector, sessions *sessionmgr.Manager, rt *router.Router, sync *syncengine.Engine, ws *wsTransport, store *meshstore.PersistentStore) *node {
	return &node{
		flags:      flags,
		credential: cred,
		localID:    localID,
		metrics:    m,
		sessions:   sessions,
		router:     rt,
		sync:       sync,
		ws:         ws,
		store:      store,
	}
}

func newWSTransportForNode(flags nodeFlags) *wsTransport {
	return newWSTransport("ws")
}

// announcePayload builds this node's ANNOUNCE (0x01) packet payload.
func (n *node) announcePayload() []byte {
	return packet.EncodeAnnounce(&packet.Announce{
		Nickname:   n.flags.Nickname,
		NoiseKey:   n.credential.StaticKeypair().Public,
		SigningKey: n.credential.SigningPublicKey(),
	})
}

// registerLifecycle wires fx's start/stop hooks to the node's background
// workers: the session manager's cleanup ticker, the HTTP admin server,
// outbound websocket dials, the initial ANNOUNCE, and periodic sync on
// dialed links —
// mirroring the teacher's main.go pattern of explicit goroutines launched
// around a signal.NotifyContext, just driven by fx.Lifecycle instead.
func registerLifecycle(lc fx.Lifecycle, n *node, flags nodeFlags) {
	var cancel context.CancelFunc
	var admin *http.Server

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			n.router.RegisterTransport(n.ws)
			n.router.StartSessionManager(n.sessions)

			mux := newAdminRouter(n)
			admin = &http.Server{Addr: flags.AdminAddr, Handler: mux}
			go func() {
				if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("admin server stopped")
				}
			}()

			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())
			go serveWS(runCtx, n.router, n.ws, flags.ListenAddr)

			for i, peerURL := range flags.Peers {
				addr := transport.Address(fmt.Sprintf("dial-%d", i))
				if err := n.ws.Dial(runCtx, addr, peerURL); err != nil {
					log.Warn().Err(err).Str("peer", peerURL).Msg("initial dial failed")
					continue
				}
				go n.sync.RunPeriodic(runCtx, n.ws, addr, n.localID)
			}

			if err := n.router.Send(runCtx, packet.TypeAnnounce, nil, n.announcePayload(), true); err != nil {
				log.Warn().Err(err).Msg("initial announce send failed")
			}

			log.Info().Str("peer_id", n.localID.String()).Str("nickname", flags.Nickname).
				Str("listen", flags.ListenAddr).Str("admin", flags.AdminAddr).
				Msg("mesh node started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			n.sessions.Close()
			_ = n.ws.Close()
			if n.store != nil {
				_ = n.store.Close()
			}
			if admin != nil {
				shutdownCtx, done := context.WithTimeout(ctx, 5*time.Second)
				defer done()
				_ = admin.Shutdown(shutdownCtx)
			}
			return nil
		},
	})
}

// buildApp assembles the process-wide fx container: every component is
// provided once and injected where needed, per Design Note §9.
func buildApp(flags nodeFlags) *fx.App {
	return fx.New(
		fx.Supply(flags, config.DefaultNode()),
		fx.Provide(
			newPersistentStore,
			newCredential,
			newMetrics,
			newSessionManager,
			newRouter,
			newSyncEngine,
			newWSTransportForNode,
			newNode,
		),
		fx.Invoke(registerLifecycle),
		fx.NopLogger,
	)
}
