package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gosuda/bitchat-mesh/internal/packet"
	"github.com/gosuda/bitchat-mesh/internal/router"
)

// peerRow is one line of the admin peer-list view: the "mesh-graph gossip"
// design note (§9) treats neighbor lists as UI hints only, never routing
// input, so this surface is read-only and has no bearing on relay
// decisions.
type peerRow struct {
	PeerID   string `json:"peer_id"`
	NoiseKey string `json:"noise_key,omitempty"`
}

// newAdminRouter builds the debug/introspection HTTP surface named in
// Design Note §9 as the "debug manager" singleton, modeled on the
// teacher's cmd/relay-server admin mux: peer list, Prometheus metrics,
// and a liveness probe.
func newAdminRouter(n *node) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/peers", func(w http.ResponseWriter, _ *http.Request) {
		rows := peerRows(n.router, n.router.KnownPeers())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rows)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func peerRows(rt *router.Router, ids []packet.PeerID) []peerRow {
	rows := make([]peerRow, 0, len(ids))
	for _, id := range ids {
		row := peerRow{PeerID: id.String()}
		if key, ok := rt.PeerNoiseKey(id); ok {
			row.NoiseKey = hexString(key)
		}
		rows = append(rows, row)
	}
	return rows
}

func hexString(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}
