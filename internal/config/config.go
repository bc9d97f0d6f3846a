// Package config assembles the small typed Config structs each component
// takes a constructor argument of (no external file format; the teacher
// never reaches for one either), and auto-sizes the capacity-bounded
// structures (seen-set, session table, fragment buffers) off available
// system memory the way a long-running mesh relay should.
package config

import (
	"time"

	"github.com/pbnjay/memory"

	"github.com/gosuda/bitchat-mesh/internal/router"
	"github.com/gosuda/bitchat-mesh/internal/seenset"
	"github.com/gosuda/bitchat-mesh/internal/sessionmgr"
	"github.com/gosuda/bitchat-mesh/internal/syncengine"
)

// memoryTiers maps a free-memory floor (bytes) to a scale factor applied to
// every baseline capacity below. Node processes on constrained devices
// (phones relaying over BLE) get the §3 floor; a relay box with headroom
// gets proportionally larger tables.
var memoryTiers = []struct {
	minFree uint64
	scale   int
}{
	{minFree: 4 << 30, scale: 8}, // >=4GiB free: generous relay box
	{minFree: 1 << 30, scale: 4}, // >=1GiB free
	{minFree: 256 << 20, scale: 2}, // >=256MiB free
	{minFree: 0, scale: 1},       // constrained device: §3 baseline
}

func scaleFactor() int {
	free := memory.FreeMemory()
	for _, tier := range memoryTiers {
		if free >= tier.minFree {
			return tier.scale
		}
	}
	return 1
}

// Node is the top-level configuration for one mesh node, composed from the
// individual component Configs below.
type Node struct {
	Router     router.Config
	SyncEngine syncengine.Config
}

// DefaultNode returns a Node config whose router seen-set and packet-cache
// capacities are auto-scaled off currently available system memory. The
// sync-engine settings are syncengine.DefaultConfig, unscaled.
func DefaultNode() Node {
	scale := scaleFactor()

	routerCfg := router.DefaultConfig()
	routerCfg.SeenCapacity = clampCapacity(seenset.DefaultCapacity*scale, 10, 100_000)
	routerCfg.CacheSize = clampCapacity(2048*scale, 128, 200_000)

	return Node{
		Router:     routerCfg,
		SyncEngine: syncengine.DefaultConfig(),
	}
}

// clampCapacity keeps an auto-scaled value within [min, max]. The seen-set
// capacity is clamped again by seenset.New to
// [seenset.MinCapacity, seenset.MaxCapacity].
func clampCapacity(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// MaxSessions mirrors sessionmgr.MaxSessions scaled the same way as the
// router's tables, so a node with more memory also tolerates more
// concurrently established Noise sessions.
func MaxSessions() int {
	return clampCapacity(sessionmgr.MaxSessions*scaleFactor(), 10, 5000)
}

// PendingHandshakeExpiry is exposed for callers that want to log or display
// the configured timeout without reaching into sessionmgr directly.
func PendingHandshakeExpiry() time.Duration {
	return sessionmgr.PendingHandshakeExpiry
}
