// Command meshnode runs one bitchat mesh peer over a websocket stand-in
// transport (the BLE radio itself is out of scope per spec §1). It wires
// the packet codec, Noise session engine, mesh router, and sync engine
// from internal/ into a running process, following the teacher's
// cmd/server cobra + zerolog shape.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagNickname  string
	flagListen    string
	flagAdminAddr string
	flagPeers     []string
	flagVerbose   bool
	flagDataDir   string
)

var rootCmd = &cobra.Command{
	Use:   "meshnode",
	Short: "Run one bitchat mesh peer",
	Long:  "meshnode wires the bitchat mesh core (packet model, Noise sessions, router, sync engine) to a websocket transport for local testing and demos.",
	RunE:  runNode,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagNickname, "nickname", "anon", "nickname advertised in this node's ANNOUNCE packets")
	flags.StringVar(&flagListen, "listen", ":4242", "address the mesh websocket listener binds (peer link endpoint: /mesh)")
	flags.StringVar(&flagAdminAddr, "admin", ":4243", "address the debug/introspection HTTP surface binds")
	flags.StringSliceVar(&flagPeers, "peer", nil, "ws:// or wss:// URL of a peer's /mesh endpoint to dial at startup (repeatable)")
	flags.BoolVar(&flagVerbose, "verbose", false, "enable debug-level logging")
	flags.StringVar(&flagDataDir, "data-dir", "", "directory for the pebble-backed identity/favorites store (empty: in-memory identity, no persistence)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("meshnode exited with error")
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	if flagVerbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	flags := nodeFlags{
		Nickname:   flagNickname,
		ListenAddr: flagListen,
		AdminAddr:  flagAdminAddr,
		Peers:      flagPeers,
		DataDir:    flagDataDir,
	}

	app := buildApp(flags)
	app.Run()
	return nil
}
