// Command kadcrawl runs the Mainline DHT/BitTorrent metadata crawler: it
// loads settings, builds the controller's dependencies, and either starts
// crawling non-interactively or drops into the read-eval-print loop
// described in the settings table's CLI surface.
package main

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	kadcrawl "github.com/kadcrawl/kadcrawl"
	"github.com/kadcrawl/kadcrawl/internal/api"
	"github.com/kadcrawl/kadcrawl/internal/btpeer"
	"github.com/kadcrawl/kadcrawl/internal/controller"
	"github.com/kadcrawl/kadcrawl/internal/dht"
	"github.com/kadcrawl/kadcrawl/internal/identifier"
	"github.com/kadcrawl/kadcrawl/internal/logger"
)

// version is stamped by a build script in a real release; the literal
// here is what "kadcrawl --version" prints from a source checkout.
const version = "0.1.0-dev"

var log = logger.New("main")

func main() {
	var (
		configPath   string
		databasePath string
		crawlNow     bool
		interactive  bool
		portOverride uint16
	)

	root := &cobra.Command{
		Use:           "kadcrawl",
		Short:         "Mainline DHT and BitTorrent metadata crawler",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, databasePath, crawlNow, interactive, portOverride)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to settings YAML file")
	root.Flags().StringVarP(&databasePath, "database", "d", "", "path to the SQLite database file (overrides database.path)")
	root.Flags().BoolVarP(&crawlNow, "crawl", "C", false, "start crawling immediately")
	root.Flags().BoolVarP(&interactive, "interactive", "i", false, "drop into the interactive command loop")
	root.Flags().Uint16Var(&portOverride, "port", 0, "override dht.port and the embedded API port")
	root.Flags().BoolP("version", "v", false, "print the version and exit")
	root.SetVersionTemplate("kadcrawl {{.Version}}\n")

	if err := root.Execute(); err != nil {
		log.Errorln("fatal:", err)
		os.Exit(1)
	}
}

func run(configPath, databasePath string, crawlNow, interactive bool, portOverride uint16) error {
	cfg, err := kadcrawl.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if databasePath != "" {
		cfg.Set("database.path", databasePath)
	}
	if portOverride != 0 {
		cfg.Set("dht.port", fmt.Sprintf("%d", portOverride))
		cfg.Set("web.port", fmt.Sprintf("%d", portOverride+1))
	}
	logger.SetLevel(cfg.Get("log.level", "debug"))

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return fmt.Errorf("resolving database path: %w", err)
	}

	localID, peerID, err := resolveIdentities(cfg)
	if err != nil {
		return fmt.Errorf("resolving node identity: %w", err)
	}

	deps := controller.Deps{
		DatabasePath: dbPath,
		LocalID:      localID,
		PeerID:       peerID,
		DHTConfig: dht.Config{
			Port:            uint16(cfg.GetInt("dht.port", 6881)),
			MaxNodes:        cfg.GetInt("dht.max_nodes", 1000),
			PingInterval:    cfg.GetDuration("dht.ping_interval", 300*time.Second),
			BootstrapNodes:  cfg.GetStringList("dht.bootstrap_nodes", dht.DefaultConfig().BootstrapNodes),
			RandomDiscovery: cfg.GetBool("crawler.random_discovery", true),
		},
		SessionConfig: btpeer.SessionConfig{
			ConnectTimeout:   cfg.GetDuration("bittorrent.connection_timeout", 10*time.Second),
			HandshakeTimeout: cfg.GetDuration("bittorrent.connection_timeout", 10*time.Second),
			SessionDeadline:  cfg.GetDuration("bittorrent.download_timeout", 30*time.Second),
			MaxMetadataSize:  btpeer.DefaultSessionConfig().MaxMetadataSize,
			MaxOutstanding:   btpeer.DefaultSessionConfig().MaxOutstanding,
		},
		MaxConnections: cfg.GetInt("bittorrent.max_connections", 50),
	}

	ctrl := controller.New(deps)
	if err := ctrl.Initialize(); err != nil {
		return fmt.Errorf("initializing controller: %w", err)
	}
	defer ctrl.Stop()

	trackerStop := make(chan struct{})
	defer close(trackerStop)

	if crawlNow || cfg.GetBool("web.auto_start", false) {
		if err := ctrl.Start(); err != nil {
			return fmt.Errorf("starting controller: %w", err)
		}
		ctrl.Crawl()
		go runTrackerBootstrap(ctrl, peerID, cfg.GetDuration("tracker.announce_interval", 1800*time.Second), trackerStop)
	}

	if cfg.GetBool("web.auto_start", false) {
		startEmbeddedAPI(cfg, ctrl)
	}

	if interactive {
		return runInteractive(ctrl)
	}

	log.Infoln("running; send SIGINT/SIGTERM or use --interactive to control the crawler")
	waitForSignal()
	return nil
}

// resolveIdentities derives the DHT local NodeID and the BitTorrent peer
// id from settings, falling back to randomly generated values when
// dht.node_id is unset (the default per the settings table).
func resolveIdentities(cfg *kadcrawl.Config) (identifier.ID, [20]byte, error) {
	var localID identifier.ID
	if v := cfg.Get("dht.node_id", ""); v != "" {
		id, err := identifier.ParseHex(v)
		if err != nil {
			return identifier.ID{}, [20]byte{}, fmt.Errorf("parsing dht.node_id: %w", err)
		}
		localID = id
	} else {
		id, err := identifier.Random()
		if err != nil {
			return identifier.ID{}, [20]byte{}, err
		}
		localID = id
	}

	var peerID [20]byte
	if _, err := rand.Read(peerID[:]); err != nil {
		return identifier.ID{}, [20]byte{}, err
	}
	copy(peerID[:8], []byte("-KC0010-"))

	return localID, peerID, nil
}

func startEmbeddedAPI(cfg *kadcrawl.Config, ctrl *controller.Controller) {
	srv := api.New(ctrl.Store(), ctrl)
	addr := fmt.Sprintf(":%d", cfg.GetInt("web.port", 8088))
	go func() {
		log.Infoln("embedded API listening on", addr)
		if err := http.ListenAndServe(addr, srv.Handler()); err != nil { //nolint:gosec
			log.Errorln("embedded API stopped:", err)
		}
	}()
}
