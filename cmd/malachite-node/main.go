package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/ancazamfir/malachite/internal/config"
	"github.com/ancazamfir/malachite/internal/identity"
	"github.com/ancazamfir/malachite/internal/node"
	"github.com/ancazamfir/malachite/pkg/p2pnet"
)

// Set via -ldflags at build time, the same way the teacher stamps its CLIs:
//
//	go build -ldflags "-X main.version=0.1.0 -X main.commit=$(git rev-parse --short HEAD)" ./cmd/malachite-node
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runNode(os.Args[2:])
	case "init":
		runInit(os.Args[2:])
	case "version", "--version":
		fmt.Printf("malachite-node %s (%s)\n", version, commit)
		fmt.Printf("Go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: malachite-node <command> [options]")
	fmt.Println()
	fmt.Println("  run --config <path>     Start the node")
	fmt.Println("  init --config <path>    Write a default config and generate an identity key")
	fmt.Println("  version                 Print version info")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func flagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func runInit(args []string) {
	path := flagValue(args, "--config")
	if path == "" {
		path = "malachite-node.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		fatal("config already exists at %s", path)
	}

	dir, err := config.DefaultConfigDir()
	if err != nil {
		fatal("resolve config dir: %v", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		fatal("create config dir: %v", err)
	}

	keyFile := filepath.Join(filepath.Dir(path), "identity.key")
	peerID, err := identity.PeerIDFromKeyFile(keyFile)
	if err != nil {
		fatal("generate identity: %v", err)
	}

	cfg := config.DefaultNodeConfig()
	cfg.Identity.KeyFile = "identity.key"

	if err := os.WriteFile(path, []byte(renderDefaultConfig(cfg)), 0600); err != nil {
		fatal("write config: %v", err)
	}

	fmt.Printf("Wrote %s and %s\n", path, keyFile)
	fmt.Printf("Peer ID: %s\n", peerID)
}

// renderDefaultConfig produces a human-editable starting point from a fixed
// YAML template rather than a marshaled struct dump. The template carries no
// comments.
func renderDefaultConfig(cfg config.NodeConfig) string {
	return fmt.Sprintf(`version: %d
identity:
  key_file: %s
network:
  listen_addresses:
    - %s
discovery:
  enabled: true
  bootstrap_protocol: kademlia
  selector: round_robin
  bootstrap_peers: []
  num_outbound_peers: %d
  num_inbound_peers: %d
  max_connections_per_peer: %d
  ephemeral_connection_timeout: %s
  request_max_retries: %d
sync:
  max_batch_size: %d
telemetry:
  metrics:
    enabled: false
    listen_address: "127.0.0.1:9091"
`,
		cfg.Version, cfg.Identity.KeyFile, cfg.Network.ListenAddresses[0],
		cfg.Discovery.NumOutboundPeers, cfg.Discovery.NumInboundPeers,
		cfg.Discovery.MaxConnectionsPerPeer, cfg.Discovery.EphemeralConnectionTimeout,
		cfg.Discovery.RequestMaxRetries, cfg.Sync.MaxBatchSize)
}

func runNode(args []string) {
	configPath, err := config.FindConfigFile(flagValue(args, "--config"))
	if err != nil {
		fatal("%v", err)
	}

	cfg, err := config.LoadNodeConfig(configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	config.ResolveConfigPaths(cfg, filepath.Dir(configPath))
	if err := config.ValidateNodeConfig(cfg); err != nil {
		fatal("invalid config: %v", err)
	}

	priv, err := identity.LoadOrCreateIdentity(cfg.Identity.KeyFile)
	if err != nil {
		fatal("identity: %v", err)
	}

	h, err := node.BuildHost(node.HostConfig{Identity: priv, Network: cfg.Network})
	if err != nil {
		fatal("build host: %v", err)
	}
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ipfsDHT *dht.IpfsDHT
	if cfg.Discovery.BootstrapProtocol == config.BootstrapProtocolKademlia {
		prefix := protocol.ID(fmt.Sprintf("/malachite/%s", cfg.Discovery.Network))
		kdht, err := dht.New(ctx, h, dht.Mode(dht.ModeAuto), dht.ProtocolPrefix(prefix))
		if err != nil {
			fatal("build dht: %v", err)
		}
		defer kdht.Close()
		ipfsDHT = kdht
	}

	metrics := p2pnet.NewMetrics(version, runtime.Version())

	engine := node.NewEngine(h, *cfg, ipfsDHT, metrics, nil, nil)

	var metricsServer *http.Server
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Telemetry.Metrics.ListenAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("metrics endpoint started", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics endpoint error", "err", err)
			}
		}()
	}

	slog.Info("malachite-node starting", "peer_id", h.ID().String(), "version", version)
	for _, addr := range h.Addrs() {
		slog.Info("listening", "addr", fmt.Sprintf("%s/p2p/%s", addr, h.ID()))
	}

	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(ctx) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		slog.Info("shutting down")
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			slog.Error("node exited", "err", err)
		}
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		metricsServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}
}
