// Command ethsync is a block synchronization node. It connects to a set of
// peers, establishes trust in their chain views, and downloads the chain in
// parallel ranges while serving header and body queries to other peers.
//
// Usage:
//
//	ethsync [flags]
//
// Flags:
//
//	--datadir     Data directory path (empty: in-memory database)
//	--name        Node name used in logs (default: ethsync)
//	--addr        TCP listen address for inbound peers (default: :30303)
//	--peers       Comma-separated static peer addresses to dial at startup
//	--networkid   Network ID (default: 1)
//	--maxpeers    Max connected peers (default: 50)
//	--minpeers    Trusted peers required before sync starts (default: 2)
//	--verbosity   Log level: debug, info, warn, error (default: info)
//	--version     Print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethsync/ethsync/core"
	"github.com/ethsync/ethsync/log"
	"github.com/ethsync/ethsync/node"
	"github.com/ethsync/ethsync/sync"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0"
var version = "v0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the testable entry point, returning the process exit code.
func run(args []string) int {
	cfg, exit, code := parseFlags(args)
	if exit {
		return code
	}

	logger := log.New(log.LevelFromString(cfg.LogLevel))
	log.SetDefault(logger)

	logger.Info("ethsync starting", "version", version,
		"datadir", cfg.DataDir, "network", cfg.NetworkID,
		"addr", cfg.ListenAddr, "static", len(cfg.StaticPeers))

	n, err := node.New(cfg, core.DefaultGenesis())
	if err != nil {
		logger.Error("failed to create node", "err", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	result, err := n.Run(ctx)
	if err != nil {
		logger.Error("sync failed", "result", result.String(), "err", err)
		return 1
	}
	if result != sync.Success {
		logger.Warn("sync did not complete", "result", result.String())
		return 1
	}
	return 0
}

// parseFlags parses CLI arguments into a node.Config. Returns the config,
// whether the caller should exit immediately, and the exit code.
func parseFlags(args []string) (node.Config, bool, int) {
	cfg := node.DefaultConfig()

	fs := flag.NewFlagSet("ethsync", flag.ContinueOnError)
	fs.StringVar(&cfg.DataDir, "datadir", "", "data directory (empty: in-memory database)")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "node name used in logs")
	fs.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "TCP listen address (empty: no listener)")
	fs.Uint64Var(&cfg.NetworkID, "networkid", cfg.NetworkID, "network ID")
	fs.IntVar(&cfg.MaxPeers, "maxpeers", cfg.MaxPeers, "max connected peers")
	fs.IntVar(&cfg.Sync.MinPeersToStartSync, "minpeers", cfg.Sync.MinPeersToStartSync, "trusted peers required before sync starts")
	fs.StringVar(&cfg.LogLevel, "verbosity", cfg.LogLevel, "log level: debug, info, warn, error")
	peers := fs.String("peers", "", "comma-separated static peer addresses")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return cfg, true, 2
	}
	if *showVersion {
		fmt.Printf("ethsync %s\n", version)
		return cfg, true, 0
	}
	if *peers != "" {
		for _, addr := range strings.Split(*peers, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				cfg.StaticPeers = append(cfg.StaticPeers, addr)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return cfg, true, 1
	}
	return cfg, false, 0
}
