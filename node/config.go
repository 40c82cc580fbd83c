// Package node implements the ethsync node lifecycle, wiring together the
// chain database, the p2p transport, the wire protocol, and the sync
// engine.
package node

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ethsync/ethsync/sync"
)

// Config holds all configuration for an ethsync node.
type Config struct {
	// DataDir is the root directory for all data storage. Empty selects
	// an in-memory database.
	DataDir string

	// Name is a human-readable node identifier (used in logs).
	Name string

	// NetworkID selects the network peers must share.
	NetworkID uint64

	// ListenAddr is the TCP address for inbound peer connections. Empty
	// disables listening.
	ListenAddr string

	// StaticPeers are dialed once at startup.
	StaticPeers []string

	// MaxPeers is the maximum number of connected peers.
	MaxPeers int

	// LogLevel controls log verbosity (debug, info, warn, error).
	LogLevel string

	// Sync configures the sync engine.
	Sync sync.Config
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:    "ethsync-data",
		Name:       "ethsync",
		NetworkID:  1,
		ListenAddr: ":30303",
		MaxPeers:   50,
		LogLevel:   "info",
		Sync:       sync.DefaultConfig(),
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.MaxPeers < 0 {
		return fmt.Errorf("config: invalid max peers: %d", c.MaxPeers)
	}
	if c.Sync.MinPeersToStartSync < 1 {
		return errors.New("config: min peers to start sync must be at least 1")
	}
	return nil
}

// ChainDBDir returns the directory holding the chain database.
func (c *Config) ChainDBDir() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "chaindata")
}
