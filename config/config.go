// Package config holds the coordinator daemon's configuration,
// loaded from a TOML file with flag/env overrides, modeled on
// kv/config.Config and kv/tinykv-server/main.go::loadConfig.
package config

import (
	"os"
	"time"

	"github.com/ngaut/log"
	"github.com/pingcap/errors"
)

// Config configures cmd/coordinatord. The coordinator core itself
// (package coordinator) takes none of this directly — only the
// plain values (round timeout, strict-invariants flag) that the
// entrypoint extracts and passes in. The entrypoint dials the
// partition addresses and hands the core connection handles.
type Config struct {
	// PartitionAddrs is the fixed, ordered list of partition
	// addresses; index position becomes partition index.
	PartitionAddrs []string

	// RoundTimeout is the per-round response deadline. Zero disables
	// the timer, matching the original's commented-out
	// state->startResponseTimer(this, 200) — see spec.md §9.
	RoundTimeout time.Duration

	// StatusAddr serves the /metrics and /status endpoints.
	StatusAddr string

	LogLevel string

	// StrictInvariants enables the debug-only full-queue scan
	// sendFragments performs before dispatching a multi-partition
	// transaction (spec.md §6 supplemented feature: the original's
	// #ifndef NDEBUG block). Off by default in production, since the
	// scan is O(queue depth); tests and the --strict-invariants flag
	// turn it back on.
	StrictInvariants bool
}

// NewDefaultConfig returns the coordinator daemon's default
// configuration.
func NewDefaultConfig() *Config {
	return &Config{
		RoundTimeout:     0,
		StatusAddr:       "127.0.0.1:8080",
		LogLevel:         getLogLevel(),
		StrictInvariants: false,
	}
}

func getLogLevel() string {
	if l := os.Getenv("LOG_LEVEL"); l != "" {
		return l
	}
	return "info"
}

// Validate checks the config for obvious misconfiguration before the
// coordinator is started.
func (c *Config) Validate() error {
	if len(c.PartitionAddrs) == 0 {
		return errors.New("at least one partition address is required")
	}
	seen := make(map[string]bool, len(c.PartitionAddrs))
	for _, addr := range c.PartitionAddrs {
		if addr == "" {
			return errors.New("partition address must not be empty")
		}
		if seen[addr] {
			log.Warnf("partition address %s appears more than once in PartitionAddrs", addr)
		}
		seen[addr] = true
	}
	if c.RoundTimeout < 0 {
		return errors.Errorf("round timeout must not be negative, got %s", c.RoundTimeout)
	}
	return nil
}
