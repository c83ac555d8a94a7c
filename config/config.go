// Package config loads and validates node configuration, grounded in the
// teacher repo's config.go: a JSON file loaded with encoding/json, a
// Validate method, a DefaultConfig single-node fallback, and a Save
// round-trip. Extended per spec.md §6 with Sumeragi's BFT timing/sizing
// fields and the static trusted-peers set (dynamic membership is a
// Non-goal).
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TLSConfig holds paths to the PEM files needed for mutual TLS between
// peers. When nil or all paths empty, Torii falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`
	NodeCert string `json:"node_cert"`
	NodeKey  string `json:"node_key"`
}

// PeerConfig identifies one member of the static consensus peer set.
type PeerConfig struct {
	Address   string `json:"address"`    // host:port of the peer's Torii listener
	PublicKey string `json:"public_key"` // hex-encoded ed25519 public key
}

// Mode controls Kura's reaction to a corrupt or inconsistent block file.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeFast   Mode = "fast"
)

// Config holds all node configuration, per the enumerated fields in
// spec.md §6.
type Config struct {
	ToriiURL           string       `json:"torii_url"`
	KuraBlockStorePath string       `json:"kura_block_store_path"`
	Mode               Mode         `json:"mode"`
	PublicKey          string       `json:"public_key"` // hex-encoded ed25519 public key
	KeystorePath       string       `json:"keystore_path"`
	TrustedPeers       []PeerConfig `json:"trusted_peers,omitempty"` // absent → peer set = [self]

	MaxFaultyPeers  uint32 `json:"max_faulty_peers"`
	RoundTimeoutMs  uint64 `json:"round_timeout_ms"`
	CommitTimeMs    uint64 `json:"commit_time_ms"`
	TxReceiptTimeMs uint64 `json:"tx_receipt_time_ms"`
	QueueMaxLen     int    `json:"queue_max_len"`
	MaxTxPerBlock   int    `json:"max_tx_per_block"`

	TLS *TLSConfig `json:"tls,omitempty"`
}

// RoundTimeout, CommitTime and TxReceiptTime convert the millisecond
// configuration fields to time.Duration for use by Sumeragi and Torii.
func (c *Config) RoundTimeout() time.Duration  { return time.Duration(c.RoundTimeoutMs) * time.Millisecond }
func (c *Config) CommitTime() time.Duration    { return time.Duration(c.CommitTimeMs) * time.Millisecond }
func (c *Config) TxReceiptTime() time.Duration { return time.Duration(c.TxReceiptTimeMs) * time.Millisecond }

// DefaultConfig returns a single-node development configuration
// (max_faulty_peers=0, no trusted peers beyond self).
func DefaultConfig() *Config {
	return &Config{
		ToriiURL:           "127.0.0.1:7878",
		KuraBlockStorePath: "./data/kura",
		Mode:               ModeStrict,
		KeystorePath:       "./validator.key",
		MaxFaultyPeers:     0,
		RoundTimeoutMs:     5000,
		CommitTimeMs:       2000,
		TxReceiptTimeMs:    500,
		QueueMaxLen:        1000,
		MaxTxPerBlock:      100,
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.ToriiURL == "" {
		return fmt.Errorf("torii_url must not be empty")
	}
	if c.KuraBlockStorePath == "" {
		return fmt.Errorf("kura_block_store_path must not be empty")
	}
	if c.Mode != ModeStrict && c.Mode != ModeFast {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeStrict, ModeFast, c.Mode)
	}
	if c.PublicKey != "" {
		if b, err := hex.DecodeString(c.PublicKey); err != nil || len(b) != 32 {
			return fmt.Errorf("public_key must be 64-char hex (32-byte ed25519 pubkey)")
		}
	}
	for i, p := range c.TrustedPeers {
		if p.Address == "" {
			return fmt.Errorf("trusted_peers[%d]: address must not be empty", i)
		}
		b, err := hex.DecodeString(p.PublicKey)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("trusted_peers[%d]: public_key must be 64-char hex, got %q", i, p.PublicKey)
		}
	}
	n := len(c.TrustedPeers)
	if n == 0 {
		n = 1 // peer set defaults to [self]
	}
	if uint32(n) < 3*c.MaxFaultyPeers+1 {
		return fmt.Errorf("peer set size %d violates n >= 3f+1 for max_faulty_peers=%d", n, c.MaxFaultyPeers)
	}
	if c.QueueMaxLen <= 0 {
		return fmt.Errorf("queue_max_len must be positive")
	}
	if c.MaxTxPerBlock <= 0 {
		return fmt.Errorf("max_tx_per_block must be positive")
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
