// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultListen is the well-known local proxy address agents are
// configured with (HTTP_PROXY=http://127.0.0.1:3840).
const DefaultListen = "127.0.0.1:3840"

// Config is the proxy daemon's YAML configuration file.
type Config struct {
	// Listen is the TCP address to bind. Must resolve to a loopback
	// address; the proxy refuses to listen on anything routable.
	Listen string `yaml:"listen"`

	// VaultPath is the encrypted credential container.
	VaultPath string `yaml:"vault_path"`

	// PolicyPath is the YAML policy document. Optional: when empty the
	// hardened default policy applies.
	PolicyPath string `yaml:"policy_path"`

	// EvidencePath is the SQLite evidence ledger database. Optional:
	// when empty the ledger is in-memory only and lost on exit.
	EvidencePath string `yaml:"evidence_path"`

	// WalletPath is the sealed wallet file used for payment
	// settlement. Optional: without it, 402 responses are never
	// settled automatically.
	WalletPath string `yaml:"wallet_path"`

	// MaxBodyBytes caps buffered request and response bodies for alias
	// rewriting and redaction. Zero applies the 10 MiB default.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

const defaultMaxBodyBytes = 10 << 20

// Validate fills defaults and checks the listen address.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	host, _, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("listen address %q is not loopback", c.Listen)
	}
	if c.VaultPath == "" {
		return fmt.Errorf("vault_path is required")
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	return nil
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}
	return &config, nil
}
