// Package config loads the YAML deployment configuration for
// cmd/tickcapture; cmd/benchmark also reads its simulator: section.
// Those two commands are the only packages in this module that depend
// on it; internal/wire, internal/ring, internal/network,
// internal/storage, and internal/supervisor take their settings as
// plain Go structs so they stay usable as a library outside of this
// particular CLI.
//
// The load/defaults/validate shape follows
// chycee-cryptoGo/internal/infra/config.go's LoadConfig. Settings come
// only from the YAML file and the defaults; environment variables are
// not consulted.
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of a deployment's settings file.
type Config struct {
	Network struct {
		MulticastAddr    string `yaml:"multicast_addr"`
		Port             int    `yaml:"port"`
		SocketBufferSize int    `yaml:"socket_buffer_size"`
		ScratchBufSize   int    `yaml:"scratch_buf_size"`
		EnableTimestamps bool   `yaml:"enable_timestamps"`
	} `yaml:"network"`

	Ring struct {
		Size int `yaml:"size"`
	} `yaml:"ring"`

	Storage struct {
		OutputDir       string `yaml:"output_dir"`
		BatchSize       int    `yaml:"batch_size"`
		FlushPerWrite   bool   `yaml:"flush_per_write"`
		VerifyChecksums bool   `yaml:"verify_checksums"`
	} `yaml:"storage"`

	Reporting struct {
		IntervalMS int `yaml:"interval_ms"`
	} `yaml:"reporting"`

	Coordinator struct {
		Enabled         bool     `yaml:"enabled"`
		Brokers         []string `yaml:"brokers"`
		Topic           string   `yaml:"topic"`
		NodeID          string   `yaml:"node_id"`
		HeartbeatMS     int      `yaml:"heartbeat_ms"`
	} `yaml:"coordinator"`

	Simulator struct {
		NumSymbols     int             `yaml:"num_symbols"`
		BaseMsgRate    int             `yaml:"base_msg_rate"`
		BurstSize      int             `yaml:"burst_size"`
		PriceVolatility decimal.Decimal `yaml:"price_volatility"`
		MinPrice        decimal.Decimal `yaml:"min_price"`
		MaxPrice        decimal.Decimal `yaml:"max_price"`
	} `yaml:"simulator"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// Load reads and validates a YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills in every tunable a caller left at its zero value.
// config.Load calls this automatically; callers building a Config
// entirely in-process (no YAML file) should call it directly.
func (c *Config) ApplyDefaults() {
	if c.Network.MulticastAddr == "" {
		c.Network.MulticastAddr = "239.255.0.1"
	}
	if c.Network.Port == 0 {
		c.Network.Port = 12345
	}
	if c.Network.SocketBufferSize == 0 {
		c.Network.SocketBufferSize = 33554432
	}
	if c.Network.ScratchBufSize == 0 {
		c.Network.ScratchBufSize = 262144
	}
	if c.Ring.Size == 0 {
		c.Ring.Size = 131072
	}
	if c.Storage.BatchSize == 0 {
		c.Storage.BatchSize = 32
	}
	if c.Reporting.IntervalMS == 0 {
		c.Reporting.IntervalMS = 1000
	}
	if c.Coordinator.NodeID == "" {
		c.Coordinator.NodeID = "node1"
	}
	if c.Coordinator.Topic == "" {
		c.Coordinator.Topic = "tickcapture.status"
	}
	if c.Coordinator.HeartbeatMS == 0 {
		c.Coordinator.HeartbeatMS = 1000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects settings that would otherwise fail construction
// deep inside the network or storage layers with a less actionable
// error.
func (c *Config) Validate() error {
	if c.Network.Port <= 0 || c.Network.Port > 65535 {
		return fmt.Errorf("network.port %d out of range", c.Network.Port)
	}
	if c.Ring.Size <= 0 {
		return fmt.Errorf("ring.size must be positive")
	}
	if c.Storage.OutputDir == "" {
		return fmt.Errorf("storage.output_dir is required")
	}
	if c.Coordinator.Enabled && len(c.Coordinator.Brokers) == 0 {
		return fmt.Errorf("coordinator.enabled requires at least one broker")
	}
	return nil
}
