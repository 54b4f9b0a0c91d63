// Package config handles configuration loading and validation for raid6ctl.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/tunnelmesh/raid6/internal/blockstore"
	"github.com/tunnelmesh/raid6/internal/placement"
	"github.com/tunnelmesh/raid6/internal/raid6"
	"github.com/tunnelmesh/raid6/pkg/bytesize"
)

// StoreConfig describes the geometry and backend of a store. The geometry
// only matters when a store is created; afterwards it is read from the
// store manifest.
type StoreConfig struct {
	Path        string        `yaml:"path"`
	K           int           `yaml:"k"`
	M           int           `yaml:"m"`
	BlockSize   bytesize.Size `yaml:"block_size"`  // e.g. 4096 or "4KB"
	Rotation    string        `yaml:"rotation"`    // "shift" or "stride"
	Backend     string        `yaml:"backend"`     // "fs", "memory" or "badger"
	Compression bool          `yaml:"compression"` // zstd block compression
}

// RepairConfig holds reconstruction and scrub settings.
type RepairConfig struct {
	ContinueOnUnrecoverable bool   `yaml:"continue_on_unrecoverable"`
	ScrubInterval           string `yaml:"scrub_interval"` // Duration string, e.g. "5m"
	MaxMDSChecks            uint64 `yaml:"max_mds_checks"`
}

// Config is the raid6ctl configuration file.
type Config struct {
	Store        StoreConfig   `yaml:"store"`
	Repair       RepairConfig  `yaml:"repair"`
	MinFreeBytes bytesize.Size `yaml:"min_free_bytes"`
	LogLevel     string        `yaml:"log_level"`
	MetricsAddr  string        `yaml:"metrics_addr"`
	AuditLog     string        `yaml:"audit_log"` // JSON audit trail, disabled when empty
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = "~/.raid6"
	}
	// Expand home directory in store path
	if strings.HasPrefix(c.Store.Path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			c.Store.Path = filepath.Join(homeDir, c.Store.Path[2:])
		}
	}
	if strings.HasPrefix(c.AuditLog, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			c.AuditLog = filepath.Join(homeDir, c.AuditLog[2:])
		}
	}
	if c.Store.K == 0 {
		c.Store.K = 4
	}
	if c.Store.M == 0 {
		c.Store.M = 2
	}
	if c.Store.BlockSize == 0 {
		c.Store.BlockSize = bytesize.Size(4 * bytesize.KB)
	}
	if c.Store.Rotation == "" {
		c.Store.Rotation = string(placement.DefaultRotation)
	}
	if c.Store.Backend == "" {
		c.Store.Backend = string(blockstore.BackendFS)
	}
	if c.Repair.ScrubInterval == "" {
		c.Repair.ScrubInterval = "5m"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = "127.0.0.1:9464"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Store.K < 1 {
		return fmt.Errorf("store.k must be at least 1")
	}
	if c.Store.M < 1 {
		return fmt.Errorf("store.m must be at least 1")
	}
	if c.Store.K+c.Store.M > 256 {
		return fmt.Errorf("store.k + store.m must not exceed 256")
	}
	if c.Store.BlockSize < 1 {
		return fmt.Errorf("store.block_size must be at least 1")
	}
	if c.Store.BlockSize > bytesize.Size(bytesize.GB) {
		return fmt.Errorf("store.block_size must not exceed 1GB")
	}
	if _, err := placement.ParseRotation(c.Store.Rotation); err != nil {
		return fmt.Errorf("invalid store.rotation: %w", err)
	}
	if _, err := blockstore.ParseBackend(c.Store.Backend); err != nil {
		return fmt.Errorf("invalid store.backend: %w", err)
	}
	if c.MinFreeBytes < 0 {
		return fmt.Errorf("min_free_bytes must not be negative")
	}
	if _, err := c.ScrubInterval(); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

// ScrubInterval parses repair.scrub_interval.
func (c *Config) ScrubInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Repair.ScrubInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid repair.scrub_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("repair.scrub_interval must be positive")
	}
	return d, nil
}

// CreateOptions returns controller options that create a store with the
// configured geometry, or reopen a matching one.
func (c *Config) CreateOptions() raid6.Options {
	opts := c.OpenOptions()
	opts.K = c.Store.K
	opts.M = c.Store.M
	opts.BlockSize = int(c.Store.BlockSize)
	opts.Rotation = placement.Rotation(c.Store.Rotation)
	opts.Backend = blockstore.Backend(c.Store.Backend)
	opts.Compression = c.Store.Compression
	return opts
}

// OpenOptions returns controller options that reopen the store at the
// configured path with whatever geometry it was created with.
func (c *Config) OpenOptions() raid6.Options {
	opts := raid6.Options{
		Path:                    c.Store.Path,
		MinFreeBytes:            c.MinFreeBytes.Int64(),
		ContinueOnUnrecoverable: c.Repair.ContinueOnUnrecoverable,
		MaxMDSChecks:            c.Repair.MaxMDSChecks,
	}
	if c.Store.Backend == string(blockstore.BackendMemory) {
		opts.Backend = blockstore.BackendMemory
	}
	return opts
}
