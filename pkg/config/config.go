// Package config holds the engine configuration and its on-disk manifest.
//
// Some settings describe the persisted layout (shard count, generation size,
// routing) and cannot change once a database has been created; they are
// saved in the MANIFEST file on first open and loaded from it afterwards.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
)

const (
	DefaultManifestFileName = "MANIFEST"
	CurrentManifestVersion  = 1

	// MaxShardCount bounds the number of slices an engine may open
	MaxShardCount = 4096
)

var (
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrManifestNotFound   = errors.New("manifest not found")
	ErrInvalidManifest    = errors.New("invalid manifest")
	ErrIncompatibleConfig = errors.New("configuration does not match the existing database")
)

// Router names
const (
	RouterPrefix = "prefix"
	RouterHash   = "hash"
)

// Level distribution names, see skipindex.ParseLevelDistribution
const (
	LevelUniform   = "uniform"
	LevelGeometric = "geometric"
)

type Config struct {
	Version int `json:"version"`

	// Layout, fixed at creation
	ShardCount     int    `json:"shard_count"`
	GenerationSize int64  `json:"generation_size"`
	Router         string `json:"router"`

	// Index configuration
	IndexInitialSize  int64  `json:"index_initial_size"`
	LevelDistribution string `json:"level_distribution"`

	// Durability
	SyncOnRollover bool `json:"sync_on_rollover"`
	SyncOnClose    bool `json:"sync_on_close"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentManifestVersion,

		ShardCount:     256,
		GenerationSize: 32 * 1024 * 1024, // 32MB
		Router:         RouterPrefix,

		IndexInitialSize:  8 * 1024 * 1024, // 8MB
		LevelDistribution: LevelUniform,

		SyncOnRollover: false,
		SyncOnClose:    true,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.ShardCount <= 0 || c.ShardCount > MaxShardCount {
		return fmt.Errorf("%w: shard count must be between 1 and %d", ErrInvalidConfig, MaxShardCount)
	}

	// Offsets and lengths are stored as u32
	if c.GenerationSize <= 0 || c.GenerationSize > math.MaxUint32 {
		return fmt.Errorf("%w: generation size must be between 1 and %d bytes", ErrInvalidConfig, uint64(math.MaxUint32))
	}

	switch c.Router {
	case RouterPrefix, RouterHash:
	default:
		return fmt.Errorf("%w: unknown router %q", ErrInvalidConfig, c.Router)
	}

	if c.IndexInitialSize <= 0 || c.IndexInitialSize > math.MaxInt32 {
		return fmt.Errorf("%w: index initial size must be positive and below 2GB", ErrInvalidConfig)
	}

	switch c.LevelDistribution {
	case LevelUniform, LevelGeometric:
	default:
		return fmt.Errorf("%w: unknown level distribution %q", ErrInvalidConfig, c.LevelDistribution)
	}

	return nil
}

// CheckCompatible reports whether other describes the same persisted layout
func (c *Config) CheckCompatible(other *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	if c.ShardCount != other.ShardCount {
		return fmt.Errorf("%w: shard count %d, database has %d", ErrIncompatibleConfig, other.ShardCount, c.ShardCount)
	}
	if c.GenerationSize != other.GenerationSize {
		return fmt.Errorf("%w: generation size %d, database has %d", ErrIncompatibleConfig, other.GenerationSize, c.GenerationSize)
	}
	if c.Router != other.Router {
		return fmt.Errorf("%w: router %q, database has %q", ErrIncompatibleConfig, other.Router, c.Router)
	}
	return nil
}

// Clone returns a copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:           c.Version,
		ShardCount:        c.ShardCount,
		GenerationSize:    c.GenerationSize,
		Router:            c.Router,
		IndexInitialSize:  c.IndexInitialSize,
		LevelDistribution: c.LevelDistribution,
		SyncOnRollover:    c.SyncOnRollover,
		SyncOnClose:       c.SyncOnClose,
	}
}

// LoadConfigFromManifest loads the configuration from the manifest file
func LoadConfigFromManifest(dbPath string) (*Config, error) {
	manifestPath := filepath.Join(dbPath, DefaultManifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveManifest saves the configuration to the manifest file
func (c *Config) SaveManifest(dbPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	manifestPath := filepath.Join(dbPath, DefaultManifestFileName)
	tempPath := manifestPath + ".tmp"

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.Rename(tempPath, manifestPath); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}

	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
