package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Version != CurrentManifestVersion {
		t.Errorf("expected version %d, got %d", CurrentManifestVersion, cfg.Version)
	}

	if cfg.ShardCount != 256 {
		t.Errorf("expected 256 shards, got %d", cfg.ShardCount)
	}

	if cfg.GenerationSize != 32*1024*1024 {
		t.Errorf("expected generation size %d, got %d", 32*1024*1024, cfg.GenerationSize)
	}

	if cfg.Router != RouterPrefix {
		t.Errorf("expected router %q, got %q", RouterPrefix, cfg.Router)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to be valid, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(*Config)
		expected string
	}{
		{
			name: "invalid version",
			mutate: func(c *Config) {
				c.Version = 0
			},
			expected: "invalid configuration: invalid version 0",
		},
		{
			name: "zero shards",
			mutate: func(c *Config) {
				c.ShardCount = 0
			},
			expected: "invalid configuration: shard count must be between 1 and 4096",
		},
		{
			name: "too many shards",
			mutate: func(c *Config) {
				c.ShardCount = MaxShardCount + 1
			},
			expected: "invalid configuration: shard count must be between 1 and 4096",
		},
		{
			name: "generation beyond u32 offsets",
			mutate: func(c *Config) {
				c.GenerationSize = 1 << 33
			},
			expected: "invalid configuration: generation size must be between 1 and 4294967295 bytes",
		},
		{
			name: "unknown router",
			mutate: func(c *Config) {
				c.Router = "random"
			},
			expected: `invalid configuration: unknown router "random"`,
		},
		{
			name: "zero index size",
			mutate: func(c *Config) {
				c.IndexInitialSize = 0
			},
			expected: "invalid configuration: index initial size must be positive and below 2GB",
		},
		{
			name: "unknown level distribution",
			mutate: func(c *Config) {
				c.LevelDistribution = "zipf"
			},
			expected: `invalid configuration: unknown level distribution "zipf"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			if err.Error() != tc.expected {
				t.Errorf("expected error %q, got %q", tc.expected, err.Error())
			}
		})
	}
}

func TestConfigManifestSaveLoad(t *testing.T) {
	tempDir := t.TempDir()

	cfg := NewDefaultConfig()
	cfg.ShardCount = 16
	cfg.GenerationSize = 1024 * 1024
	cfg.Router = RouterHash
	cfg.SyncOnRollover = true

	if err := cfg.SaveManifest(tempDir); err != nil {
		t.Fatalf("failed to save manifest: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tempDir, DefaultManifestFileName+".tmp")); !os.IsNotExist(err) {
		t.Errorf("expected temporary manifest to be renamed away")
	}

	loadedCfg, err := LoadConfigFromManifest(tempDir)
	if err != nil {
		t.Fatalf("failed to load manifest: %v", err)
	}

	if loadedCfg.ShardCount != 16 {
		t.Errorf("expected shard count 16, got %d", loadedCfg.ShardCount)
	}
	if loadedCfg.GenerationSize != 1024*1024 {
		t.Errorf("expected generation size %d, got %d", 1024*1024, loadedCfg.GenerationSize)
	}
	if loadedCfg.Router != RouterHash {
		t.Errorf("expected router %q, got %q", RouterHash, loadedCfg.Router)
	}
	if !loadedCfg.SyncOnRollover {
		t.Errorf("expected sync on rollover to be kept")
	}

	_, err = LoadConfigFromManifest(filepath.Join(tempDir, "nonexistent"))
	if err != ErrManifestNotFound {
		t.Errorf("expected ErrManifestNotFound, got %v", err)
	}
}

func TestLoadInvalidManifest(t *testing.T) {
	tempDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tempDir, DefaultManifestFileName), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfigFromManifest(tempDir); !errors.Is(err, ErrInvalidManifest) {
		t.Errorf("expected ErrInvalidManifest, got %v", err)
	}
}

func TestConfigCheckCompatible(t *testing.T) {
	base := NewDefaultConfig()

	same := base.Clone()
	same.SyncOnClose = false
	same.LevelDistribution = LevelGeometric
	if err := base.CheckCompatible(same); err != nil {
		t.Errorf("expected non-layout changes to be compatible, got %v", err)
	}

	for name, mutate := range map[string]func(*Config){
		"shards":     func(c *Config) { c.ShardCount = 8 },
		"generation": func(c *Config) { c.GenerationSize = 4096 },
		"router":     func(c *Config) { c.Router = RouterHash },
	} {
		other := base.Clone()
		mutate(other)
		if err := base.CheckCompatible(other); !errors.Is(err, ErrIncompatibleConfig) {
			t.Errorf("%s: expected ErrIncompatibleConfig, got %v", name, err)
		}
	}
}

func TestConfigUpdate(t *testing.T) {
	cfg := NewDefaultConfig()

	cfg.Update(func(c *Config) {
		c.ShardCount = 64
		c.SyncOnClose = false
	})

	if cfg.ShardCount != 64 {
		t.Errorf("expected shard count 64, got %d", cfg.ShardCount)
	}

	if cfg.SyncOnClose {
		t.Errorf("expected sync on close to be disabled")
	}
}
