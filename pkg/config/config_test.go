package config

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.WALSyncMode != SyncImmediate {
		t.Error("default sync mode should be SyncImmediate")
	}
	if cfg.WriterPolicy != WriterBlock {
		t.Error("default writer policy should be WriterBlock")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad sync mode", func(c *Config) { c.WALSyncMode = SyncMode(42) }},
		{"bad writer policy", func(c *Config) { c.WriterPolicy = WriterPolicy(42) }},
		{"empty data file", func(c *Config) { c.DataFileName = "" }},
		{"empty wal file", func(c *Config) { c.WALFileName = "" }},
		{"colliding names", func(c *Config) { c.WALFileName = c.DataFileName }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := NewDefaultConfig()
	dir := filepath.Join("some", "dir")

	if got := cfg.DataPath(dir); got != filepath.Join(dir, "grove.db") {
		t.Errorf("DataPath = %q", got)
	}
	if got := cfg.WALPath(dir); got != filepath.Join(dir, "grove.wal") {
		t.Errorf("WALPath = %q", got)
	}
}
