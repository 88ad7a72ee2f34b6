// Package config holds the tunable settings of a Grove database.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// SyncMode controls when the write-ahead log is fsynced
type SyncMode int

const (
	// SyncImmediate flushes and fsyncs the WAL inside every commit. This is
	// the default: a successful commit is durable before it returns.
	SyncImmediate SyncMode = iota

	// SyncNone leaves fsync to the OS. Commits are atomic but a crash may
	// lose the most recent ones. Useful for bulk loads and tests.
	SyncNone
)

// WriterPolicy controls how beginning a read-write transaction behaves while
// another writer is active
type WriterPolicy int

const (
	// WriterBlock waits for the active writer to commit or roll back
	WriterBlock WriterPolicy = iota

	// WriterFail returns ErrWriterBusy instead of waiting
	WriterFail
)

// Config holds the configuration for a database instance
type Config struct {
	// WALSyncMode controls commit durability
	WALSyncMode SyncMode

	// WriterPolicy controls writer admission
	WriterPolicy WriterPolicy

	// DataFileName and WALFileName are the file names inside the database
	// directory
	DataFileName string
	WALFileName  string
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig() *Config {
	return &Config{
		WALSyncMode:  SyncImmediate,
		WriterPolicy: WriterBlock,
		DataFileName: "grove.db",
		WALFileName:  "grove.wal",
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.WALSyncMode != SyncImmediate && c.WALSyncMode != SyncNone {
		return fmt.Errorf("%w: unknown WAL sync mode %d", ErrInvalidConfig, c.WALSyncMode)
	}
	if c.WriterPolicy != WriterBlock && c.WriterPolicy != WriterFail {
		return fmt.Errorf("%w: unknown writer policy %d", ErrInvalidConfig, c.WriterPolicy)
	}
	if c.DataFileName == "" || c.WALFileName == "" {
		return fmt.Errorf("%w: data and WAL file names must be set", ErrInvalidConfig)
	}
	if c.DataFileName == c.WALFileName {
		return fmt.Errorf("%w: data and WAL file names collide", ErrInvalidConfig)
	}
	return nil
}

// DataPath returns the path of the page file inside dbDir
func (c *Config) DataPath(dbDir string) string {
	return filepath.Join(dbDir, c.DataFileName)
}

// WALPath returns the path of the write-ahead log inside dbDir
func (c *Config) WALPath(dbDir string) string {
	return filepath.Join(dbDir, c.WALFileName)
}
