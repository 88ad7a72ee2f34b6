// Package engine provides the top-level interface to a Grove database: a
// single-file embedded key-value store with snapshot-isolated transactions,
// copy-on-write storage and write-ahead logging.
//
// An Engine ties the lower layers together and is the only type most
// applications need. All methods are safe for concurrent use.
package engine

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/GroveDB/grove/pkg/btree"
	"github.com/GroveDB/grove/pkg/common/log"
	"github.com/GroveDB/grove/pkg/config"
	"github.com/GroveDB/grove/pkg/pager"
	"github.com/GroveDB/grove/pkg/stats"
	"github.com/GroveDB/grove/pkg/transaction"
	"github.com/GroveDB/grove/pkg/wal"
)

// Engine is a handle to an open database
type Engine struct {
	dbDir  string
	cfg    *config.Config
	logger log.Logger
	stats  stats.Collector

	pager *pager.Pager
	tree  *btree.Tree
	wal   *wal.WAL
	txMgr *transaction.Manager

	mu     sync.Mutex
	closed bool
}

// Open opens or creates a database in dbDir with default configuration
func Open(dbDir string) (*Engine, error) {
	return OpenWithConfig(dbDir, config.NewDefaultConfig())
}

// OpenWithConfig opens or creates a database in dbDir. Opening includes
// recovery: intact commits found in the log that postdate the persisted
// header are reapplied before the engine accepts transactions.
func OpenWithConfig(dbDir string, cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger := log.GetDefaultLogger().WithField("component", "engine")
	collector := stats.NewAtomicCollector()

	p, err := pager.Open(cfg.DataPath(dbDir))
	if err != nil {
		return nil, err
	}

	w, err := wal.Open(cfg.WALPath(dbDir))
	if err != nil {
		p.Close()
		return nil, err
	}

	e := &Engine{
		dbDir:  dbDir,
		cfg:    cfg,
		logger: logger,
		stats:  collector,
		pager:  p,
		tree:   btree.New(p),
		wal:    w,
	}

	if err := e.recover(); err != nil {
		w.Close()
		p.Close()
		return nil, err
	}

	e.txMgr = transaction.NewManager(e.tree, w, cfg, collector, logger)
	return e, nil
}

// recover replays the commit log against the persisted header. Data pages
// were flushed before their log record was appended, so recovery only needs
// to republish the newest intact root; replaying twice is harmless.
func (e *Engine) recover() error {
	start := e.stats.StartRecovery()

	var last *wal.CommitRecord
	res, err := e.wal.Replay(func(rec *wal.CommitRecord) error {
		if last != nil && rec.Version <= last.Version {
			return fmt.Errorf("%w: commit versions not increasing", wal.ErrCorruptRecord)
		}
		last = rec
		return nil
	})
	if err != nil {
		return err
	}

	_, headerVersion := e.pager.Root()
	if last != nil && last.Version > headerVersion {
		e.logger.Info("recovering to version %d (header at %d, %d commits replayed)",
			last.Version, headerVersion, res.RecordsReplayed)

		// The persisted free list predates the recovered commits and may
		// name pages the recovered tree occupies
		e.pager.SetRoot(last.Root, last.Version)
		e.pager.DiscardFreeList()
	}

	if res.RecordsReplayed > 0 || res.RecordsTruncated > 0 {
		// Fold the recovered state into the header, then the log can empty
		if err := e.pager.Checkpoint(); err != nil {
			return err
		}
		if err := e.wal.Truncate(); err != nil {
			return err
		}
	}

	e.stats.FinishRecovery(start, res.RecordsReplayed, res.RecordsTruncated)
	return nil
}

// BeginTransaction starts a transaction. Read-only transactions see a
// frozen snapshot and never block; write transactions are serialized per
// the configured writer policy.
func (e *Engine) BeginTransaction(readOnly bool) (*transaction.Transaction, error) {
	tx, err := e.txMgr.BeginTransaction(readOnly)
	if err == transaction.ErrManagerClosed {
		return nil, ErrEngineClosed
	}
	return tx, err
}

// Get retrieves the value for key in a one-off read snapshot
func (e *Engine) Get(key []byte) ([]byte, error) {
	tx, err := e.BeginTransaction(true)
	if err != nil {
		return nil, err
	}
	defer tx.Commit()
	return tx.Get(key)
}

// Put stores key to value in a single auto-committed transaction
func (e *Engine) Put(key, value []byte) error {
	tx, err := e.BeginTransaction(false)
	if err != nil {
		return err
	}
	if err := tx.Put(key, value); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Delete removes key in a single auto-committed transaction. Deleting a key
// that does not exist is not an error.
func (e *Engine) Delete(key []byte) error {
	tx, err := e.BeginTransaction(false)
	if err != nil {
		return err
	}
	if err := tx.Delete(key); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Scan returns an iterator over keys in [start, end) against a snapshot
// taken now. A nil start begins at the first key; a nil end runs to the
// last. The iterator must be closed to release its snapshot.
func (e *Engine) Scan(start, end []byte) (*Iterator, error) {
	tx, err := e.BeginTransaction(true)
	if err != nil {
		return nil, err
	}
	it, err := tx.NewRangeIterator(start, end)
	if err != nil {
		tx.Commit()
		return nil, err
	}
	return &Iterator{tx: tx, it: it}, nil
}

// DatabaseID returns the identifier assigned when the database was created
func (e *Engine) DatabaseID() uuid.UUID {
	return e.pager.UUID()
}

// Path returns the database directory
func (e *Engine) Path() string {
	return e.dbDir
}

// Stats returns statistics from all engine components
func (e *Engine) Stats() map[string]interface{} {
	out := e.stats.GetStats()
	for k, v := range e.pager.GetStorageStats() {
		out["storage_"+k] = v
	}
	_, version := e.txMgr.Committed()
	out["committed_version"] = version
	out["active_transactions"] = e.txMgr.ActiveTransactionCount()
	out["wal_size_bytes"] = e.wal.Size()
	return out
}

// Close shuts the engine down, checkpointing the final state. It refuses
// with ErrActiveTransactions while transactions are in flight so no commit
// can race the shutdown.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	if e.txMgr.ActiveTransactionCount() > 0 {
		e.mu.Unlock()
		return ErrActiveTransactions
	}
	e.txMgr.Close()
	if e.txMgr.ActiveTransactionCount() > 0 {
		// Lost the race with a transaction that began before the manager
		// closed; the caller must end it and try again
		e.mu.Unlock()
		return ErrActiveTransactions
	}
	e.closed = true
	e.mu.Unlock()

	// The checkpoint inside pager.Close persists everything the log
	// records, so the log empties afterwards. A crash in between replays
	// commits the header already has, which recovery ignores.
	err := e.pager.Close()

	if terr := e.wal.Truncate(); terr != nil && err == nil {
		err = terr
	}
	if cerr := e.wal.Close(); cerr != nil && err == nil {
		err = cerr
	}

	e.logger.Info("engine closed (path=%s)", e.dbDir)
	return err
}
