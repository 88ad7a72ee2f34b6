package transaction

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GroveDB/grove/pkg/btree"
	"github.com/GroveDB/grove/pkg/common/iterator"
	"github.com/GroveDB/grove/pkg/common/iterator/bounded"
	"github.com/GroveDB/grove/pkg/config"
	"github.com/GroveDB/grove/pkg/pager"
	"github.com/GroveDB/grove/pkg/stats"
	"github.com/GroveDB/grove/pkg/wal"
)

// Transaction is a snapshot-isolated view of the database. Reads see the
// tree as of the transaction's start plus the transaction's own writes;
// nothing committed afterwards is visible.
//
// A transaction is not safe for concurrent use by multiple goroutines.
type Transaction struct {
	mgr      *Manager
	id       uint64
	readOnly bool

	// Snapshot captured at begin
	root    pager.PageID
	version uint64

	mu     sync.Mutex
	closed bool
	writes *writeSet
}

// ID returns the transaction's identifier, unique within the manager
func (tx *Transaction) ID() uint64 {
	return tx.id
}

// IsReadOnly reports whether the transaction refuses mutations
func (tx *Transaction) IsReadOnly() bool {
	return tx.readOnly
}

// Get returns the value for key as seen by this transaction. The returned
// slice is a fresh allocation owned by the caller.
func (tx *Transaction) Get(key []byte) ([]byte, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return nil, ErrTransactionClosed
	}

	tx.mgr.stats.TrackOperation(stats.OpGet)

	// The transaction's own writes shadow the snapshot
	if tx.writes != nil {
		if op, ok := tx.writes.get(key); ok {
			if op.tombstone {
				return nil, btree.ErrKeyNotFound
			}
			// Non-nil even for an empty value: the caller owns the buffer
			// and nil means not-found elsewhere in the API
			out := make([]byte, len(op.value))
			copy(out, op.value)
			return out, nil
		}
	}

	value, err := tx.mgr.tree.Lookup(tx.root, key)
	if err != nil {
		return nil, err
	}
	tx.mgr.stats.TrackBytes(false, uint64(len(key)+len(value)))
	return value, nil
}

// Put buffers a write of key to value. The write becomes visible to other
// transactions only after Commit.
func (tx *Transaction) Put(key, value []byte) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return ErrTransactionClosed
	}
	if tx.readOnly {
		return ErrReadOnlyTransaction
	}
	if err := btree.ValidateKey(key); err != nil {
		return err
	}

	tx.mgr.stats.TrackOperation(stats.OpPut)
	tx.writes.put(key, value)
	return nil
}

// Delete buffers a deletion of key. Deleting a key that does not exist is
// not an error; the deletion is simply without effect at commit.
func (tx *Transaction) Delete(key []byte) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return ErrTransactionClosed
	}
	if tx.readOnly {
		return ErrReadOnlyTransaction
	}
	if err := btree.ValidateKey(key); err != nil {
		return err
	}

	tx.mgr.stats.TrackOperation(stats.OpDelete)
	tx.writes.delete(key)
	return nil
}

// NewIterator returns an iterator over the transaction's full view in key
// order: the snapshot merged with the transaction's own writes. Tombstoned
// entries are exposed with IsTombstone reporting true.
func (tx *Transaction) NewIterator() (iterator.Iterator, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return nil, ErrTransactionClosed
	}

	tx.mgr.stats.TrackOperation(stats.OpScan)

	treeIter := tx.mgr.tree.NewCursor(tx.root)
	if tx.writes == nil || tx.writes.len() == 0 {
		return treeIter, nil
	}
	return newMergedIterator(tx.writes.iterator(), treeIter), nil
}

// NewRangeIterator returns an iterator over keys in [start, end). A nil
// start begins at the first key; a nil end runs to the last.
func (tx *Transaction) NewRangeIterator(start, end []byte) (iterator.Iterator, error) {
	it, err := tx.NewIterator()
	if err != nil {
		return nil, err
	}
	return bounded.NewBoundedIterator(it, start, end), nil
}

// Commit applies the transaction's writes as one atomic tree edit, makes
// them durable, and publishes the new version. For read-only or write-free
// transactions it only ends the snapshot.
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return ErrTransactionClosed
	}
	tx.closed = true

	if tx.readOnly {
		tx.mgr.release(tx)
		tx.mgr.stats.TrackOperation(stats.OpTxCommit)
		return nil
	}

	start := time.Now()
	err := tx.commitWrites()
	tx.mgr.release(tx)
	if err != nil {
		tx.mgr.stats.TrackError("commit")
		return err
	}
	tx.mgr.stats.TrackOperationWithLatency(stats.OpTxCommit, uint64(time.Since(start).Nanoseconds()))
	return nil
}

// commitWrites runs the commit protocol while the writer slot is held:
// apply the write set as a copy-on-write edit, flush the data pages, append
// and sync the log record, then publish the new root. Pages superseded by
// the edit are queued for reclamation tagged with the new version.
func (tx *Transaction) commitWrites() error {
	defer func() { <-tx.mgr.writerSlot }()

	if tx.writes.len() == 0 {
		return nil
	}

	edit := tx.mgr.tree.NewEdit()
	root := tx.root
	entries := make([]wal.Entry, 0, tx.writes.len())

	err := tx.writes.ascend(func(op writeOp) error {
		if op.tombstone {
			newRoot, err := edit.Delete(root, op.key)
			if err == nil {
				root = newRoot
			} else if !errors.Is(err, btree.ErrKeyNotFound) {
				return err
			}
			entries = append(entries, wal.Entry{Type: wal.OpTypeDelete, Key: op.key})
			return nil
		}

		newRoot, err := edit.Insert(root, op.key, op.value)
		if err != nil {
			return err
		}
		root = newRoot
		entries = append(entries, wal.Entry{Type: wal.OpTypePut, Key: op.key, Value: op.value})
		tx.mgr.stats.TrackBytes(true, uint64(len(op.key)+len(op.value)))
		return nil
	})
	if err != nil {
		edit.Abandon()
		return err
	}

	newVersion := tx.version + 1

	// Data pages must be durable before the log record that references them
	if err := tx.mgr.tree.Pager().Flush(); err != nil {
		edit.Abandon()
		return err
	}

	rec := &wal.CommitRecord{
		Version: newVersion,
		TxnID:   tx.id,
		Root:    root,
		Entries: entries,
	}
	appendedAt := tx.mgr.log.Size()
	if err := tx.mgr.log.AppendCommit(rec); err != nil {
		edit.Abandon()
		return err
	}
	if tx.mgr.cfg.WALSyncMode == config.SyncImmediate {
		if err := tx.mgr.log.Flush(); err != nil {
			// Withdraw the unsynced record. Leaving it would let the next
			// commit append the same version again, and recovery rejects a
			// log whose versions do not increase.
			if terr := tx.mgr.log.TruncateTo(appendedAt); terr != nil {
				tx.mgr.logger.Error("failed to withdraw unsynced commit record: %v", terr)
			}
			edit.Abandon()
			return fmt.Errorf("failed to sync commit record: %w", err)
		}
	}

	tx.mgr.publish(root, newVersion)
	for _, id := range edit.Superseded() {
		tx.mgr.tree.Pager().Free(id, newVersion)
	}

	tx.mgr.logger.Debug("transaction %d committed version %d (%d entries)", tx.id, newVersion, len(entries))
	return nil
}

// Rollback discards the transaction's buffered writes and ends its
// snapshot. Rolling back an already-closed transaction is an error.
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return ErrTransactionClosed
	}
	tx.closed = true

	if !tx.readOnly {
		tx.writes = nil
		<-tx.mgr.writerSlot
	}

	tx.mgr.release(tx)
	tx.mgr.stats.TrackOperation(stats.OpTxRollback)
	return nil
}
