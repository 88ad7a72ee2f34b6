// Package transaction provides snapshot-isolated transactions over the
// copy-on-write tree.
//
// Reads run against the tree root captured when the transaction began and
// never block. Writes are buffered in a per-transaction write set and
// applied as a single tree edit at commit, under a single-writer regime:
// at most one write transaction holds the writer slot at a time, so commits
// never conflict and never retry.
package transaction

import (
	"sync"

	"github.com/GroveDB/grove/pkg/btree"
	"github.com/GroveDB/grove/pkg/common/log"
	"github.com/GroveDB/grove/pkg/config"
	"github.com/GroveDB/grove/pkg/pager"
	"github.com/GroveDB/grove/pkg/stats"
	"github.com/GroveDB/grove/pkg/wal"
)

// Manager hands out transactions and owns the committed root pointer
type Manager struct {
	tree   *btree.Tree
	log    *wal.WAL
	cfg    *config.Config
	stats  stats.Collector
	logger log.Logger

	// writerSlot serializes write transactions; holding the token is
	// holding the right to commit
	writerSlot chan struct{}

	mu        sync.Mutex
	closed    bool
	root      pager.PageID
	version   uint64
	nextTxnID uint64
	active    int
	// readers counts live snapshots per version, for page reclamation
	readers map[uint64]int
}

// NewManager creates a transaction manager over the given tree and log.
// The committed root and version are taken from the tree's pager; call
// SetCommitted first when recovery moved past the persisted header.
func NewManager(tree *btree.Tree, walLog *wal.WAL, cfg *config.Config, collector stats.Collector, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	root, version := tree.Pager().Root()
	return &Manager{
		tree:       tree,
		log:        walLog,
		cfg:        cfg,
		stats:      collector,
		logger:     logger,
		writerSlot: make(chan struct{}, 1),
		root:       root,
		version:    version,
		readers:    make(map[uint64]int),
	}
}

// SetCommitted overrides the committed root and version, used after log
// replay recovers commits newer than the persisted header
func (m *Manager) SetCommitted(root pager.PageID, version uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = root
	m.version = version
}

// Committed returns the current committed root and version
func (m *Manager) Committed() (pager.PageID, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root, m.version
}

// ActiveTransactionCount returns the number of transactions that have begun
// but not yet committed or rolled back
func (m *Manager) ActiveTransactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Close marks the manager closed. New transactions are refused; the caller
// is responsible for ensuring none are active.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// BeginTransaction starts a transaction. Read-only transactions capture the
// committed root and return immediately. Write transactions first acquire
// the writer slot: they block until it frees, or fail with ErrWriterBusy
// under the fail-fast policy.
func (m *Manager) BeginTransaction(readOnly bool) (*Transaction, error) {
	m.stats.TrackOperation(stats.OpTxBegin)

	if readOnly {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return nil, ErrManagerClosed
		}
		return m.newTransactionLocked(true), nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.mu.Unlock()

	if m.cfg.WriterPolicy == config.WriterFail {
		select {
		case m.writerSlot <- struct{}{}:
		default:
			return nil, ErrWriterBusy
		}
	} else {
		m.writerSlot <- struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		<-m.writerSlot
		return nil, ErrManagerClosed
	}

	tx := m.newTransactionLocked(false)
	tx.writes = newWriteSet()
	return tx, nil
}

// newTransactionLocked snapshots the committed state into a new transaction.
// Callers hold m.mu. A writer calls this after taking the writer slot, so
// its snapshot is always the latest committed version.
func (m *Manager) newTransactionLocked(readOnly bool) *Transaction {
	m.nextTxnID++
	m.active++
	m.readers[m.version]++

	m.logger.Debug("transaction %d started (readonly=%t, version=%d)", m.nextTxnID, readOnly, m.version)

	return &Transaction{
		mgr:      m,
		id:       m.nextTxnID,
		readOnly: readOnly,
		root:     m.root,
		version:  m.version,
	}
}

// publish installs a freshly committed root. Called by the committing
// transaction while it still holds the writer slot.
func (m *Manager) publish(root pager.PageID, version uint64) {
	m.mu.Lock()
	m.root = root
	m.version = version
	m.mu.Unlock()
	m.tree.Pager().SetRoot(root, version)
}

// release ends a transaction's snapshot registration and reclaims any pages
// no remaining snapshot can reference
func (m *Manager) release(tx *Transaction) {
	m.mu.Lock()
	m.active--
	if m.readers[tx.version]--; m.readers[tx.version] == 0 {
		delete(m.readers, tx.version)
	}

	minActive := m.version
	for v := range m.readers {
		if v < minActive {
			minActive = v
		}
	}
	m.mu.Unlock()

	m.tree.Pager().ReleaseUpTo(minActive)
}
