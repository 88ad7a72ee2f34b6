// Package pager manages fixed-size pages on a single backing file.
//
// Pages are addressed by integer identifiers so tree versions can share
// subtrees without memory links. Page 0 holds the database header; it is
// never handed out by Allocate. Freed pages go through an epoch scheme:
// a page freed at version v becomes allocatable only once no active reader
// snapshot can still reference it.
package pager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
)

const (
	// PageSize is the fixed size of every page in bytes
	PageSize = 4096
)

// PageID identifies a page within the backing file
type PageID uint64

// NilPage is the zero PageID. Page 0 holds the header, so NilPage doubles
// as the "no page" sentinel (an empty tree has a NilPage root).
const NilPage PageID = 0

var (
	ErrPagerClosed = errors.New("pager is closed")
	ErrInvalidPage = errors.New("page id out of range")
	ErrCorrupted   = errors.New("page file is corrupted")
	ErrPageSize    = errors.New("buffer is not exactly one page")
)

// pendingFree is a page awaiting reclamation. The page was superseded by
// the commit that produced freedAt, so readers with older snapshots may
// still reference it.
type pendingFree struct {
	id      PageID
	freedAt uint64
}

// Pager provides allocation, read/write and durability primitives over the
// page file
type Pager struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	closed    bool
	pageCount uint64

	// Committed root as persisted in the header at the last checkpoint
	root    PageID
	version uint64

	dbid    uuid.UUID
	created int64

	free      []PageID
	pending   []pendingFree
	freeChain []PageID // pages occupied by the serialized free list
}

// Open opens or creates the page file at path
func Open(path string) (*Pager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open page file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat page file: %w", err)
	}

	p := &Pager{file: file, path: path}

	if info.Size() == 0 {
		if err := p.initialize(); err != nil {
			file.Close()
			return nil, err
		}
		return p, nil
	}

	if err := p.load(info.Size()); err != nil {
		file.Close()
		return nil, err
	}
	return p, nil
}

// Allocate returns a page id ready for writing, reusing a reclaimed page
// when one is available
func (p *Pager) Allocate() (PageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return NilPage, ErrPagerClosed
	}

	if n := len(p.free); n > 0 {
		id := p.free[n-1]
		p.free = p.free[:n-1]
		return id, nil
	}

	id := PageID(p.pageCount)
	p.pageCount++
	return id, nil
}

// Read returns the contents of the given page
func (p *Pager) Read(id PageID) ([]byte, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPagerClosed
	}
	if id == NilPage || uint64(id) >= p.pageCount {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrInvalidPage, id)
	}
	p.mu.Unlock()

	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, int64(id)*PageSize); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: page %d beyond file end", ErrCorrupted, id)
		}
		return nil, fmt.Errorf("failed to read page %d: %w", id, err)
	}
	return buf, nil
}

// Write stores the contents of the given page. The data must be exactly one
// page long.
func (p *Pager) Write(id PageID, data []byte) error {
	if len(data) != PageSize {
		return ErrPageSize
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPagerClosed
	}
	if id == NilPage || uint64(id) >= p.pageCount {
		p.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidPage, id)
	}
	p.mu.Unlock()

	if _, err := p.file.WriteAt(data, int64(id)*PageSize); err != nil {
		return fmt.Errorf("failed to write page %d: %w", id, err)
	}
	return nil
}

// Free marks a page as superseded by the commit that produced version. The
// page stays readable until ReleaseUpTo reclaims it.
func (p *Pager) Free(id PageID, version uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || id == NilPage {
		return
	}
	p.pending = append(p.pending, pendingFree{id: id, freedAt: version})
}

// FreeNow returns a page to the free list immediately. Only valid for pages
// that were never part of a published root, such as copy-on-write pages of
// an aborted commit.
func (p *Pager) FreeNow(id PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || id == NilPage {
		return
	}
	p.free = append(p.free, id)
}

// ReleaseUpTo reclaims pending pages whose freeing version is visible to
// every remaining reader, i.e. freedAt <= minActive
func (p *Pager) ReleaseUpTo(minActive uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	kept := p.pending[:0]
	for _, pf := range p.pending {
		if pf.freedAt <= minActive {
			p.free = append(p.free, pf.id)
		} else {
			kept = append(kept, pf)
		}
	}
	p.pending = kept
}

// Flush makes all previously issued page writes durable
func (p *Pager) Flush() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPagerClosed
	}
	p.mu.Unlock()

	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync page file: %w", err)
	}
	return nil
}

// SetRoot records the committed root and version. The header on disk is
// only rewritten at the next Checkpoint.
func (p *Pager) SetRoot(root PageID, version uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.root = root
	p.version = version
}

// Root returns the committed root and version as currently known
func (p *Pager) Root() (PageID, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.root, p.version
}

// UUID returns the database instance identifier
func (p *Pager) UUID() uuid.UUID {
	return p.dbid
}

// DiscardFreeList drops the free list loaded from the header. Required
// after WAL recovery advances past the checkpointed version: the stale list
// may name pages the recovered root now occupies. The dropped pages are
// leaked until a future rewrite, which is safe.
func (p *Pager) DiscardFreeList() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = nil
	p.pending = nil
	p.freeChain = nil
}

// Checkpoint persists the header and the free list and syncs the file.
// Pending frees are folded into the free list, so it must only be called
// when no reader snapshots are active.
func (p *Pager) Checkpoint() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPagerClosed
	}

	ids := make([]PageID, 0, len(p.free)+len(p.pending)+len(p.freeChain))
	ids = append(ids, p.free...)
	for _, pf := range p.pending {
		ids = append(ids, pf.id)
	}
	// The previous free-list chain is itself reusable once replaced
	ids = append(ids, p.freeChain...)

	head, chain, err := p.writeFreeChain(ids)
	if err != nil {
		return err
	}

	p.free = ids
	p.pending = nil
	p.freeChain = chain

	if err := p.writeMeta(head); err != nil {
		return err
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync page file: %w", err)
	}
	return nil
}

// Close checkpoints and closes the page file
func (p *Pager) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	err := p.Checkpoint()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	if cerr := p.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close page file: %w", cerr)
	}
	return err
}

// GetStorageStats returns statistics about page usage
func (p *Pager) GetStorageStats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]interface{}{
		"page_size":     PageSize,
		"page_count":    p.pageCount,
		"free_pages":    len(p.free),
		"pending_frees": len(p.pending),
	}
}
