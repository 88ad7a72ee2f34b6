package pager

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Header layout on page 0, all integers little-endian:
//
//	0..8    magic
//	8..16   xxhash64 of bytes 16..80
//	16..20  format version
//	20..24  page size
//	24..40  database uuid
//	40..48  creation time (unix nanos)
//	48..56  committed root page
//	56..64  committed version
//	64..72  page count
//	72..80  free-list head page
const (
	metaMagic   = "GROVEDB1"
	metaFormat  = 1
	metaEnd     = 80
	offChecksum = 8
	offFormat   = 16
	offPageSize = 20
	offUUID     = 24
	offCreated  = 40
	offRoot     = 48
	offVersion  = 56
	offCount    = 64
	offFreeHead = 72
)

// initialize writes a fresh header for an empty file
func (p *Pager) initialize() error {
	p.pageCount = 1
	p.root = NilPage
	p.version = 0
	p.dbid = uuid.New()
	p.created = time.Now().UnixNano()

	if err := p.writeMeta(NilPage); err != nil {
		return err
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync page file: %w", err)
	}
	return nil
}

// load reads and validates the header of an existing file
func (p *Pager) load(size int64) error {
	if size < PageSize {
		return fmt.Errorf("%w: file smaller than one page", ErrCorrupted)
	}

	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, 0); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: truncated header", ErrCorrupted)
		}
		return fmt.Errorf("failed to read header: %w", err)
	}

	if !bytes.Equal(buf[:8], []byte(metaMagic)) {
		return fmt.Errorf("%w: bad magic", ErrCorrupted)
	}
	stored := binary.LittleEndian.Uint64(buf[offChecksum:])
	if computed := xxhash.Sum64(buf[offFormat:metaEnd]); computed != stored {
		return fmt.Errorf("%w: header checksum mismatch (stored %d, computed %d)",
			ErrCorrupted, stored, computed)
	}
	if format := binary.LittleEndian.Uint32(buf[offFormat:]); format != metaFormat {
		return fmt.Errorf("%w: unsupported format version %d", ErrCorrupted, format)
	}
	if ps := binary.LittleEndian.Uint32(buf[offPageSize:]); ps != PageSize {
		return fmt.Errorf("%w: page size %d does not match %d", ErrCorrupted, ps, PageSize)
	}

	copy(p.dbid[:], buf[offUUID:offUUID+16])
	p.created = int64(binary.LittleEndian.Uint64(buf[offCreated:]))
	p.root = PageID(binary.LittleEndian.Uint64(buf[offRoot:]))
	p.version = binary.LittleEndian.Uint64(buf[offVersion:])
	p.pageCount = binary.LittleEndian.Uint64(buf[offCount:])

	// Pages flushed after the last checkpoint extend the file beyond the
	// recorded count; trust the file.
	if fromFile := uint64(size / PageSize); fromFile > p.pageCount {
		p.pageCount = fromFile
	}
	if p.pageCount == 0 {
		p.pageCount = 1
	}
	if uint64(p.root) >= p.pageCount {
		return fmt.Errorf("%w: root page %d out of range", ErrCorrupted, p.root)
	}

	head := PageID(binary.LittleEndian.Uint64(buf[offFreeHead:]))
	return p.loadFreeChain(head)
}

// writeMeta rewrites page 0. Callers hold p.mu.
func (p *Pager) writeMeta(freeHead PageID) error {
	buf := make([]byte, PageSize)
	copy(buf[:8], metaMagic)
	binary.LittleEndian.PutUint32(buf[offFormat:], metaFormat)
	binary.LittleEndian.PutUint32(buf[offPageSize:], PageSize)
	copy(buf[offUUID:], p.dbid[:])
	binary.LittleEndian.PutUint64(buf[offCreated:], uint64(p.created))
	binary.LittleEndian.PutUint64(buf[offRoot:], uint64(p.root))
	binary.LittleEndian.PutUint64(buf[offVersion:], p.version)
	binary.LittleEndian.PutUint64(buf[offCount:], p.pageCount)
	binary.LittleEndian.PutUint64(buf[offFreeHead:], uint64(freeHead))
	binary.LittleEndian.PutUint64(buf[offChecksum:], xxhash.Sum64(buf[offFormat:metaEnd]))

	if _, err := p.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}
