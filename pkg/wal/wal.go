// Package wal implements the commit log of the storage engine.
//
// Each committed transaction appends exactly one checksummed record naming
// the new tree root, the new version and the logical operations of the
// transaction. Because every data page of a commit is flushed before its
// record is appended, replay never rebuilds pages: it scans for the last
// intact record and republishes the root it names.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/GroveDB/grove/pkg/pager"
)

const (
	// Record framing: checksum u64 over everything after it, payload
	// length u32, record type u8
	headerSize = 13

	recordCommit = 1

	// maxRecordSize caps a single record payload. A record larger than
	// this in the file is corruption, not data.
	maxRecordSize = 64 << 20
)

// Logical operation types inside a commit record
const (
	OpTypePut    = 1
	OpTypeDelete = 2
)

var (
	ErrWALClosed     = errors.New("wal is closed")
	ErrCorruptRecord = errors.New("wal record is corrupted")
	ErrRecordTooBig  = errors.New("wal record exceeds maximum size")
)

// Entry is one logical operation of a committed transaction
type Entry struct {
	Type  uint8
	Key   []byte
	Value []byte
}

// CommitRecord describes one committed transaction
type CommitRecord struct {
	Version uint64
	TxnID   uint64
	Root    pager.PageID
	Entries []Entry
}

// WAL is an append-only log of commit records on a single file
type WAL struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	size   int64
	closed bool
}

// Open opens or creates the log file at path, positioned for appending
func Open(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open wal file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat wal file: %w", err)
	}

	return &WAL{file: file, path: path, size: info.Size()}, nil
}

// AppendCommit appends a commit record. The record is durable only after
// Flush returns.
func (w *WAL) AppendCommit(rec *CommitRecord) error {
	payload := encodeCommit(rec)
	if len(payload) > maxRecordSize {
		return ErrRecordTooBig
	}

	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(payload)))
	buf[12] = recordCommit
	copy(buf[headerSize:], payload)
	binary.LittleEndian.PutUint64(buf[0:8], xxhash.Sum64(buf[8:]))

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}
	if _, err := w.file.WriteAt(buf, w.size); err != nil {
		return fmt.Errorf("failed to append wal record: %w", err)
	}
	w.size += int64(len(buf))
	return nil
}

// Flush makes all appended records durable
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync wal file: %w", err)
	}
	return nil
}

// TruncateTo cuts the log back to offset, discarding records appended after
// it. A commit that fails between append and sync uses this to withdraw its
// record, so an aborted version number never survives into recovery.
func (w *WAL) TruncateTo(offset int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}
	if offset < 0 || offset > w.size {
		return fmt.Errorf("truncate offset %d outside log of %d bytes", offset, w.size)
	}
	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("failed to truncate wal file: %w", err)
	}
	w.size = offset
	return nil
}

// Truncate discards every record. Called after a checkpoint persists the
// state the records describe.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate wal file: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync wal file: %w", err)
	}
	w.size = 0
	return nil
}

// Size returns the current log size in bytes
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Close closes the log file without flushing
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close wal file: %w", err)
	}
	return nil
}

func encodeCommit(rec *CommitRecord) []byte {
	size := 8 + 8 + 8 + 4
	for _, e := range rec.Entries {
		size += 1 + 4 + len(e.Key) + 4 + len(e.Value)
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint64(buf[0:8], rec.Version)
	binary.LittleEndian.PutUint64(buf[8:16], rec.TxnID)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(rec.Root))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(rec.Entries)))

	off := 28
	for _, e := range rec.Entries {
		buf[off] = e.Type
		off++
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.Key)))
		off += 4
		copy(buf[off:], e.Key)
		off += len(e.Key)
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.Value)))
		off += 4
		copy(buf[off:], e.Value)
		off += len(e.Value)
	}
	return buf
}

func decodeCommit(payload []byte) (*CommitRecord, error) {
	if len(payload) < 28 {
		return nil, fmt.Errorf("%w: commit record too short", ErrCorruptRecord)
	}

	rec := &CommitRecord{
		Version: binary.LittleEndian.Uint64(payload[0:8]),
		TxnID:   binary.LittleEndian.Uint64(payload[8:16]),
		Root:    pager.PageID(binary.LittleEndian.Uint64(payload[16:24])),
	}
	count := binary.LittleEndian.Uint32(payload[24:28])

	off := 28
	for i := uint32(0); i < count; i++ {
		if off+1+4 > len(payload) {
			return nil, fmt.Errorf("%w: truncated entry header", ErrCorruptRecord)
		}
		e := Entry{Type: payload[off]}
		off++
		if e.Type != OpTypePut && e.Type != OpTypeDelete {
			return nil, fmt.Errorf("%w: unknown entry type %d", ErrCorruptRecord, e.Type)
		}

		klen := int(binary.LittleEndian.Uint32(payload[off:]))
		off += 4
		if off+klen+4 > len(payload) {
			return nil, fmt.Errorf("%w: truncated entry key", ErrCorruptRecord)
		}
		e.Key = append([]byte(nil), payload[off:off+klen]...)
		off += klen

		vlen := int(binary.LittleEndian.Uint32(payload[off:]))
		off += 4
		if off+vlen > len(payload) {
			return nil, fmt.Errorf("%w: truncated entry value", ErrCorruptRecord)
		}
		e.Value = append([]byte(nil), payload[off:off+vlen]...)
		off += vlen

		rec.Entries = append(rec.Entries, e)
	}

	if off != len(payload) {
		return nil, fmt.Errorf("%w: trailing bytes in commit record", ErrCorruptRecord)
	}
	return rec, nil
}

// ReplayResult summarizes a recovery scan
type ReplayResult struct {
	// Last intact commit record, nil when the log held none
	Last *CommitRecord

	RecordsReplayed  uint64
	RecordsTruncated uint64
}

// Replay scans the log from the start, invokes fn for every intact record in
// order, and truncates the torn tail left by a crash mid-append. A record
// that passes its checksum but does not decode is real corruption and fails
// the replay.
func (w *WAL) Replay(fn func(*CommitRecord) error) (*ReplayResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrWALClosed
	}

	res := &ReplayResult{}
	offset := int64(0)
	header := make([]byte, headerSize)

	for offset < w.size {
		if _, err := w.file.ReadAt(header, offset); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break // torn header
			}
			return nil, fmt.Errorf("failed to read wal header: %w", err)
		}

		length := binary.LittleEndian.Uint32(header[8:12])
		if length > maxRecordSize || offset+headerSize+int64(length) > w.size {
			break // torn or garbage length
		}

		body := make([]byte, headerSize-8+int(length))
		copy(body, header[8:])
		if _, err := w.file.ReadAt(body[headerSize-8:], offset+headerSize); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("failed to read wal record: %w", err)
		}

		if xxhash.Sum64(body) != binary.LittleEndian.Uint64(header[0:8]) {
			break // torn record
		}

		if header[12] != recordCommit {
			return nil, fmt.Errorf("%w: unknown record type %d", ErrCorruptRecord, header[12])
		}
		rec, err := decodeCommit(body[headerSize-8:])
		if err != nil {
			return nil, err
		}
		if err := fn(rec); err != nil {
			return nil, err
		}

		res.Last = rec
		res.RecordsReplayed++
		offset += headerSize + int64(length)
	}

	if offset < w.size {
		res.RecordsTruncated = 1
		if err := w.file.Truncate(offset); err != nil {
			return nil, fmt.Errorf("failed to truncate torn wal tail: %w", err)
		}
		if err := w.file.Sync(); err != nil {
			return nil, fmt.Errorf("failed to sync wal file: %w", err)
		}
		w.size = offset
	}

	return res, nil
}
