package pager

import (
	"encoding/binary"
	"fmt"
	"io"
)

// The free list is serialized at checkpoint time into a chain of dedicated
// pages: [next page u64 | id count u32 | ids u64...]. The chain pages are
// always freshly appended to the file and the previous chain is folded back
// into the list, so a torn checkpoint never corrupts live data.
const (
	freeChainHeader = 12
	freeChainCap    = (PageSize - freeChainHeader) / 8
)

// loadFreeChain reads the serialized free list starting at head.
// Called during load, before the pager is shared.
func (p *Pager) loadFreeChain(head PageID) error {
	p.free = nil
	p.freeChain = nil

	visited := uint64(0)
	for id := head; id != NilPage; {
		if uint64(id) >= p.pageCount {
			return fmt.Errorf("%w: free-list page %d out of range", ErrCorrupted, id)
		}
		if visited++; visited > p.pageCount {
			return fmt.Errorf("%w: free-list chain contains a cycle", ErrCorrupted)
		}

		buf := make([]byte, PageSize)
		if _, err := p.file.ReadAt(buf, int64(id)*PageSize); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return fmt.Errorf("%w: truncated free-list page %d", ErrCorrupted, id)
			}
			return fmt.Errorf("failed to read free-list page %d: %w", id, err)
		}

		count := binary.LittleEndian.Uint32(buf[8:12])
		if count > freeChainCap {
			return fmt.Errorf("%w: free-list page %d claims %d ids", ErrCorrupted, id, count)
		}
		for i := uint32(0); i < count; i++ {
			fid := PageID(binary.LittleEndian.Uint64(buf[freeChainHeader+i*8:]))
			if fid == NilPage || uint64(fid) >= p.pageCount {
				return fmt.Errorf("%w: free-list entry %d out of range", ErrCorrupted, fid)
			}
			p.free = append(p.free, fid)
		}

		p.freeChain = append(p.freeChain, id)
		id = PageID(binary.LittleEndian.Uint64(buf[0:8]))
	}
	return nil
}

// writeFreeChain serializes ids into freshly appended pages and returns the
// chain head along with the pages used. Callers hold p.mu.
func (p *Pager) writeFreeChain(ids []PageID) (PageID, []PageID, error) {
	if len(ids) == 0 {
		return NilPage, nil, nil
	}

	pages := (len(ids) + freeChainCap - 1) / freeChainCap
	start := p.pageCount
	p.pageCount += uint64(pages)

	chain := make([]PageID, 0, pages)
	for i := 0; i < pages; i++ {
		id := PageID(start + uint64(i))
		chain = append(chain, id)

		lo := i * freeChainCap
		hi := lo + freeChainCap
		if hi > len(ids) {
			hi = len(ids)
		}

		buf := make([]byte, PageSize)
		next := NilPage
		if i+1 < pages {
			next = PageID(start + uint64(i+1))
		}
		binary.LittleEndian.PutUint64(buf[0:8], uint64(next))
		binary.LittleEndian.PutUint32(buf[8:12], uint32(hi-lo))
		for j, fid := range ids[lo:hi] {
			binary.LittleEndian.PutUint64(buf[freeChainHeader+j*8:], uint64(fid))
		}

		if _, err := p.file.WriteAt(buf, int64(id)*PageSize); err != nil {
			return NilPage, nil, fmt.Errorf("failed to write free-list page %d: %w", id, err)
		}
	}

	return chain[0], chain, nil
}
