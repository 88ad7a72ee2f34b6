// Package bounded restricts an iterator to a half-open key range.
package bounded

import (
	"bytes"

	"github.com/GroveDB/grove/pkg/common/iterator"
)

// BoundedIterator wraps an iterator and limits it to [start, end).
// A nil start means iteration begins at the first key; a nil end means the
// range is unbounded above.
type BoundedIterator struct {
	iterator.Iterator
	start []byte
	end   []byte
}

// NewBoundedIterator creates a new bounded iterator. The bounds are copied
// so later mutation by the caller cannot shift the range.
func NewBoundedIterator(iter iterator.Iterator, start, end []byte) *BoundedIterator {
	bi := &BoundedIterator{Iterator: iter}
	if start != nil {
		bi.start = append([]byte(nil), start...)
	}
	if end != nil {
		bi.end = append([]byte(nil), end...)
	}
	return bi
}

// SeekToFirst positions at the first key within the range
func (b *BoundedIterator) SeekToFirst() {
	if b.start != nil {
		b.Iterator.Seek(b.start)
	} else {
		b.Iterator.SeekToFirst()
	}
}

// SeekToLast positions at the last key within the range. The shared
// iterator contract has no backward step, so with an end bound this scans
// forward from the start of the range to the last key below it.
func (b *BoundedIterator) SeekToLast() {
	if b.end == nil {
		b.Iterator.SeekToLast()
		return
	}

	b.SeekToFirst()
	var last []byte
	found := false
	for b.Iterator.Valid() && bytes.Compare(b.Iterator.Key(), b.end) < 0 {
		last = append(last[:0], b.Iterator.Key()...)
		found = true
		b.Iterator.Next()
	}
	if found {
		b.Iterator.Seek(last)
	}
	// With no key below end, the underlying iterator sits at or past the
	// bound and Valid reports false
}

// Seek positions at the first key >= target within the range
func (b *BoundedIterator) Seek(target []byte) bool {
	if b.start != nil && bytes.Compare(target, b.start) < 0 {
		target = b.start
	}
	if b.end != nil && bytes.Compare(target, b.end) >= 0 {
		return false
	}
	return b.Iterator.Seek(target) && b.inBounds()
}

// Next advances to the next key within the range
func (b *BoundedIterator) Next() bool {
	if !b.inBounds() {
		return false
	}
	return b.Iterator.Next() && b.inBounds()
}

// Valid returns true if positioned at an entry within the range
func (b *BoundedIterator) Valid() bool {
	return b.Iterator.Valid() && b.inBounds()
}

// Key returns the current key if within the range
func (b *BoundedIterator) Key() []byte {
	if !b.Valid() {
		return nil
	}
	return b.Iterator.Key()
}

// Value returns the current value if within the range
func (b *BoundedIterator) Value() []byte {
	if !b.Valid() {
		return nil
	}
	return b.Iterator.Value()
}

// IsTombstone returns true if the current entry is a deletion marker
func (b *BoundedIterator) IsTombstone() bool {
	return b.Valid() && b.Iterator.IsTombstone()
}

// Error forwards the wrapped iterator's error, if it reports one
func (b *BoundedIterator) Error() error {
	return iterator.FirstError(b.Iterator)
}

func (b *BoundedIterator) inBounds() bool {
	if !b.Iterator.Valid() {
		return false
	}
	key := b.Iterator.Key()
	if b.start != nil && bytes.Compare(key, b.start) < 0 {
		return false
	}
	if b.end != nil && bytes.Compare(key, b.end) >= 0 {
		return false
	}
	return true
}
