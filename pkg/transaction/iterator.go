package transaction

import (
	"bytes"

	"github.com/GroveDB/grove/pkg/common/iterator"
)

// mergedIterator merges a transaction's write set with the committed tree
// snapshot. On equal keys the write set wins, so the transaction observes
// its own uncommitted writes, tombstones included.
type mergedIterator struct {
	setIter  iterator.Iterator
	treeIter iterator.Iterator

	currentKey []byte
	isValid    bool
	fromSet    bool // current position comes from the write set
}

func newMergedIterator(setIter, treeIter iterator.Iterator) *mergedIterator {
	return &mergedIterator{setIter: setIter, treeIter: treeIter}
}

func (it *mergedIterator) SeekToFirst() {
	it.setIter.SeekToFirst()
	it.treeIter.SeekToFirst()
	it.selectNext()
}

func (it *mergedIterator) SeekToLast() {
	it.setIter.SeekToLast()
	it.treeIter.SeekToLast()

	setValid := it.setIter.Valid()
	treeValid := it.treeIter.Valid()

	switch {
	case !setValid && !treeValid:
		it.isValid = false
	case !treeValid:
		it.useSet()
	case !setValid:
		it.useTree()
	default:
		// Largest key wins; on a tie the write set shadows the tree
		if bytes.Compare(it.setIter.Key(), it.treeIter.Key()) >= 0 {
			it.useSet()
		} else {
			it.useTree()
		}
	}
}

func (it *mergedIterator) Seek(target []byte) bool {
	it.setIter.Seek(target)
	it.treeIter.Seek(target)
	it.selectNext()
	return it.isValid
}

func (it *mergedIterator) Next() bool {
	if !it.isValid {
		return false
	}

	// Advance whichever source produced the current key; on a shadowed key
	// both sources sit on it, so advance both.
	if it.fromSet {
		if it.treeIter.Valid() && bytes.Equal(it.treeIter.Key(), it.currentKey) {
			it.treeIter.Next()
		}
		it.setIter.Next()
	} else {
		it.treeIter.Next()
	}

	it.selectNext()
	return it.isValid
}

func (it *mergedIterator) Key() []byte {
	if !it.isValid {
		return nil
	}
	return it.currentKey
}

func (it *mergedIterator) Value() []byte {
	if !it.isValid {
		return nil
	}
	if it.fromSet {
		return it.setIter.Value()
	}
	return it.treeIter.Value()
}

func (it *mergedIterator) Valid() bool {
	return it.isValid
}

func (it *mergedIterator) IsTombstone() bool {
	return it.isValid && it.fromSet && it.setIter.IsTombstone()
}

// Error surfaces IO failures from the underlying tree cursor
func (it *mergedIterator) Error() error {
	return iterator.FirstError(it.setIter, it.treeIter)
}

// selectNext settles on the smaller of the two source keys, preferring the
// write set when they are equal
func (it *mergedIterator) selectNext() {
	setValid := it.setIter.Valid()
	treeValid := it.treeIter.Valid()

	switch {
	case !setValid && !treeValid:
		it.isValid = false
		it.currentKey = nil
	case !treeValid:
		it.useSet()
	case !setValid:
		it.useTree()
	case bytes.Compare(it.setIter.Key(), it.treeIter.Key()) <= 0:
		it.useSet()
	default:
		it.useTree()
	}
}

func (it *mergedIterator) useSet() {
	it.isValid = true
	it.fromSet = true
	it.currentKey = it.setIter.Key()
}

func (it *mergedIterator) useTree() {
	it.isValid = true
	it.fromSet = false
	it.currentKey = it.treeIter.Key()
}
