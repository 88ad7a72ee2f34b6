package engine

import (
	"github.com/GroveDB/grove/pkg/common/iterator"
	"github.com/GroveDB/grove/pkg/transaction"
)

// Iterator yields the entries of a Scan in ascending key order. It pins a
// read snapshot until Close, so concurrent commits never disturb it.
type Iterator struct {
	tx *transaction.Transaction
	it iterator.Iterator

	started   bool
	exhausted bool
	closed    bool
}

// Next returns the next key-value pair. Once the range is exhausted it
// returns ErrIteratorExhausted on this and every later call. The returned
// slices are fresh allocations owned by the caller.
func (it *Iterator) Next() ([]byte, []byte, error) {
	if it.closed {
		return nil, nil, ErrIteratorClosed
	}
	if it.exhausted {
		return nil, nil, ErrIteratorExhausted
	}

	if !it.started {
		it.started = true
		it.it.SeekToFirst()
	} else {
		it.it.Next()
	}

	if !it.it.Valid() {
		if err := iterator.FirstError(it.it); err != nil {
			return nil, nil, err
		}
		it.exhausted = true
		return nil, nil, ErrIteratorExhausted
	}

	key := make([]byte, len(it.it.Key()))
	copy(key, it.it.Key())
	value := make([]byte, len(it.it.Value()))
	copy(value, it.it.Value())
	return key, value, nil
}

// Close releases the iterator's snapshot. Closing twice is harmless.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.tx.Commit()
}
