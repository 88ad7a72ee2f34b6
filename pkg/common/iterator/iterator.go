// Package iterator defines the common iteration interface shared by the
// storage engine components. Cursors over the on-disk tree, transaction
// write sets and their merged views all implement it, so range scans can be
// composed without caring where entries live.
package iterator

// Iterator traverses key-value pairs in ascending key order.
type Iterator interface {
	// SeekToFirst positions the iterator at the first key
	SeekToFirst()

	// SeekToLast positions the iterator at the last key
	SeekToLast()

	// Seek positions the iterator at the first key >= target
	Seek(target []byte) bool

	// Next advances the iterator to the next key
	Next() bool

	// Key returns the current key
	Key() []byte

	// Value returns the current value
	Value() []byte

	// Valid returns true if the iterator is positioned at a valid entry
	Valid() bool

	// IsTombstone returns true if the current entry is a deletion marker.
	// Only write-set iterators produce tombstones; iterators over committed
	// tree pages never do.
	IsTombstone() bool
}

// Errorer is implemented by iterators that can fail mid-traversal, such as
// cursors reading pages from disk. Composed iterators forward the first
// error they observe.
type Errorer interface {
	// Error returns the first error encountered during iteration, if any
	Error() error
}

// FirstError returns the first error reported by any of the given iterators
// that implement Errorer.
func FirstError(iters ...Iterator) error {
	for _, it := range iters {
		if e, ok := it.(Errorer); ok {
			if err := e.Error(); err != nil {
				return err
			}
		}
	}
	return nil
}
