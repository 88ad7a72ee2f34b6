package transaction

import (
	"bytes"

	gbtree "github.com/google/btree"

	"github.com/GroveDB/grove/pkg/common/iterator"
)

// writeOp is one buffered mutation. A tombstone marks a pending delete.
type writeOp struct {
	key       []byte
	value     []byte
	tombstone bool
}

func opLess(a, b writeOp) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// writeSet buffers the uncommitted mutations of a write transaction in key
// order. Later writes to the same key replace earlier ones.
type writeSet struct {
	ops *gbtree.BTreeG[writeOp]
}

func newWriteSet() *writeSet {
	return &writeSet{ops: gbtree.NewG(16, opLess)}
}

func (ws *writeSet) put(key, value []byte) {
	ws.ops.ReplaceOrInsert(writeOp{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

func (ws *writeSet) delete(key []byte) {
	ws.ops.ReplaceOrInsert(writeOp{
		key:       append([]byte(nil), key...),
		tombstone: true,
	})
}

func (ws *writeSet) get(key []byte) (writeOp, bool) {
	return ws.ops.Get(writeOp{key: key})
}

func (ws *writeSet) len() int {
	return ws.ops.Len()
}

func (ws *writeSet) ascend(fn func(writeOp) error) error {
	var err error
	ws.ops.Ascend(func(op writeOp) bool {
		err = fn(op)
		return err == nil
	})
	return err
}

// iterator materializes the write set into a snapshot iterator, so the set
// can keep changing while a scan is in flight
func (ws *writeSet) iterator() iterator.Iterator {
	ops := make([]writeOp, 0, ws.ops.Len())
	ws.ops.Ascend(func(op writeOp) bool {
		ops = append(ops, op)
		return true
	})
	return &writeSetIterator{ops: ops, pos: -1}
}

// writeSetIterator iterates a frozen copy of a write set in key order
type writeSetIterator struct {
	ops []writeOp
	pos int
}

func (it *writeSetIterator) SeekToFirst() {
	it.pos = -1
	if len(it.ops) > 0 {
		it.pos = 0
	}
}

func (it *writeSetIterator) SeekToLast() {
	it.pos = len(it.ops) - 1
}

func (it *writeSetIterator) Seek(target []byte) bool {
	lo, hi := 0, len(it.ops)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(it.ops[mid].key, target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= len(it.ops) {
		it.pos = -1
		return false
	}
	it.pos = lo
	return true
}

func (it *writeSetIterator) Next() bool {
	if it.pos < 0 || it.pos+1 >= len(it.ops) {
		it.pos = -1
		return false
	}
	it.pos++
	return true
}

func (it *writeSetIterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.ops[it.pos].key
}

func (it *writeSetIterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.ops[it.pos].value
}

func (it *writeSetIterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.ops)
}

func (it *writeSetIterator) IsTombstone() bool {
	return it.Valid() && it.ops[it.pos].tombstone
}
