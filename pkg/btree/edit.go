package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/GroveDB/grove/pkg/pager"
)

// Edit applies a batch of copy-on-write mutations and tracks page turnover.
//
// Pages the edit allocates are recorded so a failed commit can return them
// to the free list; pages it replaces are recorded so a successful commit
// can schedule them for reclamation once no snapshot references them.
// A page allocated and replaced within the same edit short-circuits straight
// back to the free list: no published root ever saw it.
type Edit struct {
	t          *Tree
	allocated  map[pager.PageID]bool
	superseded []pager.PageID
}

// NewEdit starts an edit over the tree's pager
func (t *Tree) NewEdit() *Edit {
	return &Edit{
		t:         t,
		allocated: make(map[pager.PageID]bool),
	}
}

// Allocated returns the pages this edit has written
func (e *Edit) Allocated() []pager.PageID {
	out := make([]pager.PageID, 0, len(e.allocated))
	for id := range e.allocated {
		out = append(out, id)
	}
	return out
}

// Superseded returns the previously committed pages this edit replaced
func (e *Edit) Superseded() []pager.PageID {
	return e.superseded
}

// Abandon returns every page the edit allocated to the free list. The edit
// must not be used afterwards.
func (e *Edit) Abandon() {
	for id := range e.allocated {
		e.t.p.FreeNow(id)
	}
	e.allocated = nil
	e.superseded = nil
}

// retire records that a page is no longer part of the tree being built
func (e *Edit) retire(id pager.PageID) {
	if id == pager.NilPage {
		return
	}
	if e.allocated[id] {
		delete(e.allocated, id)
		e.t.p.FreeNow(id)
		return
	}
	e.superseded = append(e.superseded, id)
}

func (e *Edit) writeNode(n *node) (pager.PageID, error) {
	id, err := e.t.p.Allocate()
	if err != nil {
		return pager.NilPage, err
	}
	if err := e.t.p.Write(id, n.encode()); err != nil {
		return pager.NilPage, err
	}
	e.allocated[id] = true
	return id, nil
}

// Insert adds or replaces key in the tree rooted at root and returns the
// root of the new version
func (e *Edit) Insert(root pager.PageID, key, value []byte) (pager.PageID, error) {
	if err := ValidateKey(key); err != nil {
		return pager.NilPage, err
	}

	if root == pager.NilPage {
		v, err := e.writeValue(value)
		if err != nil {
			return pager.NilPage, err
		}
		leaf := &node{
			leaf: true,
			keys: [][]byte{append([]byte(nil), key...)},
			vals: []leafValue{v},
		}
		return e.writeNode(leaf)
	}

	newRoot, split, err := e.insertNode(root, key, value, 0)
	if err != nil {
		return pager.NilPage, err
	}
	if split == nil {
		return newRoot, nil
	}

	// Root overflowed: grow the tree by one level
	top := &node{
		keys:     [][]byte{split.sep},
		children: []pager.PageID{split.left, split.right},
	}
	return e.writeNode(top)
}

// Delete removes key from the tree rooted at root and returns the root of
// the new version. ErrKeyNotFound leaves the tree untouched.
func (e *Edit) Delete(root pager.PageID, key []byte) (pager.PageID, error) {
	if root == pager.NilPage {
		return pager.NilPage, ErrKeyNotFound
	}

	newRoot, err := e.deleteNode(root, key, 0)
	if err != nil {
		return pager.NilPage, err
	}

	// Collapse chains of single-child internal roots so every leaf stays at
	// the same depth
	for newRoot != pager.NilPage {
		n, err := e.t.readNode(newRoot)
		if err != nil {
			return pager.NilPage, err
		}
		if n.leaf || len(n.children) != 1 {
			break
		}
		e.retire(newRoot)
		newRoot = n.children[0]
	}
	return newRoot, nil
}

type splitResult struct {
	sep   []byte
	left  pager.PageID
	right pager.PageID
}

func (e *Edit) insertNode(id pager.PageID, key, value []byte, depth int) (pager.PageID, *splitResult, error) {
	if depth >= maxDepth {
		return pager.NilPage, nil, fmt.Errorf("%w: tree deeper than %d levels", ErrCorruptNode, maxDepth)
	}

	n, err := e.t.readNode(id)
	if err != nil {
		return pager.NilPage, nil, err
	}

	if n.leaf {
		idx, found := findKey(n.keys, key)
		v, err := e.writeValue(value)
		if err != nil {
			return pager.NilPage, nil, err
		}
		if found {
			if err := e.freeValue(n.vals[idx]); err != nil {
				return pager.NilPage, nil, err
			}
			n.vals[idx] = v
		} else {
			n.keys = insertKey(n.keys, idx, append([]byte(nil), key...))
			n.vals = insertVal(n.vals, idx, v)
		}
		e.retire(id)
		return e.writeOrSplit(n)
	}

	ci := upperBound(n.keys, key)
	newChild, split, err := e.insertNode(n.children[ci], key, value, depth+1)
	if err != nil {
		return pager.NilPage, nil, err
	}

	if split == nil {
		n.children[ci] = newChild
	} else {
		n.keys = insertKey(n.keys, ci, split.sep)
		n.children[ci] = split.left
		n.children = insertChild(n.children, ci+1, split.right)
	}
	e.retire(id)
	return e.writeOrSplit(n)
}

func (e *Edit) deleteNode(id pager.PageID, key []byte, depth int) (pager.PageID, error) {
	if depth >= maxDepth {
		return pager.NilPage, fmt.Errorf("%w: tree deeper than %d levels", ErrCorruptNode, maxDepth)
	}

	n, err := e.t.readNode(id)
	if err != nil {
		return pager.NilPage, err
	}

	if n.leaf {
		idx, found := findKey(n.keys, key)
		if !found {
			return pager.NilPage, ErrKeyNotFound
		}
		if err := e.freeValue(n.vals[idx]); err != nil {
			return pager.NilPage, err
		}
		n.keys = append(n.keys[:idx], n.keys[idx+1:]...)
		n.vals = append(n.vals[:idx], n.vals[idx+1:]...)
		e.retire(id)
		if len(n.keys) == 0 {
			return pager.NilPage, nil
		}
		return e.writeNode(n)
	}

	ci := upperBound(n.keys, key)
	newChild, err := e.deleteNode(n.children[ci], key, depth+1)
	if err != nil {
		return pager.NilPage, err
	}
	e.retire(id)

	if newChild != pager.NilPage {
		n.children[ci] = newChild
		return e.writeNode(n)
	}

	// The child emptied out; drop it together with one separator. Underfull
	// nodes are tolerated, so no rebalancing happens here.
	n.children = append(n.children[:ci], n.children[ci+1:]...)
	if len(n.children) == 0 {
		return pager.NilPage, nil
	}
	ki := ci
	if ki > 0 {
		ki--
	}
	n.keys = append(n.keys[:ki], n.keys[ki+1:]...)
	return e.writeNode(n)
}

// writeOrSplit persists n, splitting it first when it no longer fits in a
// page. The separator of a leaf split is a copy of the right half's first
// key; the separator of an internal split moves up to the parent.
func (e *Edit) writeOrSplit(n *node) (pager.PageID, *splitResult, error) {
	if n.encodedSize() <= pager.PageSize {
		id, err := e.writeNode(n)
		return id, nil, err
	}

	var left, right *node
	var sep []byte

	if n.leaf {
		sizes := make([]int, len(n.keys))
		for i := range n.keys {
			sizes[i] = leafEntrySize(n.keys[i], n.vals[i])
		}
		m := splitIndex(sizes, pager.PageSize-nodeHeader)

		left = &node{leaf: true, keys: n.keys[:m], vals: n.vals[:m]}
		right = &node{leaf: true, keys: n.keys[m:], vals: n.vals[m:]}
		sep = append([]byte(nil), right.keys[0]...)
	} else {
		sizes := make([]int, len(n.keys))
		for i := range n.keys {
			sizes[i] = internalEntrySize(n.keys[i])
		}
		m := splitIndex(sizes, pager.PageSize-nodeHeader-8)

		sep = n.keys[m]
		left = &node{keys: n.keys[:m], children: n.children[:m+1]}
		right = &node{keys: n.keys[m+1:], children: n.children[m+1:]}
	}

	leftID, err := e.writeNode(left)
	if err != nil {
		return pager.NilPage, nil, err
	}
	rightID, err := e.writeNode(right)
	if err != nil {
		return pager.NilPage, nil, err
	}
	return pager.NilPage, &splitResult{sep: sep, left: leftID, right: rightID}, nil
}

// splitIndex picks the split point for entries with the given encoded
// sizes: as close to the byte midpoint as possible, nudged until both
// halves fit within capacity. The entry size bounds guarantee such a point
// exists. At least one entry lands on each side.
func splitIndex(sizes []int, capacity int) int {
	total := 0
	for _, s := range sizes {
		total += s
	}

	m, prefix := 0, 0
	for m < len(sizes)-1 && prefix+sizes[m] <= total/2 {
		prefix += sizes[m]
		m++
	}
	if m == 0 {
		m, prefix = 1, sizes[0]
	}

	for m > 1 && prefix > capacity {
		m--
		prefix -= sizes[m]
	}
	for m < len(sizes)-1 && total-prefix > capacity {
		prefix += sizes[m]
		m++
	}
	return m
}

// writeValue stores a value, spilling to an overflow chain when it is too
// large to inline
func (e *Edit) writeValue(value []byte) (leafValue, error) {
	if len(value) <= inlineValueMax {
		return leafValue{inline: append([]byte(nil), value...)}, nil
	}

	// Build the chain back to front so each page knows its successor
	head := pager.NilPage
	for off := ((len(value) - 1) / overflowCap) * overflowCap; off >= 0; off -= overflowCap {
		chunk := value[off:]
		if len(chunk) > overflowCap {
			chunk = chunk[:overflowCap]
		}

		buf := make([]byte, pager.PageSize)
		buf[0] = pageOverflow
		binary.LittleEndian.PutUint64(buf[1:9], uint64(head))
		binary.LittleEndian.PutUint16(buf[9:11], uint16(len(chunk)))
		copy(buf[overflowHeader:], chunk)

		id, err := e.t.p.Allocate()
		if err != nil {
			return leafValue{}, err
		}
		if err := e.t.p.Write(id, buf); err != nil {
			return leafValue{}, err
		}
		e.allocated[id] = true
		head = id
	}

	return leafValue{overflow: head, length: uint32(len(value))}, nil
}

// freeValue retires the overflow chain of a replaced or deleted value
func (e *Edit) freeValue(v leafValue) error {
	id := v.overflow
	for i := 0; id != pager.NilPage; i++ {
		if i > int(v.length)/overflowCap+1 {
			return fmt.Errorf("%w: overflow chain longer than value", ErrCorruptNode)
		}
		buf, err := e.t.p.Read(id)
		if err != nil {
			return err
		}
		if buf[0] != pageOverflow {
			return fmt.Errorf("%w: expected overflow page, got kind %d", ErrCorruptNode, buf[0])
		}
		next := pager.PageID(binary.LittleEndian.Uint64(buf[1:9]))
		e.retire(id)
		id = next
	}
	return nil
}

func insertKey(keys [][]byte, idx int, key []byte) [][]byte {
	keys = append(keys, nil)
	copy(keys[idx+1:], keys[idx:])
	keys[idx] = key
	return keys
}

func insertVal(vals []leafValue, idx int, v leafValue) []leafValue {
	vals = append(vals, leafValue{})
	copy(vals[idx+1:], vals[idx:])
	vals[idx] = v
	return vals
}

func insertChild(children []pager.PageID, idx int, id pager.PageID) []pager.PageID {
	children = append(children, pager.NilPage)
	copy(children[idx+1:], children[idx:])
	children[idx] = id
	return children
}
