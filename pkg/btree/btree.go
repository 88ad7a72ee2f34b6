// Package btree implements the ordered index of the storage engine: a
// copy-on-write B-tree over fixed-size pages.
//
// Tree versions are identified by their root page. Mutations never touch
// existing pages; they rewrite the path from root to the modified leaf and
// share every other subtree with the previous version. Readers holding an
// old root therefore traverse a frozen, consistent tree no matter what
// writers do concurrently.
package btree

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/GroveDB/grove/pkg/pager"
)

// maxDepth bounds traversals so a corrupt page cannot loop the cursor or
// recursion forever
const maxDepth = 64

func compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Tree provides lookup and traversal over tree versions stored in a pager
type Tree struct {
	p *pager.Pager
}

// New creates a Tree over the given pager
func New(p *pager.Pager) *Tree {
	return &Tree{p: p}
}

// Pager returns the underlying page store
func (t *Tree) Pager() *pager.Pager {
	return t.p
}

// ValidateKey checks that a key is storable
func ValidateKey(key []byte) error {
	if len(key) > MaxKeySize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrKeyTooLarge, len(key), MaxKeySize)
	}
	return nil
}

// Lookup finds the value for key in the tree version rooted at root.
// The returned slice is a fresh allocation owned by the caller.
func (t *Tree) Lookup(root pager.PageID, key []byte) ([]byte, error) {
	if root == pager.NilPage {
		return nil, ErrKeyNotFound
	}

	id := root
	for depth := 0; depth < maxDepth; depth++ {
		n, err := t.readNode(id)
		if err != nil {
			return nil, err
		}

		if n.leaf {
			idx, found := findKey(n.keys, key)
			if !found {
				return nil, ErrKeyNotFound
			}
			return t.readValue(n.vals[idx])
		}
		id = n.children[upperBound(n.keys, key)]
	}
	return nil, fmt.Errorf("%w: tree deeper than %d levels", ErrCorruptNode, maxDepth)
}

func (t *Tree) readNode(id pager.PageID) (*node, error) {
	buf, err := t.p.Read(id)
	if err != nil {
		return nil, err
	}
	return decodeNode(buf)
}

// readValue materializes a leaf value, following the overflow chain when the
// value is not inline
func (t *Tree) readValue(v leafValue) ([]byte, error) {
	if !v.isOverflow() {
		// Callers own the returned buffer, and an empty value is still a
		// value: the copy is non-nil even at length zero
		out := make([]byte, len(v.inline))
		copy(out, v.inline)
		return out, nil
	}

	out := make([]byte, 0, v.length)
	id := v.overflow
	for i := 0; id != pager.NilPage; i++ {
		if i > int(v.length)/overflowCap+1 {
			return nil, fmt.Errorf("%w: overflow chain longer than value", ErrCorruptNode)
		}
		buf, err := t.p.Read(id)
		if err != nil {
			return nil, err
		}
		if buf[0] != pageOverflow {
			return nil, fmt.Errorf("%w: expected overflow page, got kind %d", ErrCorruptNode, buf[0])
		}
		next := pager.PageID(readUint64(buf[1:9]))
		chunk := int(readUint16(buf[9:11]))
		if chunk > overflowCap || len(out)+chunk > int(v.length) {
			return nil, fmt.Errorf("%w: overflow chain longer than value", ErrCorruptNode)
		}
		out = append(out, buf[overflowHeader:overflowHeader+chunk]...)
		id = next
	}
	if len(out) != int(v.length) {
		return nil, fmt.Errorf("%w: overflow chain shorter than value", ErrCorruptNode)
	}
	return out, nil
}

// lowerBound returns the first index whose key is >= target
func lowerBound(keys [][]byte, target []byte) int {
	return sort.Search(len(keys), func(i int) bool {
		return compare(keys[i], target) >= 0
	})
}

// upperBound returns the first index whose key is > target. For internal
// nodes this is the child index to descend into, because separators equal
// the smallest key of their right subtree.
func upperBound(keys [][]byte, target []byte) int {
	return sort.Search(len(keys), func(i int) bool {
		return compare(keys[i], target) > 0
	})
}

func findKey(keys [][]byte, target []byte) (int, bool) {
	idx := lowerBound(keys, target)
	return idx, idx < len(keys) && compare(keys[idx], target) == 0
}
