package btree

import (
	"fmt"

	"github.com/GroveDB/grove/pkg/pager"
)

// frame is one level of the cursor's descent path
type frame struct {
	n   *node
	idx int
}

// Cursor iterates over the entries of a single tree version in key order.
// The root it was created with never changes underneath it, so a cursor is
// a stable snapshot view regardless of concurrent commits.
//
// IO or corruption errors invalidate the cursor; Error reports the cause.
type Cursor struct {
	t     *Tree
	root  pager.PageID
	stack []frame
	valid bool
	err   error

	key   []byte
	value []byte
}

// NewCursor creates a cursor over the tree version rooted at root. The
// cursor starts unpositioned; call one of the Seek methods before use.
func (t *Tree) NewCursor(root pager.PageID) *Cursor {
	return &Cursor{t: t, root: root}
}

// SeekToFirst positions the cursor at the smallest key
func (c *Cursor) SeekToFirst() {
	c.reset()
	if c.root == pager.NilPage {
		return
	}
	c.descend(c.root, func(n *node) int { return 0 })
}

// SeekToLast positions the cursor at the largest key
func (c *Cursor) SeekToLast() {
	c.reset()
	if c.root == pager.NilPage {
		return
	}
	c.descend(c.root, func(n *node) int {
		if n.leaf {
			return len(n.keys) - 1
		}
		return len(n.children) - 1
	})
}

// Seek positions the cursor at the first key >= target. Returns true when
// such a key exists.
func (c *Cursor) Seek(target []byte) bool {
	c.reset()
	if c.root == pager.NilPage {
		return false
	}
	c.descend(c.root, func(n *node) int {
		if n.leaf {
			return lowerBound(n.keys, target)
		}
		return upperBound(n.keys, target)
	})
	// The target may be greater than everything in the leaf it hashes to;
	// the next leaf then holds the answer.
	if c.err == nil && !c.valid && len(c.stack) > 0 {
		c.advance()
	}
	return c.valid
}

// Next moves to the next key in order. Returns false at the end of the tree
// or after an error.
func (c *Cursor) Next() bool {
	if !c.valid {
		return false
	}
	c.stack[len(c.stack)-1].idx++
	c.advance()
	return c.valid
}

// Key returns the current key. Only valid when Valid returns true.
func (c *Cursor) Key() []byte {
	if !c.valid {
		return nil
	}
	return c.key
}

// Value returns the current value. Only valid when Valid returns true.
func (c *Cursor) Value() []byte {
	if !c.valid {
		return nil
	}
	return c.value
}

// Valid reports whether the cursor is positioned at an entry
func (c *Cursor) Valid() bool {
	return c.valid
}

// IsTombstone always reports false: deleted keys are physically removed
// from the tree, never marked
func (c *Cursor) IsTombstone() bool {
	return false
}

// Error returns the IO or corruption error that invalidated the cursor,
// if any
func (c *Cursor) Error() error {
	return c.err
}

func (c *Cursor) reset() {
	c.stack = c.stack[:0]
	c.valid = false
	c.key = nil
	c.value = nil
}

func (c *Cursor) fail(err error) {
	c.err = err
	c.reset()
}

// descend walks from id to a leaf, choosing the index at each level with
// pick, and loads the entry under the final position if one exists
func (c *Cursor) descend(id pager.PageID, pick func(*node) int) {
	for {
		if len(c.stack) >= maxDepth {
			c.fail(fmt.Errorf("%w: tree deeper than %d levels", ErrCorruptNode, maxDepth))
			return
		}
		n, err := c.t.readNode(id)
		if err != nil {
			c.fail(err)
			return
		}
		idx := pick(n)
		c.stack = append(c.stack, frame{n: n, idx: idx})
		if n.leaf {
			c.load()
			return
		}
		id = n.children[idx]
	}
}

// advance settles the cursor on the entry under the current stack position,
// popping exhausted frames and descending into following subtrees as needed
func (c *Cursor) advance() {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]

		if top.n.leaf {
			if top.idx < len(top.n.keys) {
				c.load()
				return
			}
		} else if top.idx+1 < len(top.n.children) {
			top.idx++
			c.descend(top.n.children[top.idx], func(n *node) int { return 0 })
			return
		}

		c.stack = c.stack[:len(c.stack)-1]
	}
	c.valid = false
}

// load materializes the entry at the top-of-stack leaf position
func (c *Cursor) load() {
	top := &c.stack[len(c.stack)-1]
	if top.idx >= len(top.n.keys) {
		c.valid = false
		return
	}

	val, err := c.t.readValue(top.n.vals[top.idx])
	if err != nil {
		c.fail(err)
		return
	}
	c.key = append([]byte(nil), top.n.keys[top.idx]...)
	c.value = val
	c.valid = true
}
