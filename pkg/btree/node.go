package btree

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/GroveDB/grove/pkg/pager"
)

// Page kinds
const (
	pageLeaf     = 1
	pageInternal = 2
	pageOverflow = 3
)

const (
	// MaxKeySize is the largest key the tree accepts. Keys must fit in
	// internal nodes as separators, so the bound is a node-format constraint
	// rather than a tunable.
	MaxKeySize = 512

	// inlineValueMax is the largest value stored inside a leaf entry.
	// Longer values spill to an overflow page chain.
	inlineValueMax = 1024

	nodeHeader = 3 // kind u8 + nkeys u16

	// Overflow page layout: kind u8 + next page u64 + chunk length u16
	overflowHeader = 11
	overflowCap    = pager.PageSize - overflowHeader
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrKeyTooLarge = errors.New("key exceeds maximum size")
	ErrCorruptNode = errors.New("page is not a valid tree node")
)

// leafValue is a decoded leaf entry payload: either inline bytes or a
// reference to an overflow chain holding length bytes.
type leafValue struct {
	inline   []byte
	overflow pager.PageID
	length   uint32
}

func (v leafValue) isOverflow() bool {
	return v.overflow != pager.NilPage
}

// node is the decoded in-memory form of a tree page.
//
// Leaf node layout:
//
//	[kind u8 | nkeys u16] then per entry:
//	[klen u16 | key | flag u8 | vlen u32 | value-or-overflow-head]
//
// Internal node layout:
//
//	[kind u8 | nkeys u16 | first child u64] then per entry:
//	[klen u16 | key | child u64]
//
// An internal node always has len(keys)+1 children; child i holds keys in
// [keys[i-1], keys[i]). Zero keys with a single child is legal and appears
// when sibling subtrees empty out.
type node struct {
	leaf     bool
	keys     [][]byte
	vals     []leafValue
	children []pager.PageID
}

const (
	flagInline   = 0
	flagOverflow = 1
)

func leafEntrySize(key []byte, v leafValue) int {
	if v.isOverflow() {
		return 2 + len(key) + 1 + 4 + 8
	}
	return 2 + len(key) + 1 + 4 + len(v.inline)
}

func internalEntrySize(key []byte) int {
	return 2 + len(key) + 8
}

func (n *node) encodedSize() int {
	size := nodeHeader
	if n.leaf {
		for i, k := range n.keys {
			size += leafEntrySize(k, n.vals[i])
		}
		return size
	}
	size += 8
	for _, k := range n.keys {
		size += internalEntrySize(k)
	}
	return size
}

func (n *node) encode() []byte {
	buf := make([]byte, pager.PageSize)
	if n.leaf {
		buf[0] = pageLeaf
	} else {
		buf[0] = pageInternal
	}
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(n.keys)))

	off := nodeHeader
	if !n.leaf {
		binary.LittleEndian.PutUint64(buf[off:], uint64(n.children[0]))
		off += 8
	}

	for i, k := range n.keys {
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(k)))
		off += 2
		copy(buf[off:], k)
		off += len(k)

		if n.leaf {
			v := n.vals[i]
			if v.isOverflow() {
				buf[off] = flagOverflow
				off++
				binary.LittleEndian.PutUint32(buf[off:], v.length)
				off += 4
				binary.LittleEndian.PutUint64(buf[off:], uint64(v.overflow))
				off += 8
			} else {
				buf[off] = flagInline
				off++
				binary.LittleEndian.PutUint32(buf[off:], uint32(len(v.inline)))
				off += 4
				copy(buf[off:], v.inline)
				off += len(v.inline)
			}
		} else {
			binary.LittleEndian.PutUint64(buf[off:], uint64(n.children[i+1]))
			off += 8
		}
	}
	return buf
}

func readUint16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func readUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

func decodeNode(buf []byte) (*node, error) {
	if len(buf) != pager.PageSize {
		return nil, fmt.Errorf("%w: wrong page length %d", ErrCorruptNode, len(buf))
	}

	kind := buf[0]
	if kind != pageLeaf && kind != pageInternal {
		return nil, fmt.Errorf("%w: unknown page kind %d", ErrCorruptNode, kind)
	}

	nkeys := int(binary.LittleEndian.Uint16(buf[1:3]))
	n := &node{leaf: kind == pageLeaf}
	off := nodeHeader

	if !n.leaf {
		if off+8 > len(buf) {
			return nil, fmt.Errorf("%w: truncated first child", ErrCorruptNode)
		}
		n.children = append(n.children, pager.PageID(binary.LittleEndian.Uint64(buf[off:])))
		off += 8
	}

	for i := 0; i < nkeys; i++ {
		if off+2 > len(buf) {
			return nil, fmt.Errorf("%w: truncated key length", ErrCorruptNode)
		}
		klen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		if klen > MaxKeySize || off+klen > len(buf) {
			return nil, fmt.Errorf("%w: bad key length %d", ErrCorruptNode, klen)
		}
		key := append([]byte(nil), buf[off:off+klen]...)
		off += klen
		n.keys = append(n.keys, key)

		if n.leaf {
			if off+5 > len(buf) {
				return nil, fmt.Errorf("%w: truncated value header", ErrCorruptNode)
			}
			flag := buf[off]
			off++
			vlen := binary.LittleEndian.Uint32(buf[off:])
			off += 4

			switch flag {
			case flagInline:
				if int(vlen) > inlineValueMax || off+int(vlen) > len(buf) {
					return nil, fmt.Errorf("%w: bad inline value length %d", ErrCorruptNode, vlen)
				}
				val := append([]byte(nil), buf[off:off+int(vlen)]...)
				off += int(vlen)
				n.vals = append(n.vals, leafValue{inline: val})
			case flagOverflow:
				if off+8 > len(buf) {
					return nil, fmt.Errorf("%w: truncated overflow reference", ErrCorruptNode)
				}
				head := pager.PageID(binary.LittleEndian.Uint64(buf[off:]))
				off += 8
				if head == pager.NilPage {
					return nil, fmt.Errorf("%w: nil overflow head", ErrCorruptNode)
				}
				n.vals = append(n.vals, leafValue{overflow: head, length: vlen})
			default:
				return nil, fmt.Errorf("%w: unknown value flag %d", ErrCorruptNode, flag)
			}
		} else {
			if off+8 > len(buf) {
				return nil, fmt.Errorf("%w: truncated child pointer", ErrCorruptNode)
			}
			n.children = append(n.children, pager.PageID(binary.LittleEndian.Uint64(buf[off:])))
			off += 8
		}
	}

	// Keys within a node must be strictly increasing
	for i := 1; i < len(n.keys); i++ {
		if compare(n.keys[i-1], n.keys[i]) >= 0 {
			return nil, fmt.Errorf("%w: keys out of order", ErrCorruptNode)
		}
	}

	return n, nil
}
