package btree

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GroveDB/grove/pkg/pager"
)

func openTestTree(t *testing.T) *Tree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := pager.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return New(p)
}

// apply runs a single-key mutation as its own committed edit and returns
// the new root
func apply(t *testing.T, tr *Tree, root pager.PageID, fn func(*Edit) (pager.PageID, error)) pager.PageID {
	t.Helper()
	e := tr.NewEdit()
	newRoot, err := fn(e)
	require.NoError(t, err)
	return newRoot
}

func insert(t *testing.T, tr *Tree, root pager.PageID, key, value string) pager.PageID {
	return apply(t, tr, root, func(e *Edit) (pager.PageID, error) {
		return e.Insert(root, []byte(key), []byte(value))
	})
}

func remove(t *testing.T, tr *Tree, root pager.PageID, key string) pager.PageID {
	return apply(t, tr, root, func(e *Edit) (pager.PageID, error) {
		return e.Delete(root, []byte(key))
	})
}

func TestInsertLookup(t *testing.T) {
	tr := openTestTree(t)

	root := insert(t, tr, pager.NilPage, "apple", "red")
	root = insert(t, tr, root, "banana", "yellow")
	root = insert(t, tr, root, "cherry", "dark red")

	for key, want := range map[string]string{
		"apple":  "red",
		"banana": "yellow",
		"cherry": "dark red",
	} {
		got, err := tr.Lookup(root, []byte(key))
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}

	_, err := tr.Lookup(root, []byte("durian"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestLookupEmptyTree(t *testing.T) {
	tr := openTestTree(t)

	_, err := tr.Lookup(pager.NilPage, []byte("anything"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestInsertOverwrites(t *testing.T) {
	tr := openTestTree(t)

	root := insert(t, tr, pager.NilPage, "key", "one")
	root = insert(t, tr, root, "key", "two")

	got, err := tr.Lookup(root, []byte("key"))
	require.NoError(t, err)
	require.Equal(t, "two", string(got))
}

func TestEmptyKeyAndValue(t *testing.T) {
	tr := openTestTree(t)

	root := insert(t, tr, pager.NilPage, "", "empty key")
	root = insert(t, tr, root, "empty value", "")

	got, err := tr.Lookup(root, []byte(""))
	require.NoError(t, err)
	require.Equal(t, "empty key", string(got))

	got, err = tr.Lookup(root, []byte("empty value"))
	require.NoError(t, err)
	require.Empty(t, got)
	require.NotNil(t, got)
}

func TestKeyTooLarge(t *testing.T) {
	tr := openTestTree(t)

	e := tr.NewEdit()
	_, err := e.Insert(pager.NilPage, make([]byte, MaxKeySize+1), []byte("v"))
	require.ErrorIs(t, err, ErrKeyTooLarge)

	root := insert(t, tr, pager.NilPage, "ok", "v")
	e = tr.NewEdit()
	_, err = e.Insert(root, make([]byte, MaxKeySize+1), []byte("v"))
	require.ErrorIs(t, err, ErrKeyTooLarge)
}

func TestDelete(t *testing.T) {
	tr := openTestTree(t)

	root := insert(t, tr, pager.NilPage, "a", "1")
	root = insert(t, tr, root, "b", "2")
	root = remove(t, tr, root, "a")

	_, err := tr.Lookup(root, []byte("a"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	got, err := tr.Lookup(root, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, "2", string(got))
}

func TestDeleteMissingKey(t *testing.T) {
	tr := openTestTree(t)

	root := insert(t, tr, pager.NilPage, "present", "v")

	e := tr.NewEdit()
	_, err := e.Delete(root, []byte("absent"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	e = tr.NewEdit()
	_, err = e.Delete(pager.NilPage, []byte("absent"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestDeleteLastKeyEmptiesTree(t *testing.T) {
	tr := openTestTree(t)

	root := insert(t, tr, pager.NilPage, "only", "v")
	root = remove(t, tr, root, "only")
	require.Equal(t, pager.NilPage, root)
}

func TestSnapshotIsolationAcrossVersions(t *testing.T) {
	tr := openTestTree(t)

	oldRoot := insert(t, tr, pager.NilPage, "key", "old")
	newRoot := insert(t, tr, oldRoot, "key", "new")
	newRoot = insert(t, tr, newRoot, "extra", "entry")

	// The old version is untouched by later edits
	got, err := tr.Lookup(oldRoot, []byte("key"))
	require.NoError(t, err)
	require.Equal(t, "old", string(got))

	_, err = tr.Lookup(oldRoot, []byte("extra"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	got, err = tr.Lookup(newRoot, []byte("key"))
	require.NoError(t, err)
	require.Equal(t, "new", string(got))
}

func TestSplitGrowsTree(t *testing.T) {
	tr := openTestTree(t)

	// Enough entries to force several levels of splits
	const n = 2000
	root := pager.NilPage
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%06d", i)
		root = insert(t, tr, root, key, fmt.Sprintf("value-%d", i))
	}

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%06d", i)
		got, err := tr.Lookup(root, []byte(key))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("value-%d", i), string(got))
	}

	// Cursor sees every key in order
	c := tr.NewCursor(root)
	c.SeekToFirst()
	count := 0
	var prev []byte
	for c.Valid() {
		if prev != nil {
			require.Negative(t, compare(prev, c.Key()))
		}
		prev = append(prev[:0], c.Key()...)
		count++
		c.Next()
	}
	require.NoError(t, c.Error())
	require.Equal(t, n, count)
}

func TestOverflowValues(t *testing.T) {
	tr := openTestTree(t)

	big := make([]byte, 3*pager.PageSize+123)
	for i := range big {
		big[i] = byte(i * 31)
	}

	root := apply(t, tr, pager.NilPage, func(e *Edit) (pager.PageID, error) {
		return e.Insert(pager.NilPage, []byte("big"), big)
	})

	got, err := tr.Lookup(root, []byte("big"))
	require.NoError(t, err)
	require.Equal(t, big, got)

	// Overwriting frees the old chain; the replacement reads back intact
	bigger := make([]byte, 5*pager.PageSize)
	for i := range bigger {
		bigger[i] = byte(i * 7)
	}
	root = apply(t, tr, root, func(e *Edit) (pager.PageID, error) {
		return e.Insert(root, []byte("big"), bigger)
	})

	got, err = tr.Lookup(root, []byte("big"))
	require.NoError(t, err)
	require.Equal(t, bigger, got)
}

func TestBoundaryValueSizes(t *testing.T) {
	tr := openTestTree(t)

	root := pager.NilPage
	for _, size := range []int{inlineValueMax - 1, inlineValueMax, inlineValueMax + 1, overflowCap, overflowCap + 1} {
		key := fmt.Sprintf("k%d", size)
		val := make([]byte, size)
		for i := range val {
			val[i] = byte(size + i)
		}
		root = apply(t, tr, root, func(e *Edit) (pager.PageID, error) {
			return e.Insert(root, []byte(key), val)
		})

		got, err := tr.Lookup(root, []byte(key))
		require.NoError(t, err)
		require.Equal(t, val, got)
	}
}

func TestReadValueRejectsOverflowCycle(t *testing.T) {
	tr := openTestTree(t)
	p := tr.Pager()

	// An overflow page naming itself as its successor with a zero-length
	// chunk would read forever; the chain walk must give up instead.
	id, err := p.Allocate()
	require.NoError(t, err)
	buf := make([]byte, pager.PageSize)
	buf[0] = pageOverflow
	binary.LittleEndian.PutUint64(buf[1:9], uint64(id))
	binary.LittleEndian.PutUint16(buf[9:11], 0)
	require.NoError(t, p.Write(id, buf))

	_, err = tr.readValue(leafValue{overflow: id, length: 5 * pager.PageSize})
	require.ErrorIs(t, err, ErrCorruptNode)
}

func TestAbandonReturnsPages(t *testing.T) {
	tr := openTestTree(t)
	p := tr.Pager()

	root := insert(t, tr, pager.NilPage, "base", "v")

	e := tr.NewEdit()
	_, err := e.Insert(root, []byte("scratch"), make([]byte, 2*pager.PageSize))
	require.NoError(t, err)
	written := e.Allocated()
	require.NotEmpty(t, written)
	e.Abandon()

	// Every page the abandoned edit wrote is back on the free list
	require.Equal(t, len(written), p.GetStorageStats()["free_pages"].(int))
	reusable := make(map[pager.PageID]bool, len(written))
	for _, id := range written {
		reusable[id] = true
	}
	for range written {
		id, err := p.Allocate()
		require.NoError(t, err)
		require.True(t, reusable[id])
		delete(reusable, id)
	}
}

func TestRandomChurnAgainstReference(t *testing.T) {
	tr := openTestTree(t)
	rng := rand.New(rand.NewSource(42))
	ref := make(map[string]string)
	root := pager.NilPage

	for i := 0; i < 5000; i++ {
		key := fmt.Sprintf("key-%04d", rng.Intn(800))
		switch {
		case rng.Intn(3) == 0 && len(ref) > 0:
			if _, ok := ref[key]; ok {
				root = remove(t, tr, root, key)
				delete(ref, key)
			}
		default:
			val := fmt.Sprintf("val-%d", i)
			root = insert(t, tr, root, key, val)
			ref[key] = val
		}
	}

	for key, want := range ref {
		got, err := tr.Lookup(root, []byte(key))
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}

	// Full scan matches the reference exactly
	keys := make([]string, 0, len(ref))
	for k := range ref {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c := tr.NewCursor(root)
	c.SeekToFirst()
	for _, k := range keys {
		require.True(t, c.Valid())
		require.Equal(t, k, string(c.Key()))
		require.Equal(t, ref[k], string(c.Value()))
		c.Next()
	}
	require.False(t, c.Valid())
	require.NoError(t, c.Error())
}
