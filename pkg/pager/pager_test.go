package pager

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestPager(t *testing.T) (*Pager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, path
}

func pageWith(b byte) []byte {
	buf := make([]byte, PageSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestOpenFresh(t *testing.T) {
	p, _ := openTestPager(t)

	root, version := p.Root()
	require.Equal(t, NilPage, root)
	require.Equal(t, uint64(0), version)
	require.NotEqual(t, uuid.Nil, p.UUID())
}

func TestAllocateWriteRead(t *testing.T) {
	p, _ := openTestPager(t)

	id, err := p.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, NilPage, id)

	data := pageWith(0xAB)
	require.NoError(t, p.Write(id, data))

	got, err := p.Read(id)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, got))
}

func TestWriteRejectsWrongSize(t *testing.T) {
	p, _ := openTestPager(t)

	id, err := p.Allocate()
	require.NoError(t, err)

	require.ErrorIs(t, p.Write(id, []byte("short")), ErrPageSize)
}

func TestReadRejectsBadID(t *testing.T) {
	p, _ := openTestPager(t)

	_, err := p.Read(NilPage)
	require.ErrorIs(t, err, ErrInvalidPage)

	_, err = p.Read(PageID(9999))
	require.ErrorIs(t, err, ErrInvalidPage)
}

func TestPendingFreeIsHeldBackByReaders(t *testing.T) {
	p, _ := openTestPager(t)

	id, err := p.Allocate()
	require.NoError(t, err)
	require.NoError(t, p.Write(id, pageWith(1)))

	// Page superseded by the commit producing version 5
	p.Free(id, 5)

	// A reader at version 4 is still active, so the page must not be reused
	p.ReleaseUpTo(4)
	next, err := p.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, id, next)

	// Once the oldest active snapshot reaches version 5, it is reusable
	p.ReleaseUpTo(5)
	reused, err := p.Allocate()
	require.NoError(t, err)
	require.Equal(t, id, reused)
}

func TestFreeNowReusesImmediately(t *testing.T) {
	p, _ := openTestPager(t)

	id, err := p.Allocate()
	require.NoError(t, err)

	p.FreeNow(id)

	reused, err := p.Allocate()
	require.NoError(t, err)
	require.Equal(t, id, reused)
}

func TestCheckpointPersistsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	p, err := Open(path)
	require.NoError(t, err)

	var ids []PageID
	for i := 0; i < 3; i++ {
		id, err := p.Allocate()
		require.NoError(t, err)
		require.NoError(t, p.Write(id, pageWith(byte(i))))
		ids = append(ids, id)
	}
	p.SetRoot(ids[0], 7)
	p.Free(ids[2], 7)
	dbid := p.UUID()
	require.NoError(t, p.Close())

	p2, err := Open(path)
	require.NoError(t, err)
	defer p2.Close()

	root, version := p2.Root()
	require.Equal(t, ids[0], root)
	require.Equal(t, uint64(7), version)
	require.Equal(t, dbid, p2.UUID())

	// The freed page survived the checkpoint and is allocatable again
	reused, err := p2.Allocate()
	require.NoError(t, err)
	require.Equal(t, ids[2], reused)
}

func TestFreeListSpansMultiplePages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	p, err := Open(path)
	require.NoError(t, err)

	// Free more ids than fit in a single free-list page
	n := freeChainCap + 10
	freed := make(map[PageID]bool, n)
	for i := 0; i < n; i++ {
		id, err := p.Allocate()
		require.NoError(t, err)
		require.NoError(t, p.Write(id, pageWith(0)))
		p.Free(id, 1)
		freed[id] = true
	}
	require.NoError(t, p.Close())

	p2, err := Open(path)
	require.NoError(t, err)
	defer p2.Close()

	recovered := 0
	for {
		id, err := p2.Allocate()
		require.NoError(t, err)
		if !freed[id] {
			break
		}
		recovered++
	}
	require.Equal(t, n, recovered)
}

func TestCorruptHeaderRefusesToOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	p, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	// Flip a byte inside the checksummed region
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[offRoot] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0644))

	_, err = Open(path)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestBadMagicRefusesToOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, os.WriteFile(path, pageWith('x'), 0644))

	_, err := Open(path)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestDiscardFreeList(t *testing.T) {
	p, _ := openTestPager(t)

	id, err := p.Allocate()
	require.NoError(t, err)
	p.FreeNow(id)
	p.DiscardFreeList()

	next, err := p.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, id, next)
}

func TestClosedPagerRejectsOperations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.Allocate()
	require.ErrorIs(t, err, ErrPagerClosed)
	_, err = p.Read(PageID(1))
	require.ErrorIs(t, err, ErrPagerClosed)
	require.ErrorIs(t, p.Flush(), ErrPagerClosed)
}
