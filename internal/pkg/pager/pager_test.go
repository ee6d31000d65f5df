package pager

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/btreebase/btreebase/internal/pkg/page"
)

var gen = gofakeit.New(time.Now().Unix())

func testCell(size int) []byte {
	return []byte(gen.LetterN(uint(size)))
}

func TestPager_AllocateFlushReopen(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		fs  = afero.NewMemMapFs()
	)

	aPager, err := Open(fs, "test.db", 0, zap.NewNop())
	require.NoError(t, err)

	cellsByPage := make(map[page.PageID][][]byte)
	for i := 0; i < 3; i++ {
		pageID, aPage, err := aPager.AllocatePage(ctx)
		require.NoError(t, err)
		require.Equal(t, page.PageID(i+1), pageID)

		cells := make([][]byte, 0, 5)
		for j := 0; j < 5; j++ {
			aCell := testCell(gen.IntRange(1, 64))
			require.NoError(t, aPage.AddCell(aCell))
			cells = append(cells, aCell)
		}
		cellsByPage[pageID] = cells
	}
	// Chain page 2 as page 1's overflow page
	firstPage, err := aPager.GetPage(ctx, 1)
	require.NoError(t, err)
	firstPage.SetOverflowPage(page.SomePage(2))

	require.NoError(t, aPager.FlushAll(ctx))
	require.NoError(t, aPager.Close())

	aPager, err = Open(fs, "test.db", 0, zap.NewNop())
	require.NoError(t, err)
	defer aPager.Close()

	require.Equal(t, uint64(3), aPager.TotalPages())

	for pageID, cells := range cellsByPage {
		aPage, err := aPager.GetPage(ctx, pageID)
		require.NoError(t, err)
		require.Equal(t, len(cells), aPage.CellsCount())
		for i, aCell := range cells {
			got, err := aPage.NthCell(i)
			require.NoError(t, err)
			assert.Equal(t, aCell, got)
		}
	}

	aPage, err := aPager.GetPage(ctx, 1)
	require.NoError(t, err)
	overflowID, ok := aPage.OverflowPage().Get()
	require.True(t, ok)
	assert.Equal(t, page.PageID(2), overflowID)
}

func TestPager_InvalidFileSize(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "test.db", make([]byte, 100), 0o600))

	_, err := Open(fs, "test.db", 0, zap.NewNop())
	assert.ErrorContains(t, err, "not divisible by page size")
}

func TestPager_CorruptPage(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "test.db", make([]byte, page.Size), 0o600))

	aPager, err := Open(fs, "test.db", 0, zap.NewNop())
	require.NoError(t, err)
	defer aPager.Close()

	_, err = aPager.GetPage(context.Background(), 1)
	assert.ErrorIs(t, err, page.ErrInvalidMagic)
}

func TestPager_UnknownPage(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		fs  = afero.NewMemMapFs()
	)

	aPager, err := Open(fs, "test.db", 0, zap.NewNop())
	require.NoError(t, err)
	defer aPager.Close()

	_, err = aPager.GetPage(ctx, 0)
	assert.ErrorContains(t, err, "must be positive")

	_, err = aPager.GetPage(ctx, 5)
	assert.ErrorContains(t, err, "does not exist")
}

func TestPager_LRUEviction(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		fs  = afero.NewMemMapFs()
	)

	aPager, err := Open(fs, "test.db", 2, zap.NewNop())
	require.NoError(t, err)
	defer aPager.Close()

	cells := make(map[page.PageID][]byte)
	for i := 0; i < 3; i++ {
		pageID, aPage, err := aPager.AllocatePage(ctx)
		require.NoError(t, err)

		aCell := testCell(32)
		require.NoError(t, aPage.AddCell(aCell))
		cells[pageID] = aCell

		// Flushed before a later allocation may evict it
		require.NoError(t, aPager.Flush(ctx, pageID))
	}

	// Page 1 was evicted to make room for page 3; it must come back from
	// the file intact.
	aPage, err := aPager.GetPage(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, aPage.CellsCount())
	got, err := aPage.NthCell(0)
	require.NoError(t, err)
	assert.Equal(t, cells[1], got)
}
