package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaybePageID(t *testing.T) {
	t.Parallel()

	t.Run("no page", func(t *testing.T) {
		id, ok := NoPage.Get()
		assert.False(t, ok)
		assert.Equal(t, PageID(0), id)
	})

	t.Run("some page", func(t *testing.T) {
		id, ok := SomePage(42).Get()
		require.True(t, ok)
		assert.Equal(t, PageID(42), id)
	})

	t.Run("round trip", func(t *testing.T) {
		for _, pageID := range []PageID{1, 7, 1 << 40} {
			got, ok := SomePage(pageID).Get()
			require.True(t, ok)
			assert.Equal(t, pageID, got)
		}
	})
}
