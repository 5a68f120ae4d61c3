package journal

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, retention int) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "data", "journal.db"), retention)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalReplay(t *testing.T) {
	j := openTemp(t, 0)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, j.Append(i, []byte(fmt.Sprintf(`{"eventIndex":%d}`, i))))
	}

	page, err := j.Since(2, 0)
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, []uint64{3, 4, 5}, indices(page.Entries))
	assert.Equal(t, `{"eventIndex":3}`, string(page.Entries[0].Data))
	assert.Equal(t, uint64(5), page.LastIndex)
	assert.Equal(t, uint64(1), page.OldestKept)
	assert.False(t, page.Truncated)

	page, err = j.Since(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, indices(page.Entries))
	assert.True(t, page.Truncated)

	page, err = j.Since(5, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
}

func TestJournalRetention(t *testing.T) {
	j := openTemp(t, 3)
	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, j.Append(i, []byte("{}")))
	}

	n, err := j.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	page, err := j.Since(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{8, 9, 10}, indices(page.Entries))
	assert.Equal(t, uint64(8), page.OldestKept)
}

func TestJournalReset(t *testing.T) {
	j := openTemp(t, 0)
	require.NoError(t, j.Append(1, []byte("{}")))

	require.NoError(t, j.Reset())

	n, err := j.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, j.Append(1, []byte("{}")))
}

func indices(entries []Entry) []uint64 {
	out := make([]uint64, len(entries))
	for i, e := range entries {
		out[i] = e.Index
	}
	return out
}
