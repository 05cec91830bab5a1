package presence_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcbridge/internal/domain"
	"tcbridge/internal/presence"
	"tcbridge/internal/testutil"
)

func TestScanSingleFile(t *testing.T) {
	root := t.TempDir()
	md := testutil.Fixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "file_a.txt"), []byte(testutil.SingleFileContent), 0o644))

	// addNameToFolder is irrelevant for single-file torrents
	for _, addName := range []bool{true, false} {
		entries := presence.Scan(md, root, addName)
		require.Len(t, entries, 1)
		assert.Equal(t, filepath.Join(root, "file_a.txt"), entries[0].Path)
		assert.Equal(t, "file_a.txt", entries[0].RelativePath)
		assert.True(t, entries[0].Exists)
		assert.Equal(t, domain.DataFull, presence.Sufficiency(entries))
	}

	require.NoError(t, os.Remove(filepath.Join(root, "file_a.txt")))
	assert.Equal(t, domain.DataNone, presence.Sufficiency(presence.Scan(md, root, true)))
}

func TestScanRequiresExactSize(t *testing.T) {
	root := t.TempDir()
	md := testutil.Fixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "file_a.txt"), []byte("hello"), 0o644))

	entries := presence.Scan(md, root, true)
	assert.False(t, entries[0].Exists)
	assert.Equal(t, domain.DataNone, presence.Sufficiency(entries))
}

func TestScanIgnoresDirectories(t *testing.T) {
	root := t.TempDir()
	md := testutil.SingleFile(t, "empty", 0, 16)
	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))

	entries := presence.Scan(md, root, true)
	assert.False(t, entries[0].Exists)
}

func TestScanMultiFile(t *testing.T) {
	md := testutil.MultiFile(t, "Some-Release", 16,
		testutil.FileSpec{Path: "file_a.txt", Size: 11},
		testutil.FileSpec{Path: "file_b.txt", Size: 12},
		testutil.FileSpec{Path: "sub/file_c.txt", Size: 13},
	)

	t.Run("with name folder", func(t *testing.T) {
		root := t.TempDir()
		testutil.WritePayload(t, md, root, true)
		require.NoError(t, os.Remove(filepath.Join(root, "Some-Release", "file_b.txt")))

		entries := presence.Scan(md, root, true)
		require.Len(t, entries, 3)
		assert.Equal(t, filepath.Join("Some-Release", "sub", "file_c.txt"), entries[2].RelativePath)
		assert.Equal(t, filepath.Join(root, "Some-Release", "sub", "file_c.txt"), entries[2].Path)
		assert.Equal(t, []bool{true, false, true}, exists(entries))
		assert.Equal(t, domain.DataPartial, presence.Sufficiency(entries))
	})

	t.Run("without name folder", func(t *testing.T) {
		root := t.TempDir()
		testutil.WritePayload(t, md, root, false)

		entries := presence.Scan(md, root, false)
		assert.Equal(t, filepath.Join("sub", "file_c.txt"), entries[2].RelativePath)
		assert.Equal(t, domain.DataFull, presence.Sufficiency(entries))

		// the same tree looked up with the name folder finds nothing
		assert.Equal(t, domain.DataNone, presence.Sufficiency(presence.Scan(md, root, true)))
	})
}

func TestHasMinimum(t *testing.T) {
	cases := []struct {
		actual, wanted domain.DataSufficiency
		ok             bool
	}{
		{domain.DataNone, domain.DataNone, true},
		{domain.DataNone, domain.DataPartial, false},
		{domain.DataNone, domain.DataFull, false},
		{domain.DataPartial, domain.DataNone, true},
		{domain.DataPartial, domain.DataPartial, true},
		{domain.DataPartial, domain.DataFull, false},
		{domain.DataFull, domain.DataNone, true},
		{domain.DataFull, domain.DataPartial, true},
		{domain.DataFull, domain.DataFull, true},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, presence.HasMinimum(c.actual, c.wanted), "%s >= %s", c.actual, c.wanted)
	}
}

func TestCheck(t *testing.T) {
	root := t.TempDir()
	md := testutil.Fixture(t)

	_, err := presence.Check(md, root, true, domain.DataNone)
	require.NoError(t, err)

	entries, err := presence.Check(md, root, true, domain.DataFull)
	assert.True(t, errors.Is(err, domain.ErrExecution))
	assert.Contains(t, err.Error(), "minimum expected data not reached")
	assert.Len(t, entries, 1)
}

func exists(entries []domain.PresenceEntry) []bool {
	out := make([]bool, len(entries))
	for i, e := range entries {
		out[i] = e.Exists
	}
	return out
}
