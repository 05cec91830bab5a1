package resume_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcbridge/internal/domain"
	"tcbridge/internal/presence"
	"tcbridge/internal/resume"
	"tcbridge/internal/testutil"
)

const pieceLength = 16

func TestSynthesizeComplete(t *testing.T) {
	// A covers pieces [0,2), B covers [2,5)
	md := testutil.MultiFile(t, "release", pieceLength,
		testutil.FileSpec{Path: "a.bin", Size: 2 * pieceLength},
		testutil.FileSpec{Path: "b.bin", Size: 3 * pieceLength},
	)
	require.Equal(t, 5, md.PieceCount())

	root := t.TempDir()
	testutil.WritePayload(t, md, root, true)

	state, err := resume.Synthesize(md, presence.Scan(md, root, true))
	require.NoError(t, err)
	assert.True(t, state.Complete)
	assert.Nil(t, state.Bitfield)
	assert.Equal(t, []bool{true, true}, state.Files)
	assert.Equal(t, 5, state.PieceCount)
}

func TestSynthesizeMissingFile(t *testing.T) {
	md := testutil.MultiFile(t, "release", pieceLength,
		testutil.FileSpec{Path: "a.bin", Size: 2 * pieceLength},
		testutil.FileSpec{Path: "b.bin", Size: 3 * pieceLength},
	)
	root := t.TempDir()
	testutil.WriteFile(t, filepath.Join(root, "release", "a.bin"), 2*pieceLength)

	state, err := resume.Synthesize(md, presence.Scan(md, root, true))
	require.NoError(t, err)
	assert.False(t, state.Complete)
	assert.Equal(t, []bool{true, false}, state.Files)
	// 11000000: pieces 0 and 1 set, 2..4 clear
	assert.Equal(t, []byte{0xC0}, state.Bitfield)
}

func TestSynthesizeStraddlingPieceStaysIncomplete(t *testing.T) {
	// piece 1 holds the tail of a.bin and the head of b.bin
	md := testutil.MultiFile(t, "release", pieceLength,
		testutil.FileSpec{Path: "a.bin", Size: pieceLength + 4},
		testutil.FileSpec{Path: "b.bin", Size: 2*pieceLength - 4},
	)
	require.Equal(t, 3, md.PieceCount())

	entries := []domain.PresenceEntry{{Exists: true}, {Exists: false}}
	state, err := resume.Synthesize(md, entries)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80}, state.Bitfield)
	assert.Equal(t, []bool{true, false}, state.Files)
}

func TestSynthesizeMultiByteBitfield(t *testing.T) {
	md := testutil.MultiFile(t, "release", pieceLength,
		testutil.FileSpec{Path: "a.bin", Size: 9 * pieceLength},
		testutil.FileSpec{Path: "b.bin", Size: pieceLength},
	)
	state, err := resume.Synthesize(md, []domain.PresenceEntry{{Exists: true}, {Exists: false}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0x80}, state.Bitfield)
}

func TestSynthesizeRejectsMismatchedEntries(t *testing.T) {
	md := testutil.Fixture(t)
	_, err := resume.Synthesize(md, nil)
	require.Error(t, err)
}

func TestPack(t *testing.T) {
	assert.Equal(t, []byte{}, resume.Pack(nil))
	assert.Equal(t, []byte{0xA0}, resume.Pack([]bool{true, false, true}))
	assert.Equal(t, []byte{0x01, 0x80}, resume.Pack([]bool{false, false, false, false, false, false, false, true, true}))
}

func TestLibtorrentResume(t *testing.T) {
	md := testutil.MultiFile(t, "release", pieceLength,
		testutil.FileSpec{Path: "a.bin", Size: 2 * pieceLength},
		testutil.FileSpec{Path: "b.bin", Size: 3 * pieceLength},
	)
	root := t.TempDir()
	testutil.WritePayload(t, md, root, true)
	mtime := time.Unix(1600000000, 0)
	require.NoError(t, os.Chtimes(filepath.Join(root, "release", "a.bin"), mtime, mtime))

	entries := presence.Scan(md, root, true)
	state, err := resume.Synthesize(md, entries)
	require.NoError(t, err)

	out, err := resume.LibtorrentResume(state, entries)
	require.NoError(t, err)
	assert.Equal(t, int64(5), out["bitfield"])
	files := out["files"].([]any)
	require.Len(t, files, 2)
	assert.Equal(t, map[string]any{"priority": int64(1), "completed": int64(1), "mtime": int64(1600000000)}, files[0])

	require.NoError(t, os.Remove(filepath.Join(root, "release", "b.bin")))
	entries = presence.Scan(md, root, true)
	state, err = resume.Synthesize(md, entries)
	require.NoError(t, err)

	out, err = resume.LibtorrentResume(state, entries)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC0}, out["bitfield"])
	assert.Equal(t, map[string]any{"priority": int64(1), "completed": int64(0)}, out["files"].([]any)[1])
}
