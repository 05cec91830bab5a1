package mover_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcbridge/internal/bencode"
	"tcbridge/internal/client"
	"tcbridge/internal/client/fake"
	"tcbridge/internal/domain"
	"tcbridge/internal/mover"
	"tcbridge/internal/testutil"
)

func quietMover() *mover.Orchestrator {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return mover.New(mover.Config{Logger: logger})
}

func TestMoveDataMultiFile(t *testing.T) {
	f := newFixture(t, domain.TorrentStateActive)
	dest := filepath.Join(t.TempDir(), "archive")

	err := quietMover().MoveData(context.Background(), mover.DataRequest{
		InfoHash:    f.md.InfoHash(),
		Client:      f.src,
		Destination: dest,
	})
	require.NoError(t, err)

	path, err := f.src.GetDownloadPath(context.Background(), f.md.InfoHash())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "Some-Release"), path)
	assert.FileExists(t, filepath.Join(dest, "Some-Release", "sub", "file_b.txt"))
	assert.NoDirExists(t, filepath.Join(f.root, "Some-Release"))
	assert.DirExists(t, f.root)

	s, ok := state(t, f.src, f.md.InfoHash())
	require.True(t, ok)
	assert.Equal(t, domain.TorrentStateActive, s)
}

func TestMoveDataSingleFileKeepsParent(t *testing.T) {
	ctx := context.Background()
	c := fake.New(fake.Config{Name: "a"})
	md := testutil.Fixture(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "file_a.txt"), []byte(testutil.SingleFileContent), 0o644))
	require.NoError(t, c.Add(ctx, md, client.AddOptions{DestinationPath: root, Stopped: true}))

	dest := filepath.Join(t.TempDir(), "elsewhere")
	require.NoError(t, quietMover().MoveData(ctx, mover.DataRequest{InfoHash: md.InfoHash(), Client: c, Destination: dest}))

	assert.FileExists(t, filepath.Join(dest, "file_a.txt"))
	assert.DirExists(t, root)
	s, ok := state(t, c, md.InfoHash())
	require.True(t, ok)
	assert.Equal(t, domain.TorrentStateStopped, s)
}

func TestMoveDataRestoresOnAddFailure(t *testing.T) {
	f := newFixture(t, domain.TorrentStateActive)
	dest := filepath.Join(t.TempDir(), "archive")
	f.src.FailNext(fake.OpAdd, errors.New("disk full"))

	err := quietMover().MoveData(context.Background(), mover.DataRequest{
		InfoHash:    f.md.InfoHash(),
		Client:      f.src,
		Destination: dest,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMigrationFailed))
	// a relocation has no second client to blame
	assert.NotContains(t, err.Error(), "target")

	assert.FileExists(t, filepath.Join(f.root, "Some-Release", "sub", "file_b.txt"))
	assert.NoFileExists(t, filepath.Join(dest, "Some-Release", "sub", "file_b.txt"))
	path, err := f.src.GetDownloadPath(context.Background(), f.md.InfoHash())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.root, "Some-Release"), path)
	s, ok := state(t, f.src, f.md.InfoHash())
	require.True(t, ok)
	assert.Equal(t, domain.TorrentStateActive, s)
}

func TestMoveDataSameLocation(t *testing.T) {
	f := newFixture(t, domain.TorrentStateActive)
	err := quietMover().MoveData(context.Background(), mover.DataRequest{
		InfoHash:    f.md.InfoHash(),
		Client:      f.src,
		Destination: f.root,
	})
	require.NoError(t, err)
	assert.NotContains(t, f.src.Calls(), fake.OpStop)
}

func TestMoveDataUnknownTorrent(t *testing.T) {
	c := fake.New(fake.Config{Name: "a"})
	err := quietMover().MoveData(context.Background(), mover.DataRequest{
		InfoHash:    testutil.SingleFileInfoHash,
		Client:      c,
		Destination: t.TempDir(),
	})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestMoveDataRefusesRepeatedFileDeclarations(t *testing.T) {
	f := newFixture(t, domain.TorrentStateActive)
	raw, err := bencode.Encode(testutil.MultiFileDict("Some-Release", 16,
		testutil.FileSpec{Path: "file_a.txt", Size: 11},
		testutil.FileSpec{Path: "sub/file_b.txt", Size: 40},
		testutil.FileSpec{Path: "file_a.txt", Size: 11},
	))
	require.NoError(t, err)
	require.NoError(t, f.src.PutRawMetadata(f.md.InfoHash(), raw))

	dest := filepath.Join(t.TempDir(), "archive")
	err = quietMover().MoveData(context.Background(), mover.DataRequest{
		InfoHash:    f.md.InfoHash(),
		Client:      f.src,
		Destination: dest,
	})
	assert.True(t, errors.Is(err, domain.ErrCorruptMetadata))

	assert.FileExists(t, filepath.Join(f.root, "Some-Release", "file_a.txt"))
	assert.NoDirExists(t, dest)
	assert.NotContains(t, f.src.Calls(), fake.OpStop)
	s, ok := state(t, f.src, f.md.InfoHash())
	require.True(t, ok)
	assert.Equal(t, domain.TorrentStateActive, s)
}
