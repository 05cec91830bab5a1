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

	"tcbridge/internal/client"
	"tcbridge/internal/client/fake"
	"tcbridge/internal/domain"
	"tcbridge/internal/metadata"
	"tcbridge/internal/mover"
	"tcbridge/internal/testutil"
)

type fixture struct {
	src, dst *fake.Client
	md       *metadata.Metadata
	root     string
	mover    *mover.Orchestrator
}

func newFixture(t *testing.T, state domain.TorrentState) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		src:   fake.New(fake.Config{Name: "source"}),
		dst:   fake.New(fake.Config{Name: "target"}),
		root:  t.TempDir(),
		mover: mover.New(mover.Config{Logger: logger}),
	}
	f.md = testutil.MultiFile(t, "Some-Release", 16,
		testutil.FileSpec{Path: "file_a.txt", Size: 11},
		testutil.FileSpec{Path: "sub/file_b.txt", Size: 40},
	)
	testutil.WritePayload(t, f.md, f.root, true)
	require.NoError(t, f.src.Add(context.Background(), f.md, client.AddOptions{
		DestinationPath: f.root,
		AddNameToFolder: true,
		Stopped:         state == domain.TorrentStateStopped,
	}))
	if state == domain.TorrentStateError {
		require.NoError(t, f.src.SetState(f.md.InfoHash(), state))
	}
	return f
}

func (f *fixture) move(fastResume bool) (mover.Result, error) {
	return f.mover.Move(context.Background(), mover.Request{
		InfoHash:   f.md.InfoHash(),
		Source:     f.src,
		Target:     f.dst,
		FastResume: fastResume,
	})
}

func state(t *testing.T, c *fake.Client, infoHash string) (domain.TorrentState, bool) {
	t.Helper()
	records, err := c.List(context.Background())
	require.NoError(t, err)
	r, ok := client.Find(records, infoHash)
	return r.State, ok
}

func TestMoveMirrorsState(t *testing.T) {
	for _, s := range []domain.TorrentState{domain.TorrentStateActive, domain.TorrentStateStopped} {
		t.Run(string(s), func(t *testing.T) {
			f := newFixture(t, s)

			res, err := f.move(true)
			require.NoError(t, err)
			assert.Equal(t, mover.PhaseDone, res.Phase)
			assert.Equal(t, f.root, res.DownloadPath)
			assert.True(t, res.AddNameToFolder)

			_, onSource := state(t, f.src, f.md.InfoHash())
			assert.False(t, onSource)
			got, onTarget := state(t, f.dst, f.md.InfoHash())
			require.True(t, onTarget)
			assert.Equal(t, s, got)

			path, err := f.dst.GetDownloadPath(context.Background(), f.md.InfoHash())
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(f.root, "Some-Release"), path)
		})
	}
}

func TestMoveStopsOnlyActiveSource(t *testing.T) {
	f := newFixture(t, domain.TorrentStateStopped)
	_, err := f.move(false)
	require.NoError(t, err)
	assert.NotContains(t, f.src.Calls(), fake.OpStop)

	f = newFixture(t, domain.TorrentStateActive)
	_, err = f.move(false)
	require.NoError(t, err)
	assert.Contains(t, f.src.Calls(), fake.OpStop)
}

func TestMoveFetchedRunsBeforeAnyChange(t *testing.T) {
	f := newFixture(t, domain.TorrentStateActive)
	var (
		seen  mover.Result
		calls []fake.Op
	)
	_, err := f.mover.Move(context.Background(), mover.Request{
		InfoHash: f.md.InfoHash(),
		Source:   f.src,
		Target:   f.dst,
		Fetched: func(ctx context.Context, res mover.Result) {
			seen = res
			calls = f.src.Calls()
		},
	})
	require.NoError(t, err)
	require.NotNil(t, seen.Metadata)
	assert.Equal(t, f.md.InfoHash(), seen.Metadata.InfoHash())
	assert.NotEmpty(t, seen.RawMetadata)
	assert.NotContains(t, calls, fake.OpStop)
	assert.NotContains(t, calls, fake.OpRemove)
}

func TestMoveAlreadyOnTarget(t *testing.T) {
	f := newFixture(t, domain.TorrentStateActive)
	require.NoError(t, f.dst.Add(context.Background(), f.md, client.AddOptions{
		DestinationPath: f.root, AddNameToFolder: true, Stopped: true,
	}))

	_, err := f.move(false)
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists), "got %v", err)

	got, ok := state(t, f.src, f.md.InfoHash())
	require.True(t, ok)
	assert.Equal(t, domain.TorrentStateActive, got)
	got, ok = state(t, f.dst, f.md.InfoHash())
	require.True(t, ok)
	assert.Equal(t, domain.TorrentStateStopped, got)
	assert.NotContains(t, f.src.Calls(), fake.OpStop)
}

func TestMoveNotFound(t *testing.T) {
	f := newFixture(t, domain.TorrentStateActive)
	_, err := f.mover.Move(context.Background(), mover.Request{
		InfoHash: "0000000000000000000000000000000000000000",
		Source:   f.src,
		Target:   f.dst,
	})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestMoveUnmovableState(t *testing.T) {
	f := newFixture(t, domain.TorrentStateError)
	_, err := f.move(false)
	assert.True(t, errors.Is(err, domain.ErrUnmovableState))
	assert.NotContains(t, f.src.Calls(), fake.OpRetrieve)
}

func TestMoveCorruptMetadata(t *testing.T) {
	f := newFixture(t, domain.TorrentStateActive)
	require.NoError(t, f.src.PutRawMetadata(f.md.InfoHash(), []byte("d4:info")))

	_, err := f.move(false)
	assert.True(t, errors.Is(err, domain.ErrCorruptMetadata))
	assert.NotContains(t, f.src.Calls(), fake.OpStop)

	// metadata that decodes but belongs to another torrent
	require.NoError(t, f.src.PutRawMetadata(f.md.InfoHash(), []byte(testutil.SingleFileTorrent)))
	_, err = f.move(false)
	assert.True(t, errors.Is(err, domain.ErrCorruptMetadata))
}

func TestMoveAddFailureRestartsSource(t *testing.T) {
	f := newFixture(t, domain.TorrentStateActive)
	f.dst.FailNext(fake.OpAdd, errors.New("disk full"))

	res, err := f.move(false)
	assert.True(t, errors.Is(err, domain.ErrMigrationFailed))
	assert.Equal(t, mover.PhaseRollback, res.Phase)
	assert.NotNil(t, res.RawMetadata)

	got, ok := state(t, f.src, f.md.InfoHash())
	require.True(t, ok)
	assert.Equal(t, domain.TorrentStateActive, got)
	_, ok = state(t, f.dst, f.md.InfoHash())
	assert.False(t, ok)

	calls := f.src.Calls()
	assert.Contains(t, calls, fake.OpStop)
	assert.Contains(t, calls, fake.OpStart)
	assert.NotContains(t, calls, fake.OpRemove)
}

func TestMoveAddFailureKeepsStoppedSourceStopped(t *testing.T) {
	f := newFixture(t, domain.TorrentStateStopped)
	f.dst.FailNext(fake.OpAdd, errors.New("refused"))

	_, err := f.move(false)
	assert.True(t, errors.Is(err, domain.ErrMigrationFailed))
	assert.NotContains(t, f.src.Calls(), fake.OpStart)
	got, _ := state(t, f.src, f.md.InfoHash())
	assert.Equal(t, domain.TorrentStateStopped, got)
}

func TestMoveRequiresFullDataAtTarget(t *testing.T) {
	f := newFixture(t, domain.TorrentStateActive)
	require.NoError(t, os.Remove(filepath.Join(f.root, "Some-Release", "sub", "file_b.txt")))

	_, err := f.move(false)
	assert.True(t, errors.Is(err, domain.ErrMigrationFailed))
	got, _ := state(t, f.src, f.md.InfoHash())
	assert.Equal(t, domain.TorrentStateActive, got)
}

func TestMoveRollbackRestartFailure(t *testing.T) {
	f := newFixture(t, domain.TorrentStateActive)
	f.dst.FailNext(fake.OpAdd, errors.New("refused"))
	f.src.FailNext(fake.OpStart, errors.New("daemon gone"))

	_, err := f.move(false)
	assert.True(t, errors.Is(err, domain.ErrMigrationFailed))
	assert.Contains(t, err.Error(), "daemon gone")
}

func TestMoveSourceRemovalFailureLeavesDuplicate(t *testing.T) {
	f := newFixture(t, domain.TorrentStateActive)
	f.src.FailNext(fake.OpRemove, errors.New("timeout"))

	res, err := f.move(false)
	assert.True(t, errors.Is(err, mover.ErrSourceRemoval))
	assert.Equal(t, mover.PhaseCommitting, res.Phase)
	_, onSource := state(t, f.src, f.md.InfoHash())
	_, onTarget := state(t, f.dst, f.md.InfoHash())
	assert.True(t, onSource)
	assert.True(t, onTarget)
}

func TestMoveCancelledBeforeAdding(t *testing.T) {
	f := newFixture(t, domain.TorrentStateActive)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.mover.Move(ctx, mover.Request{InfoHash: f.md.InfoHash(), Source: f.src, Target: f.dst})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, f.src.Calls()[1:], "only the setup add reaches the source")
}

func TestTargetPath(t *testing.T) {
	multi := testutil.MultiFile(t, "Some-Release", 16, testutil.FileSpec{Path: "a", Size: 1})
	single := testutil.Fixture(t)

	path, addName := mover.TargetPath(multi, "/data/Some-Release")
	assert.Equal(t, "/data", path)
	assert.True(t, addName)

	path, addName = mover.TargetPath(multi, "/data/other/")
	assert.Equal(t, "/data/other", path)
	assert.False(t, addName)

	path, addName = mover.TargetPath(single, "/data/file_a.txt")
	assert.Equal(t, "/data/file_a.txt", path)
	assert.False(t, addName)
}
