// Package mover relocates one torrent from a source daemon to a target
// daemon without re-downloading its payload.
//
// The workflow runs in phases: validating, fetching, stopping, adding and
// committing. A failed add rolls the source back to its previous state.
// Removal from the source is the last step and is not compensated, so a
// failure there leaves the torrent registered on both daemons.
package mover

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"tcbridge/internal/client"
	"tcbridge/internal/domain"
	"tcbridge/internal/metadata"
)

// ErrSourceRemoval is returned when the target holds the torrent but the
// source could not drop it.
var ErrSourceRemoval = errors.New("torrent added to target but not removed from source")

type Phase string

const (
	PhaseValidating Phase = "validating"
	PhaseFetching   Phase = "fetching"
	PhaseStopping   Phase = "stopping"
	PhaseAdding     Phase = "adding"
	PhaseRollback   Phase = "rollback"
	PhaseCommitting Phase = "committing"
	PhaseDone       Phase = "done"
)

type Config struct {
	Logger *logrus.Logger
}

type Request struct {
	InfoHash   string
	Source     client.Client
	Target     client.Client
	FastResume bool
	// Fetched, when set, is called once the metadata and download path are
	// known and before anything changes on either client.
	Fetched func(ctx context.Context, res Result)
}

// Result describes what the workflow learned about the torrent. Fields are
// filled as phases complete, so a failed move still reports the metadata
// if it got that far.
type Result struct {
	Phase           Phase
	SourceState     domain.TorrentState
	Metadata        *metadata.Metadata
	RawMetadata     []byte
	DownloadPath    string
	AddNameToFolder bool
}

// Orchestrator issues one adapter call at a time and holds no state between
// moves. Concurrent moves of the same torrent are not serialized.
type Orchestrator struct {
	logger *logrus.Logger
}

func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Orchestrator{logger: cfg.Logger}
}

// Move runs the workflow. Cancelling ctx stops it before the adding phase;
// from then on it always completes rollback or commit.
func (o *Orchestrator) Move(ctx context.Context, req Request) (Result, error) {
	log := o.logger.WithField("infohash", req.InfoHash)
	res := Result{}
	enter := func(p Phase) {
		res.Phase = p
		log.WithField("phase", p).Info("move phase")
	}

	enter(PhaseValidating)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if !req.Source.TestConnection(ctx) {
		log.Warn("source client did not answer connection test")
	}
	if !req.Target.TestConnection(ctx) {
		log.Warn("target client did not answer connection test")
	}

	sourceTorrents, err := req.Source.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list source torrents: %w", err)
	}
	record, ok := client.Find(sourceTorrents, req.InfoHash)
	if !ok {
		return res, fmt.Errorf("%w: %s on source", domain.ErrNotFound, req.InfoHash)
	}
	res.SourceState = record.State

	targetTorrents, err := req.Target.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list target torrents: %w", err)
	}
	if _, ok := client.Find(targetTorrents, req.InfoHash); ok {
		return res, fmt.Errorf("%w: %s on target", domain.ErrAlreadyExists, req.InfoHash)
	}
	if record.State == domain.TorrentStateError {
		return res, fmt.Errorf("%w: %s is in error state on source", domain.ErrUnmovableState, req.InfoHash)
	}

	enter(PhaseFetching)
	raw, err := req.Source.RetrieveMetadata(ctx, req.InfoHash)
	if err != nil {
		return res, fmt.Errorf("retrieve metadata: %w", err)
	}
	res.RawMetadata = raw
	md, err := metadata.Parse(raw)
	if err != nil {
		return res, fmt.Errorf("decode retrieved metadata: %w", err)
	}
	if md.InfoHash() != req.InfoHash {
		return res, fmt.Errorf("%w: source returned metadata for %s", domain.ErrCorruptMetadata, md.InfoHash())
	}
	res.Metadata = md

	downloadPath, err := req.Source.GetDownloadPath(ctx, req.InfoHash)
	if err != nil {
		return res, fmt.Errorf("get download path: %w", err)
	}
	res.DownloadPath, res.AddNameToFolder = TargetPath(md, downloadPath)
	log = log.WithFields(logrus.Fields{
		"path":               res.DownloadPath,
		"add_name_to_folder": res.AddNameToFolder,
	})

	if req.Fetched != nil {
		req.Fetched(ctx, res)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	wasActive := record.State == domain.TorrentStateActive
	if wasActive {
		enter(PhaseStopping)
		if err := req.Source.Stop(ctx, req.InfoHash); err != nil {
			return res, fmt.Errorf("stop torrent on source: %w", err)
		}
	}

	// Past this point the outcome must be settled on both daemons.
	ctx = context.WithoutCancel(ctx)

	enter(PhaseAdding)
	addErr := req.Target.Add(ctx, md, client.AddOptions{
		DestinationPath:     res.DownloadPath,
		FastResume:          req.FastResume,
		AddNameToFolder:     res.AddNameToFolder,
		MinimumExpectedData: domain.DataFull,
		Stopped:             record.State == domain.TorrentStateStopped,
	})
	if addErr != nil {
		enter(PhaseRollback)
		log.WithError(addErr).Warn("add to target failed, restoring source")
		if wasActive {
			if err := req.Source.Start(ctx, req.InfoHash); err != nil {
				log.WithError(err).Error("failed to restart torrent on source")
				addErr = errors.Join(addErr, fmt.Errorf("restart torrent on source: %w", err))
			}
		}
		return res, fmt.Errorf("%w: %w", domain.ErrMigrationFailed, addErr)
	}

	enter(PhaseCommitting)
	if err := req.Source.Remove(ctx, req.InfoHash); err != nil {
		log.WithError(err).Error("torrent is now registered on both clients")
		return res, fmt.Errorf("%w: %w", ErrSourceRemoval, err)
	}

	enter(PhaseDone)
	return res, nil
}

// TargetPath converts a source download path into the destination path and
// addNameToFolder flag for the target add. A multi-file torrent whose root
// folder carries the torrent name is re-added below the parent with the
// name appended; anything else is added at the path unchanged.
func TargetPath(md *metadata.Metadata, downloadPath string) (string, bool) {
	downloadPath = filepath.Clean(downloadPath)
	if md.IsMultiFile() && filepath.Base(downloadPath) == md.Name() {
		return filepath.Dir(downloadPath), true
	}
	return downloadPath, false
}
