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
	"tcbridge/internal/relocate"
)

type DataRequest struct {
	InfoHash string
	Client   client.Client
	// Destination is the directory the payload should end up in. Multi-file
	// torrents that were nested under their name stay nested.
	Destination string
}

// MoveData relocates a torrent's payload on disk and re-registers it with
// the same client at the new location, keeping its state. The client is
// never asked to re-download: the re-add requires the full payload and
// trusts it.
func (o *Orchestrator) MoveData(ctx context.Context, req DataRequest) error {
	log := o.logger.WithFields(logrus.Fields{
		"infohash":    req.InfoHash,
		"destination": req.Destination,
	})

	records, err := req.Client.List(ctx)
	if err != nil {
		return fmt.Errorf("list torrents: %w", err)
	}
	record, ok := client.Find(records, req.InfoHash)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, req.InfoHash)
	}
	if record.State == domain.TorrentStateError {
		return fmt.Errorf("%w: %s is in error state", domain.ErrUnmovableState, req.InfoHash)
	}

	raw, err := req.Client.RetrieveMetadata(ctx, req.InfoHash)
	if err != nil {
		return fmt.Errorf("retrieve metadata: %w", err)
	}
	md, err := metadata.Parse(raw)
	if err != nil {
		return fmt.Errorf("decode retrieved metadata: %w", err)
	}
	if md.InfoHash() != req.InfoHash {
		return fmt.Errorf("%w: client returned metadata for %s", domain.ErrCorruptMetadata, md.InfoHash())
	}

	sourceRoot, err := req.Client.GetDownloadPath(ctx, req.InfoHash)
	if err != nil {
		return fmt.Errorf("get download path: %w", err)
	}
	sourceRoot = filepath.Clean(sourceRoot)
	oldPath, addName := TargetPath(md, sourceRoot)
	destination := filepath.Clean(req.Destination)
	destRoot := destination
	if addName {
		destRoot = filepath.Join(destination, md.Name())
	}
	if destRoot == sourceRoot {
		log.Info("payload already at destination")
		return nil
	}

	files := make([]string, 0, len(md.Files()))
	for _, f := range md.Files() {
		files = append(files, filepath.Join(f.Path...))
	}
	opts := client.AddOptions{
		FastResume:          true,
		AddNameToFolder:     addName,
		MinimumExpectedData: domain.DataFull,
		Stopped:             record.State == domain.TorrentStateStopped,
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	wasActive := record.State == domain.TorrentStateActive
	if wasActive {
		if err := req.Client.Stop(ctx, req.InfoHash); err != nil {
			return fmt.Errorf("stop torrent: %w", err)
		}
	}
	restart := func(cause error) error {
		if !wasActive {
			return cause
		}
		if err := req.Client.Start(ctx, req.InfoHash); err != nil {
			return errors.Join(cause, fmt.Errorf("restart torrent: %w", err))
		}
		return cause
	}

	// Past this point the payload and the registration must agree.
	ctx = context.WithoutCancel(ctx)

	// Only the nested folder belongs to the torrent; any other root is shared.
	if err := relocate.Move(sourceRoot, destRoot, files, !addName); err != nil {
		log.WithError(err).Error("relocate payload")
		return fmt.Errorf("%w: %w", domain.ErrMigrationFailed, restart(fmt.Errorf("relocate payload: %w", err)))
	}
	moveBack := func(cause error) error {
		if err := relocate.Move(destRoot, sourceRoot, files, true); err != nil {
			log.WithError(err).Error("failed to move payload back")
			return errors.Join(cause, fmt.Errorf("move payload back: %w", err))
		}
		return cause
	}

	if err := req.Client.Remove(ctx, req.InfoHash); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMigrationFailed, restart(moveBack(fmt.Errorf("remove torrent: %w", err))))
	}

	opts.DestinationPath = destination
	addErr := req.Client.Add(ctx, md, opts)
	if addErr == nil {
		log.Info("payload moved")
		return nil
	}

	log.WithError(addErr).Warn("re-add at destination failed, restoring previous location")
	addErr = moveBack(fmt.Errorf("add torrent at destination: %w", addErr))
	opts.DestinationPath = oldPath
	if err := req.Client.Add(ctx, md, opts); err != nil {
		log.WithError(err).Error("torrent is no longer registered")
		addErr = errors.Join(addErr, fmt.Errorf("re-add torrent at previous location: %w", err))
	}
	return fmt.Errorf("%w: %w", domain.ErrMigrationFailed, addErr)
}
