package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tcbridge/internal/client"
	"tcbridge/internal/domain"
	"tcbridge/internal/mover"
	"tcbridge/internal/repository"
	"tcbridge/internal/storage"
)

// ClientResolver opens a client from a configured name or a client URL.
type ClientResolver func(nameOrURL string) (client.Client, error)

type MoveRequest struct {
	InfoHash   string
	Source     string
	Target     string
	FastResume bool
}

// MoveService runs moves between named clients and keeps the journal.
type MoveService interface {
	// Move returns the journal entry even when the move fails, once the
	// entry has been written.
	Move(ctx context.Context, req MoveRequest) (*domain.MoveRecord, error)
	ListMoves(ctx context.Context, limit int) ([]domain.MoveRecord, error)
	// ListDuplicates returns moves that left the torrent on both clients.
	ListDuplicates(ctx context.Context) ([]domain.MoveRecord, error)
}

type MoveConfig struct {
	Logger *logrus.Logger
	// Archive is optional.
	Archive storage.Archive
	Now     func() time.Time
}

type moveService struct {
	moves   repository.MoveRepository
	resolve ClientResolver
	mover   *mover.Orchestrator
	archive storage.Archive
	logger  *logrus.Logger
	now     func() time.Time
}

func NewMoveService(cfg MoveConfig, moves repository.MoveRepository, resolve ClientResolver) MoveService {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &moveService{
		moves:   moves,
		resolve: resolve,
		mover:   mover.New(mover.Config{Logger: cfg.Logger}),
		archive: cfg.Archive,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

func (s *moveService) Move(ctx context.Context, req MoveRequest) (*domain.MoveRecord, error) {
	req.InfoHash = strings.ToLower(strings.TrimSpace(req.InfoHash))
	if len(req.InfoHash) != 40 {
		return nil, fmt.Errorf("invalid infohash %q", req.InfoHash)
	}
	if req.Source == "" || req.Target == "" {
		return nil, errors.New("source and target clients are required")
	}

	source, err := s.resolve(req.Source)
	if err != nil {
		return nil, fmt.Errorf("open source client: %w", err)
	}
	target, err := s.resolve(req.Target)
	if err != nil {
		return nil, fmt.Errorf("open target client: %w", err)
	}

	record := &domain.MoveRecord{
		ID:        uuid.NewString(),
		InfoHash:  req.InfoHash,
		Source:    req.Source,
		Target:    req.Target,
		Status:    domain.MoveStatusRunning,
		StartedAt: s.now().UTC(),
	}
	if err := s.moves.Create(ctx, record); err != nil {
		return nil, err
	}
	log := s.logger.WithFields(logrus.Fields{
		"move_id":  record.ID,
		"infohash": record.InfoHash,
		"source":   record.Source,
		"target":   record.Target,
	})

	_, moveErr := s.mover.Move(ctx, mover.Request{
		InfoHash:   req.InfoHash,
		Source:     source,
		Target:     target,
		FastResume: req.FastResume,
		Fetched: func(ctx context.Context, res mover.Result) {
			record.Archive = s.archiveMetadata(ctx, log, req.InfoHash, res.RawMetadata)
		},
	})

	// the journal must reflect the outcome even if the caller gave up
	ctx = context.WithoutCancel(ctx)

	switch {
	case moveErr == nil:
		record.Status = domain.MoveStatusSucceeded
		log.Info("move finished")
	case errors.Is(moveErr, mover.ErrSourceRemoval):
		record.Status = domain.MoveStatusDuplicate
		log.WithError(moveErr).Error("move left a duplicate")
	default:
		record.Status = domain.MoveStatusFailed
		log.WithError(moveErr).Error("move failed")
	}
	if moveErr != nil {
		record.ErrorMessage = moveErr.Error()
	}
	finished := s.now().UTC()
	record.FinishedAt = &finished

	if err := s.moves.Finish(ctx, record.ID, record.Status, record.ErrorMessage, record.Archive, finished); err != nil {
		return record, errors.Join(moveErr, err)
	}
	return record, moveErr
}

func (s *moveService) ListMoves(ctx context.Context, limit int) ([]domain.MoveRecord, error) {
	return s.moves.List(ctx, limit)
}

func (s *moveService) ListDuplicates(ctx context.Context) ([]domain.MoveRecord, error) {
	return s.moves.ListByStatuses(ctx, domain.MoveStatusDuplicate)
}

// archiveMetadata stores the torrent file while the source still holds the
// torrent. Failures are logged and leave the location empty.
func (s *moveService) archiveMetadata(ctx context.Context, log *logrus.Entry, infoHash string, raw []byte) string {
	if s.archive == nil || raw == nil {
		return ""
	}
	location, err := s.archive.Store(ctx, infoHash, raw)
	if err != nil {
		log.WithError(err).Warn("archive torrent file")
		return ""
	}
	return location
}
