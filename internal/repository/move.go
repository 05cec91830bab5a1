package repository

import (
	"context"
	"errors"
	"time"

	"tcbridge/internal/domain"
)

// ErrMoveNotFound is returned when no journal entry has the requested id.
var ErrMoveNotFound = errors.New("move not found")

// MoveRepository persists the move journal.
type MoveRepository interface {
	Init(ctx context.Context) error
	// Create stores a running move. StartedAt is set when zero.
	Create(ctx context.Context, move *domain.MoveRecord) error
	Finish(ctx context.Context, id string, status domain.MoveStatus, errorMessage, archive string, finishedAt time.Time) error
	Get(ctx context.Context, id string) (*domain.MoveRecord, error)
	// List returns up to limit moves, newest first. A limit of zero or less
	// returns all of them.
	List(ctx context.Context, limit int) ([]domain.MoveRecord, error)
	ListByStatuses(ctx context.Context, statuses ...domain.MoveStatus) ([]domain.MoveRecord, error)
}
