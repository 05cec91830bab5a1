package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tcbridge/internal/domain"
	"tcbridge/internal/repository"
)

const (
	createMovesTable = `
CREATE TABLE IF NOT EXISTS moves (
	id TEXT PRIMARY KEY,
	infohash TEXT NOT NULL,
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	archive TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	finished_at DATETIME NULL
);
`
	createMovesIndex = `CREATE INDEX IF NOT EXISTS moves_infohash ON moves (infohash)`

	selectMoves = `
SELECT id, infohash, source, target, status, error_message, archive, started_at, finished_at
FROM moves`
)

type MoveRepository struct {
	db *sql.DB
}

func NewMoveRepository(db *sql.DB) repository.MoveRepository {
	return &MoveRepository{db: db}
}

func (r *MoveRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createMovesTable); err != nil {
		return fmt.Errorf("create moves table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createMovesIndex); err != nil {
		return fmt.Errorf("create moves index: %w", err)
	}
	return nil
}

func (r *MoveRepository) Create(ctx context.Context, move *domain.MoveRecord) error {
	if move.StartedAt.IsZero() {
		move.StartedAt = time.Now().UTC()
	}
	if move.Status == "" {
		move.Status = domain.MoveStatusRunning
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO moves (id, infohash, source, target, status, error_message, archive, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		move.ID,
		move.InfoHash,
		move.Source,
		move.Target,
		string(move.Status),
		move.ErrorMessage,
		move.Archive,
		move.StartedAt.UTC(),
		nullTime(move.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert move: %w", err)
	}
	return nil
}

func (r *MoveRepository) Finish(ctx context.Context, id string, status domain.MoveStatus, errorMessage, archive string, finishedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE moves
SET status=?, error_message=?, archive=?, finished_at=?
WHERE id=?`,
		string(status),
		errorMessage,
		archive,
		finishedAt.UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish move: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("move finish rows affected: %w", err)
	}
	if aff == 0 {
		return fmt.Errorf("%w: %s", repository.ErrMoveNotFound, id)
	}
	return nil
}

func (r *MoveRepository) Get(ctx context.Context, id string) (*domain.MoveRecord, error) {
	row := r.db.QueryRowContext(ctx, selectMoves+`
WHERE id=?`,
		id,
	)
	move, err := scanMove(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", repository.ErrMoveNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return move, nil
}

func (r *MoveRepository) List(ctx context.Context, limit int) ([]domain.MoveRecord, error) {
	query := selectMoves + `
ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.query(ctx, query, args...)
}

func (r *MoveRepository) ListByStatuses(ctx context.Context, statuses ...domain.MoveStatus) ([]domain.MoveRecord, error) {
	if len(statuses) == 0 {
		return []domain.MoveRecord{}, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}

	query := fmt.Sprintf(selectMoves+`
WHERE status IN (%s)
ORDER BY started_at DESC, rowid DESC`, strings.Join(placeholders, ","))
	return r.query(ctx, query, args...)
}

func (r *MoveRepository) query(ctx context.Context, query string, args ...any) ([]domain.MoveRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query moves: %w", err)
	}
	defer rows.Close()

	moves := []domain.MoveRecord{}
	for rows.Next() {
		move, err := scanMove(rows)
		if err != nil {
			return nil, err
		}
		moves = append(moves, *move)
	}
	return moves, rows.Err()
}

func scanMove(scanner interface {
	Scan(dest ...any) error
}) (*domain.MoveRecord, error) {
	var (
		move       domain.MoveRecord
		status     string
		startedAt  time.Time
		finishedAt sql.NullTime
	)
	if err := scanner.Scan(
		&move.ID,
		&move.InfoHash,
		&move.Source,
		&move.Target,
		&status,
		&move.ErrorMessage,
		&move.Archive,
		&startedAt,
		&finishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan move: %w", err)
	}

	move.Status = domain.MoveStatus(status)
	move.StartedAt = startedAt.UTC()
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		move.FinishedAt = &t
	}
	return &move, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
