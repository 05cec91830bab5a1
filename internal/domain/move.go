package domain

import "time"

type MoveStatus string

const (
	MoveStatusRunning   MoveStatus = "running"
	MoveStatusSucceeded MoveStatus = "succeeded"
	MoveStatusFailed    MoveStatus = "failed"
	// MoveStatusDuplicate marks a move whose target add succeeded but whose
	// source removal failed; the torrent is registered on both clients.
	MoveStatusDuplicate MoveStatus = "duplicate"
)

// MoveRecord is one entry of the move journal.
type MoveRecord struct {
	ID           string
	InfoHash     string
	Source       string
	Target       string
	Status       MoveStatus
	ErrorMessage string
	Archive      string
	StartedAt    time.Time
	FinishedAt   *time.Time
}
