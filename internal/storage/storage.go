package storage

import (
	"context"
	"time"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// Archive keeps copies of torrent files retrieved from a daemon before they
// are moved elsewhere.
type Archive interface {
	// Store saves data under infoHash and returns its location.
	Store(ctx context.Context, infoHash string, data []byte) (string, error)
	// Fetch returns the archived torrent file for infoHash.
	Fetch(ctx context.Context, infoHash string) ([]byte, error)
	List(ctx context.Context) ([]ObjectInfo, error)
}
