// Package client defines the operations every torrent daemon adapter
// exposes, and the registry that builds adapters from connection URLs.
package client

import (
	"context"

	"tcbridge/internal/domain"
	"tcbridge/internal/metadata"
)

// AddOptions controls how Add registers a torrent.
type AddOptions struct {
	// DestinationPath is the directory the payload lives in. For multi-file
	// torrents with AddNameToFolder set, the torrent name is appended below it.
	DestinationPath string
	// FastResume asks the daemon to trust the data on disk instead of
	// rechecking it, when the daemon supports it.
	FastResume bool
	// AddNameToFolder only applies to multi-file torrents.
	AddNameToFolder bool
	// MinimumExpectedData gates the add on what already exists on disk.
	MinimumExpectedData domain.DataSufficiency
	// Stopped adds the torrent without starting it.
	Stopped bool
}

// Client is implemented once per daemon family. Every daemon-side or
// connectivity fault is reported as an error wrapping domain.ErrExecution.
//
// Add must never leave the torrent partially registered when it fails.
type Client interface {
	List(ctx context.Context) ([]domain.TorrentRecord, error)
	ListActive(ctx context.Context) ([]domain.TorrentRecord, error)
	Start(ctx context.Context, infoHash string) error
	Stop(ctx context.Context, infoHash string) error
	// TestConnection reports whether the daemon is reachable.
	TestConnection(ctx context.Context) bool
	Add(ctx context.Context, md *metadata.Metadata, opts AddOptions) error
	Remove(ctx context.Context, infoHash string) error
	// RetrieveMetadata returns the raw torrent file the daemon holds.
	RetrieveMetadata(ctx context.Context, infoHash string) ([]byte, error)
	// GetDownloadPath returns the directory holding the payload. For
	// multi-file torrents that is the folder named after the torrent when
	// the daemon nests it.
	GetDownloadPath(ctx context.Context, infoHash string) (string, error)
	GetFiles(ctx context.Context, infoHash string) ([]domain.FileRecord, error)
	// SerializeConfiguration returns a URL that Registry.Parse turns back
	// into an equivalent client.
	SerializeConfiguration() (string, error)
}

// Find returns the record for infoHash from records.
func Find(records []domain.TorrentRecord, infoHash string) (domain.TorrentRecord, bool) {
	for _, r := range records {
		if r.InfoHash == infoHash {
			return r, true
		}
	}
	return domain.TorrentRecord{}, false
}
