package domain

import "errors"

var (
	// ErrExecution wraps any daemon-side or connectivity fault raised by a client adapter.
	ErrExecution = errors.New("failed to execute command on torrent client")
	// ErrNotFound is returned when the source client does not list the infohash.
	ErrNotFound = errors.New("torrent not found")
	// ErrAlreadyExists is returned when the target client already lists the infohash.
	ErrAlreadyExists = errors.New("torrent already exists")
	// ErrUnmovableState is returned for torrents the source reports in the error state.
	ErrUnmovableState = errors.New("torrent is in an unmovable state")
	// ErrCorruptMetadata is returned when retrieved metadata cannot be decoded or validated.
	ErrCorruptMetadata = errors.New("corrupt torrent metadata")
	// ErrMigrationFailed is returned when a move or relocation could not
	// complete and the torrent was put back where it was.
	ErrMigrationFailed = errors.New("torrent migration failed")
)
