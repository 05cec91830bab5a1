package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type TorrentState string

const (
	TorrentStateActive  TorrentState = "active"
	TorrentStateStopped TorrentState = "stopped"
	TorrentStateError   TorrentState = "error"
)

// addedLayout is the wire format of TorrentRecord.Added, always UTC.
const addedLayout = "2006-01-02T15:04:05"

// TorrentRecord is the daemon-independent view of a torrent. It is rebuilt on
// every query and never cached.
type TorrentRecord struct {
	InfoHash     string       `json:"infohash"`
	Name         string       `json:"name"`
	Size         int64        `json:"size"`
	State        TorrentState `json:"state"`
	Progress     float64      `json:"progress"`
	Uploaded     int64        `json:"uploaded"`
	Added        time.Time    `json:"-"`
	Tracker      string       `json:"tracker"`
	UploadRate   int64        `json:"upload_rate"`
	DownloadRate int64        `json:"download_rate"`
	Label        string       `json:"label"`
}

type torrentRecordAlias TorrentRecord

type torrentRecordJSON struct {
	torrentRecordAlias
	Added string `json:"added"`
}

func (r TorrentRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(torrentRecordJSON{
		torrentRecordAlias: torrentRecordAlias(r),
		Added:              r.Added.UTC().Format(addedLayout),
	})
}

func (r *TorrentRecord) UnmarshalJSON(data []byte) error {
	var raw torrentRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	added, err := time.ParseInLocation(addedLayout, raw.Added, time.UTC)
	if err != nil {
		return fmt.Errorf("parse added timestamp: %w", err)
	}
	*r = TorrentRecord(raw.torrentRecordAlias)
	r.Added = added
	return nil
}

// FileRecord describes one file of a torrent relative to its root.
type FileRecord struct {
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
}

// DataSufficiency grades how much of a torrent's payload exists on disk. It
// doubles as the minimum-expected-data precondition of an add.
type DataSufficiency string

const (
	DataNone    DataSufficiency = "none"
	DataPartial DataSufficiency = "partial"
	DataFull    DataSufficiency = "full"
)

func ParseDataSufficiency(s string) (DataSufficiency, error) {
	switch v := DataSufficiency(strings.ToLower(strings.TrimSpace(s))); v {
	case DataNone, DataPartial, DataFull:
		return v, nil
	case "":
		return DataNone, nil
	default:
		return "", fmt.Errorf("unknown data sufficiency %q", s)
	}
}

// PresenceEntry is the result of checking one declared file against disk.
type PresenceEntry struct {
	Path         string
	RelativePath string
	Size         int64
	Exists       bool
}

// ResumeState is synthesized fast-resume data. Bitfield is nil when Complete
// is set.
type ResumeState struct {
	Files      []bool
	PieceCount int
	Complete   bool
	Bitfield   []byte
}
