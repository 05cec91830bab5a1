// Package resume derives fast-resume state from a presence scan.
package resume

import (
	"fmt"
	"os"

	"tcbridge/internal/domain"
	"tcbridge/internal/metadata"
)

// Synthesize marks a piece complete only when every file overlapping it is
// present. entries must come from a scan of md, one per declared file in
// declaration order.
func Synthesize(md *metadata.Metadata, entries []domain.PresenceEntry) (domain.ResumeState, error) {
	files := md.Files()
	if len(entries) != len(files) {
		return domain.ResumeState{}, fmt.Errorf("synthesize resume: %d presence entries for %d files", len(entries), len(files))
	}

	pieceCount := md.PieceCount()
	pieceLength := md.PieceLength()
	pieces := make([]bool, pieceCount)
	for i := range pieces {
		pieces[i] = true
	}

	state := domain.ResumeState{Files: make([]bool, len(files)), PieceCount: pieceCount}
	var offset int64
	for i, f := range files {
		exists := entries[i].Exists
		state.Files[i] = exists

		end := offset + f.Length
		if !exists {
			first := offset / pieceLength
			last := (end + pieceLength - 1) / pieceLength
			for p := first; p < last && p < int64(pieceCount); p++ {
				pieces[p] = false
			}
		}
		offset = end
	}

	state.Complete = true
	for _, ok := range pieces {
		if !ok {
			state.Complete = false
			break
		}
	}
	if !state.Complete {
		state.Bitfield = Pack(pieces)
	}
	return state, nil
}

// Pack packs bits most significant bit first, ceil(len/8) bytes long.
func Pack(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, set := range bits {
		if set {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out
}

// LibtorrentResume renders state as the libtorrent_resume dictionary a
// daemon reads from metadata. A complete torrent carries its piece count in
// place of the bitfield.
func LibtorrentResume(state domain.ResumeState, entries []domain.PresenceEntry) (map[string]any, error) {
	if len(entries) != len(state.Files) {
		return nil, fmt.Errorf("render resume: %d presence entries for %d files", len(entries), len(state.Files))
	}

	files := make([]any, 0, len(entries))
	for i, e := range entries {
		f := map[string]any{"priority": int64(1), "completed": int64(0)}
		if state.Files[i] {
			info, err := os.Stat(e.Path)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", e.Path, err)
			}
			f["completed"] = int64(1)
			f["mtime"] = info.ModTime().Unix()
		}
		files = append(files, f)
	}

	out := map[string]any{"files": files}
	if state.Complete {
		out["bitfield"] = int64(state.PieceCount)
	} else {
		out["bitfield"] = state.Bitfield
	}
	return out, nil
}
