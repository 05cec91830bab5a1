// Package presence checks which declared torrent files exist on disk with
// their exact declared size.
package presence

import (
	"fmt"
	"os"
	"path/filepath"

	"tcbridge/internal/domain"
	"tcbridge/internal/metadata"
)

// Scan resolves every file of md below root and records whether a regular
// file of the declared size is present. Single-file torrents always live at
// root/name; addNameToFolder only applies to multi-file torrents.
func Scan(md *metadata.Metadata, root string, addNameToFolder bool) []domain.PresenceEntry {
	files := md.Files()
	entries := make([]domain.PresenceEntry, 0, len(files))

	if !md.IsMultiFile() {
		f := files[0]
		entries = append(entries, check(filepath.Join(root, md.Name()), md.Name(), f.Length))
		return entries
	}

	base := root
	prefix := ""
	if addNameToFolder {
		base = filepath.Join(root, md.Name())
		prefix = md.Name()
	}
	for _, f := range files {
		rel := filepath.Join(f.Path...)
		entries = append(entries, check(filepath.Join(base, rel), filepath.Join(prefix, rel), f.Length))
	}
	return entries
}

func check(path, rel string, size int64) domain.PresenceEntry {
	entry := domain.PresenceEntry{Path: path, RelativePath: rel, Size: size}
	info, err := os.Stat(path)
	if err == nil && info.Mode().IsRegular() && info.Size() == size {
		entry.Exists = true
	}
	return entry
}

// Sufficiency grades a scan: none when nothing is present, full when
// everything is, partial otherwise.
func Sufficiency(entries []domain.PresenceEntry) domain.DataSufficiency {
	present := 0
	for _, e := range entries {
		if e.Exists {
			present++
		}
	}
	switch {
	case present == 0:
		return domain.DataNone
	case present == len(entries):
		return domain.DataFull
	default:
		return domain.DataPartial
	}
}

// HasMinimum reports whether actual satisfies the wanted grade.
func HasMinimum(actual, wanted domain.DataSufficiency) bool {
	return rank(actual) >= rank(wanted)
}

func rank(s domain.DataSufficiency) int {
	switch s {
	case domain.DataFull:
		return 2
	case domain.DataPartial:
		return 1
	default:
		return 0
	}
}

// Check scans root and fails with ErrExecution when the data on disk is below
// the wanted grade. The scan is returned either way.
func Check(md *metadata.Metadata, root string, addNameToFolder bool, wanted domain.DataSufficiency) ([]domain.PresenceEntry, error) {
	entries := Scan(md, root, addNameToFolder)
	if actual := Sufficiency(entries); !HasMinimum(actual, wanted) {
		return entries, fmt.Errorf("%w: minimum expected data not reached, wanted %s actual %s",
			domain.ErrExecution, wanted, actual)
	}
	return entries, nil
}
