// Package metadata validates decoded torrent files and exposes the parts of
// the info section the presence scanner, resume synthesizer and clients need.
package metadata

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"tcbridge/internal/bencode"
	"tcbridge/internal/domain"
)

const pieceHashSize = 20

// File is one declared payload file. Path holds the components below the
// torrent root; single-file torrents expose one file whose path is its name.
type File struct {
	Path   []string
	Length int64
}

// Metadata is an immutable, validated torrent file.
type Metadata struct {
	root        map[string]any
	rawInfo     []byte
	infoHash    string
	name        string
	pieceLength int64
	pieces      []byte
	files       []File
	multiFile   bool
}

// Parse decodes and validates a torrent file. The infohash is taken over the
// info section bytes exactly as they appear in data.
func Parse(data []byte) (*Metadata, error) {
	decoded, err := bencode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptMetadata, err)
	}
	root, ok := decoded.(map[string]any)
	if !ok {
		return nil, corrupt("top-level value is not a dictionary")
	}
	rawInfo, ok, err := bencode.RawValue(data, "info")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptMetadata, err)
	}
	if !ok {
		return nil, corrupt("missing info section")
	}
	return build(root, rawInfo)
}

// FromDict validates an already decoded torrent dictionary. The info section
// is re-encoded canonically to derive the infohash.
func FromDict(root map[string]any) (*Metadata, error) {
	info, ok := root["info"]
	if !ok {
		return nil, corrupt("missing info section")
	}
	rawInfo, err := bencode.Encode(info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptMetadata, err)
	}
	return build(root, rawInfo)
}

func build(root map[string]any, rawInfo []byte) (*Metadata, error) {
	info, ok := root["info"].(map[string]any)
	if !ok {
		return nil, corrupt("info section is not a dictionary")
	}

	m := &Metadata{root: root, rawInfo: rawInfo}
	sum := sha1.Sum(rawInfo)
	m.infoHash = hex.EncodeToString(sum[:])

	name, ok := info["name"].([]byte)
	if !ok {
		return nil, corrupt("info.name is missing")
	}
	if !LegalComponent(string(name)) {
		return nil, corrupt(fmt.Sprintf("illegal torrent name %q", name))
	}
	m.name = string(name)

	if m.pieceLength, ok = integer(info["piece length"]); !ok || m.pieceLength <= 0 {
		return nil, corrupt("info.piece length must be a positive integer")
	}
	if m.pieces, ok = info["pieces"].([]byte); !ok || len(m.pieces)%pieceHashSize != 0 {
		return nil, corrupt("info.pieces must be a multiple of 20 bytes")
	}

	if list, isMulti := info["files"]; isMulti {
		files, err := parseFiles(list)
		if err != nil {
			return nil, err
		}
		m.files = files
		m.multiFile = true
	} else {
		length, ok := integer(info["length"])
		if !ok || length < 0 {
			return nil, corrupt("info needs either length or files")
		}
		m.files = []File{{Path: []string{m.name}, Length: length}}
	}

	if m.TotalSize() > int64(m.PieceCount())*m.pieceLength {
		return nil, corrupt("declared size exceeds the piece table")
	}
	return m, nil
}

func parseFiles(v any) ([]File, error) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, corrupt("info.files must be a non-empty list")
	}
	files := make([]File, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, corrupt(fmt.Sprintf("info.files[%d] is not a dictionary", i))
		}
		length, ok := integer(entry["length"])
		if !ok || length < 0 {
			return nil, corrupt(fmt.Sprintf("info.files[%d].length is invalid", i))
		}
		components, ok := entry["path"].([]any)
		if !ok || len(components) == 0 {
			return nil, corrupt(fmt.Sprintf("info.files[%d].path is invalid", i))
		}
		path := make([]string, 0, len(components))
		for _, c := range components {
			b, ok := c.([]byte)
			if !ok || !LegalComponent(string(b)) {
				return nil, corrupt(fmt.Sprintf("info.files[%d].path has an illegal component", i))
			}
			path = append(path, string(b))
		}
		files = append(files, File{Path: path, Length: length})
	}
	if err := checkCollisions(files); err != nil {
		return nil, err
	}
	return files, nil
}

// checkCollisions rejects file lists where two entries share a path or one
// entry is a directory of another.
func checkCollisions(files []File) error {
	paths := make(map[string]struct{}, len(files))
	for i, f := range files {
		key := strings.Join(f.Path, "/")
		if _, dup := paths[key]; dup {
			return corrupt(fmt.Sprintf("info.files[%d].path %q is declared twice", i, key))
		}
		paths[key] = struct{}{}
	}
	for i, f := range files {
		for n := 1; n < len(f.Path); n++ {
			dir := strings.Join(f.Path[:n], "/")
			if _, ok := paths[dir]; ok {
				return corrupt(fmt.Sprintf("info.files[%d].path lies inside file %q", i, dir))
			}
		}
	}
	return nil
}

// LegalComponent reports whether s can be used verbatim as one path segment.
func LegalComponent(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}

// integer accepts only values that fit in int64; larger sizes are not
// addressable on disk anyway.
func integer(v any) (int64, bool) {
	n, ok := v.(int64)
	return n, ok
}

func corrupt(reason string) error {
	return fmt.Errorf("%w: %s", domain.ErrCorruptMetadata, reason)
}

// InfoHash returns the 40 character lowercase hex infohash.
func (m *Metadata) InfoHash() string { return m.infoHash }

func (m *Metadata) Name() string { return m.name }

func (m *Metadata) PieceLength() int64 { return m.pieceLength }

func (m *Metadata) PieceCount() int { return len(m.pieces) / pieceHashSize }

func (m *Metadata) IsMultiFile() bool { return m.multiFile }

// Files returns a copy of the declared files in declaration order.
func (m *Metadata) Files() []File {
	files := make([]File, len(m.files))
	for i, f := range m.files {
		files[i] = File{Path: append([]string(nil), f.Path...), Length: f.Length}
	}
	return files
}

func (m *Metadata) TotalSize() int64 {
	var total int64
	for _, f := range m.files {
		total += f.Length
	}
	return total
}

// Trackers returns the announce URLs, primary announce first, without duplicates.
func (m *Metadata) Trackers() []string {
	var (
		out  []string
		seen = map[string]struct{}{}
	)
	add := func(v any) {
		b, ok := v.([]byte)
		if !ok || len(b) == 0 {
			return
		}
		if _, dup := seen[string(b)]; dup {
			return
		}
		seen[string(b)] = struct{}{}
		out = append(out, string(b))
	}

	add(m.root["announce"])
	if tiers, ok := m.root["announce-list"].([]any); ok {
		for _, tier := range tiers {
			if urls, ok := tier.([]any); ok {
				for _, u := range urls {
					add(u)
				}
			}
		}
	}
	return out
}

// Bytes encodes the torrent file, keeping the info section byte-identical to
// the one the infohash was computed over.
func (m *Metadata) Bytes() ([]byte, error) {
	return m.encodeWith(nil)
}

// WithResume encodes the torrent file with an extra top-level
// libtorrent_resume dictionary.
func (m *Metadata) WithResume(resume map[string]any) ([]byte, error) {
	return m.encodeWith(map[string]any{"libtorrent_resume": resume})
}

func (m *Metadata) encodeWith(extra map[string]any) ([]byte, error) {
	out := make(map[string]any, len(m.root)+len(extra))
	for k, v := range m.root {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	out["info"] = bencode.RawMessage(m.rawInfo)
	return bencode.Encode(out)
}
