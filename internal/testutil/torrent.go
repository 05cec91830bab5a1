// Package testutil builds torrents and payload trees for tests.
package testutil

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tcbridge/internal/bencode"
	"tcbridge/internal/metadata"
)

const (
	// SingleFileTorrent describes file_a.txt holding "hello world".
	SingleFileTorrent = "d8:announce35:http://tracker.example.com/announce10:created by8:tcbridge" +
		"4:infod6:lengthi11e4:name10:file_a.txt12:piece lengthi16384e" +
		"6:pieces20:*\xael5\xc9O\xcf\xb4\x15\xdb\xe9_@\x8b\x9c\xe9\x1e\xe8F\xedee"
	SingleFileInfoHash = "b385fdc6dee6005245f7ae79f5476898795ed833"
	SingleFileContent  = "hello world"

	Announce = "http://tracker.example.com/announce"
)

// FileSpec declares one payload file; Path uses forward slashes.
type FileSpec struct {
	Path string
	Size int64
}

// MultiFileDict returns the decoded form of a multi-file torrent. Piece
// hashes are placeholders sized to cover the payload.
func MultiFileDict(name string, pieceLength int64, files ...FileSpec) map[string]any {
	var (
		total int64
		list  = make([]any, 0, len(files))
	)
	for _, f := range files {
		var path []any
		for _, c := range strings.Split(f.Path, "/") {
			path = append(path, []byte(c))
		}
		list = append(list, map[string]any{"length": f.Size, "path": path})
		total += f.Size
	}
	return map[string]any{
		"announce": []byte(Announce),
		"info": map[string]any{
			"name":         []byte(name),
			"piece length": pieceLength,
			"pieces":       placeholderPieces(total, pieceLength),
			"files":        list,
		},
	}
}

// SingleFileDict returns the decoded form of a single-file torrent.
func SingleFileDict(name string, size, pieceLength int64) map[string]any {
	return map[string]any{
		"announce": []byte(Announce),
		"info": map[string]any{
			"name":         []byte(name),
			"piece length": pieceLength,
			"pieces":       placeholderPieces(size, pieceLength),
			"length":       size,
		},
	}
}

// MultiFile encodes and parses a multi-file torrent.
func MultiFile(t testing.TB, name string, pieceLength int64, files ...FileSpec) *metadata.Metadata {
	t.Helper()
	return parse(t, MultiFileDict(name, pieceLength, files...))
}

// SingleFile encodes and parses a single-file torrent.
func SingleFile(t testing.TB, name string, size, pieceLength int64) *metadata.Metadata {
	t.Helper()
	return parse(t, SingleFileDict(name, size, pieceLength))
}

// Fixture parses SingleFileTorrent.
func Fixture(t testing.TB) *metadata.Metadata {
	t.Helper()
	md, err := metadata.Parse([]byte(SingleFileTorrent))
	require.NoError(t, err)
	return md
}

func parse(t testing.TB, dict map[string]any) *metadata.Metadata {
	t.Helper()
	data, err := bencode.Encode(dict)
	require.NoError(t, err)
	md, err := metadata.Parse(data)
	require.NoError(t, err)
	return md
}

func placeholderPieces(total, pieceLength int64) []byte {
	count := (total + pieceLength - 1) / pieceLength
	if count == 0 {
		count = 1
	}
	pieces := make([]byte, 0, count*sha1.Size)
	for i := int64(0); i < count; i++ {
		sum := sha1.Sum([]byte{byte(i), byte(i >> 8)})
		pieces = append(pieces, sum[:]...)
	}
	return pieces
}

// WriteFile creates path and its parents and fills it with size bytes.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// WritePayload materializes every file of md below root the way a client
// would lay it out.
func WritePayload(t testing.TB, md *metadata.Metadata, root string, addNameToFolder bool) {
	t.Helper()
	if !md.IsMultiFile() {
		WriteFile(t, filepath.Join(root, md.Name()), md.Files()[0].Length)
		return
	}
	base := root
	if addNameToFolder {
		base = filepath.Join(root, md.Name())
	}
	for _, f := range md.Files() {
		WriteFile(t, filepath.Join(append([]string{base}, f.Path...)...), f.Length)
	}
}
