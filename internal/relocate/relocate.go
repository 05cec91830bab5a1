// Package relocate moves a torrent's files from one root to another by
// renaming them, then prunes the source directories left empty.
//
// A multi-file move is not atomic. If it is interrupted some files may sit
// under the destination and the rest under the source.
package relocate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrDestinationExists is returned before anything is moved when a
	// declared file already exists under the destination root.
	ErrDestinationExists = errors.New("destination file already exists")
	// ErrOverlappingPaths is returned when two declared files resolve to the
	// same path or one lies inside the other.
	ErrOverlappingPaths = errors.New("declared files overlap")
	// ErrNotRegularFile is returned for declared files that are directories,
	// symlinks or other special files.
	ErrNotRegularFile = errors.New("declared file is not a regular file")
)

// PathEscapeError reports a declared file whose path resolves outside Root.
type PathEscapeError struct {
	Path string
	Root string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path %q escapes %q", e.Path, e.Root)
}

type plannedFile struct {
	rel, src, dst string
}

// Move renames every file in files, relative to sourceRoot, to the same
// relative location under destinationRoot. Directories it creates take their
// permission bits and owner from the matching source directory. Once all
// files are moved, source directories that became empty are removed deepest
// first. sourceRoot itself is kept when preserveParentFolder is set and
// removed if empty otherwise. Nothing outside files is touched.
func Move(sourceRoot, destinationRoot string, files []string, preserveParentFolder bool) error {
	sourceRoot = filepath.Clean(sourceRoot)
	destinationRoot = filepath.Clean(destinationRoot)

	info, err := os.Stat(sourceRoot)
	if err != nil {
		return fmt.Errorf("stat source root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source root %s is not a directory", sourceRoot)
	}

	plan, err := planFiles(sourceRoot, destinationRoot, files)
	if err != nil {
		return err
	}

	template := templateFor(sourceRoot, destinationRoot)
	if err := makeDirs(destinationRoot, sourceRoot, template); err != nil {
		return err
	}

	for _, f := range plan {
		if err := makeDirs(filepath.Dir(f.dst), sourceRoot, template); err != nil {
			return err
		}
		if err := os.Rename(f.src, f.dst); err != nil {
			return fmt.Errorf("rename %s: %w", f.rel, err)
		}
	}

	pruneEmpty(sourceRoot, plan, preserveParentFolder)
	return nil
}

func planFiles(sourceRoot, destinationRoot string, files []string) ([]plannedFile, error) {
	plan := make([]plannedFile, 0, len(files))
	declared := make(map[string]struct{}, len(files))
	for _, rel := range files {
		if filepath.IsAbs(rel) || hasDotDot(rel) {
			return nil, &PathEscapeError{Path: rel, Root: destinationRoot}
		}
		rel = filepath.Clean(rel)
		if rel == "." {
			return nil, &PathEscapeError{Path: rel, Root: destinationRoot}
		}
		f := plannedFile{
			rel: rel,
			src: filepath.Join(sourceRoot, rel),
			dst: filepath.Join(destinationRoot, rel),
		}
		if !within(destinationRoot, f.dst) {
			return nil, &PathEscapeError{Path: rel, Root: destinationRoot}
		}
		if !within(sourceRoot, f.src) {
			return nil, &PathEscapeError{Path: rel, Root: sourceRoot}
		}

		if _, dup := declared[rel]; dup {
			return nil, fmt.Errorf("%w: %s declared twice", ErrOverlappingPaths, rel)
		}
		declared[rel] = struct{}{}

		info, err := os.Lstat(f.src)
		if err != nil {
			return nil, fmt.Errorf("stat source file: %w", err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, rel)
		}
		if _, err := os.Lstat(f.dst); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrDestinationExists, f.dst)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat destination file: %w", err)
		}
		plan = append(plan, f)
	}

	for _, f := range plan {
		for d := filepath.Dir(f.rel); d != "."; d = filepath.Dir(d) {
			if _, ok := declared[d]; ok {
				return nil, fmt.Errorf("%w: %s lies inside %s", ErrOverlappingPaths, f.rel, d)
			}
		}
	}
	return plan, nil
}

func hasDotDot(rel string) bool {
	for _, part := range strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == filepath.Separator }) {
		if part == ".." {
			return true
		}
	}
	return false
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// templateFor maps a directory about to be created to the source directory
// whose metadata it copies: the same relative path for directories at or below
// destinationRoot, and the ancestor of sourceRoot at the same height for
// parents of destinationRoot.
func templateFor(sourceRoot, destinationRoot string) func(string) string {
	return func(d string) string {
		if d == destinationRoot || within(destinationRoot, d) {
			rel, _ := filepath.Rel(destinationRoot, d)
			return filepath.Join(sourceRoot, rel)
		}
		src, dst := sourceRoot, destinationRoot
		for dst != d && dst != filepath.Dir(dst) {
			src, dst = filepath.Dir(src), filepath.Dir(dst)
		}
		return src
	}
}

// makeDirs creates dir and any missing parents, copying permission bits and
// owner from template(d), or from fallback when the template is not a
// directory.
func makeDirs(dir, fallback string, template func(string) string) error {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		info, err := os.Stat(d)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("%s exists and is not a directory", d)
			}
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", d, err)
		}
		missing = append(missing, d)
		if d == filepath.Dir(d) {
			break
		}
	}

	for i := len(missing) - 1; i >= 0; i-- {
		d := missing[i]
		info, err := os.Stat(template(d))
		if err != nil || !info.IsDir() {
			if info, err = os.Stat(fallback); err != nil {
				return fmt.Errorf("stat %s: %w", fallback, err)
			}
		}
		if err := os.Mkdir(d, info.Mode().Perm()); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
		// Mkdir is subject to the umask.
		if err := os.Chmod(d, info.Mode().Perm()); err != nil {
			return fmt.Errorf("chmod %s: %w", d, err)
		}
		copyOwner(d, info)
	}
	return nil
}

func pruneEmpty(sourceRoot string, plan []plannedFile, preserveParentFolder bool) {
	seen := map[string]struct{}{}
	var dirs []string
	for _, f := range plan {
		for d := filepath.Dir(f.src); d != sourceRoot && within(sourceRoot, d); d = filepath.Dir(d) {
			if _, ok := seen[d]; ok {
				break
			}
			seen[d] = struct{}{}
			dirs = append(dirs, d)
		}
	}
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(filepath.Separator)) > strings.Count(dirs[j], string(filepath.Separator))
	})

	// os.Remove refuses non-empty directories, which is the emptiness check.
	for _, d := range dirs {
		_ = os.Remove(d)
	}
	if !preserveParentFolder {
		_ = os.Remove(sourceRoot)
	}
}
