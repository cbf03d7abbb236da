package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

// FileStore handles all file system operations below a root directory.
//
// Paths passed to its methods are either absolute or relative to the root.
// Production uses afero.NewOsFs(); tests use afero.NewMemMapFs().
type FileStore struct {
	fs   afero.Fs
	root string
}

// NewFileStore returns a FileStore rooted at root, creating it if needed.
func NewFileStore(fsys afero.Fs, root string) (*FileStore, error) {
	root = filepath.Clean(root)
	if err := fsys.MkdirAll(root, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileStore{fs: fsys, root: root}, nil
}

// Root returns the root directory path.
func (s *FileStore) Root() string {
	return s.root
}

// Fs returns the underlying file system.
func (s *FileStore) Fs() afero.Fs {
	return s.fs
}

func (s *FileStore) abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.root, path)
}

// contains reports whether path is strictly below the root.
func (s *FileStore) contains(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ReadText returns the content of the file at path.
func (s *FileStore) ReadText(path string) (string, error) {
	b, err := afero.ReadFile(s.fs, s.abs(path))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteText writes content to path, creating parent directories as needed.
//
// The content is written to a temporary file next to path that is then
// renamed over it, so readers see either the old or the new content.
func (s *FileStore) WriteText(path, content string) error {
	p := s.abs(path)
	dir := filepath.Dir(p)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := afero.TempFile(s.fs, dir, "."+filepath.Base(p)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(p), err)
	}
	tmp := f.Name()
	_, err = f.WriteString(content)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err == nil {
		err = s.fs.Chmod(tmp, 0o644) //nolint:gosec // G302: 0o644 is intentional
	}
	if err == nil {
		err = s.fs.Rename(tmp, p)
	}
	if err != nil {
		return errors.Join(fmt.Errorf("failed to write %s: %w", filepath.Base(p), err), s.fs.Remove(tmp))
	}
	return nil
}

// Exists reports whether a regular file exists at path.
func (s *FileStore) Exists(path string) bool {
	fi, err := s.fs.Stat(s.abs(path))
	return err == nil && !fi.IsDir()
}

// ExistsDir reports whether a directory exists at path.
func (s *FileStore) ExistsDir(path string) bool {
	ok, err := afero.DirExists(s.fs, s.abs(path))
	return err == nil && ok
}

// Mkdir creates the directory at path and its parents.
func (s *FileStore) Mkdir(path string) error {
	return s.fs.MkdirAll(s.abs(path), 0o755) //nolint:gosec // G301: 0o755 is intentional for data directories
}

// DeleteFile removes the file at path. A missing file is not an error.
func (s *FileStore) DeleteFile(path string) error {
	if err := s.fs.Remove(s.abs(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// DeleteDir removes the directory at path. Without recursive the directory
// must be empty. Paths that are not strictly below the root are refused.
func (s *FileStore) DeleteDir(path string, recursive bool) error {
	p := s.abs(path)
	if !s.contains(p) {
		return fmt.Errorf("refusing to delete %q: not below %q", p, s.root)
	}
	if !recursive {
		if empty, err := afero.IsEmpty(s.fs, p); err != nil {
			return err
		} else if !empty {
			return fmt.Errorf("directory %q is not empty", p)
		}
		return s.fs.Remove(p)
	}
	return s.fs.RemoveAll(p)
}

// ListFiles returns the sorted paths of the regular files directly in dir
// whose base name matches pattern. A missing dir yields no files.
func (s *FileStore) ListFiles(dir, pattern string) ([]string, error) {
	entries, err := s.readDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := filepath.Match(pattern, e.Name())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, filepath.Join(s.abs(dir), e.Name()))
		}
	}
	slices.Sort(out)
	return out, nil
}

// ListDirs returns the sorted paths of the directories directly in dir.
func (s *FileStore) ListDirs(dir string) ([]string, error) {
	entries, err := s.readDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, filepath.Join(s.abs(dir), e.Name()))
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *FileStore) readDir(dir string) ([]os.FileInfo, error) {
	entries, err := afero.ReadDir(s.fs, s.abs(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}
