package storage

import (
	"path/filepath"
	"slices"
	"testing"

	"github.com/spf13/afero"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(afero.NewMemMapFs(), "/data")
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}
	return s
}

func TestFileStore(t *testing.T) {
	t.Parallel()

	t.Run("ReadWrite", func(t *testing.T) {
		t.Parallel()
		s := newTestFileStore(t)
		if err := s.WriteText("Books/b1/chapters/01-intro.md", "# Intro\n"); err != nil {
			t.Fatalf("WriteText() failed: %v", err)
		}
		got, err := s.ReadText("/data/Books/b1/chapters/01-intro.md")
		if err != nil {
			t.Fatalf("ReadText() failed: %v", err)
		}
		if got != "# Intro\n" {
			t.Errorf("ReadText() = %q", got)
		}
		if !s.Exists("Books/b1/chapters/01-intro.md") {
			t.Error("Exists() = false")
		}
		if s.Exists("Books/b1/chapters") {
			t.Error("Exists(dir) = true")
		}
		if !s.ExistsDir("Books/b1/chapters") {
			t.Error("ExistsDir() = false")
		}
		if _, err := s.ReadText("Books/b1/missing.md"); err == nil {
			t.Error("ReadText(missing) should fail")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		t.Parallel()
		s := newTestFileStore(t)
		if err := s.WriteText("a/b.md", "x"); err != nil {
			t.Fatalf("WriteText() failed: %v", err)
		}
		if err := s.DeleteFile("a/b.md"); err != nil {
			t.Fatalf("DeleteFile() failed: %v", err)
		}
		if err := s.DeleteFile("a/b.md"); err != nil {
			t.Errorf("DeleteFile(missing) failed: %v", err)
		}
		if err := s.WriteText("a/c/d.md", "x"); err != nil {
			t.Fatalf("WriteText() failed: %v", err)
		}
		if err := s.DeleteDir("a", false); err == nil {
			t.Error("DeleteDir(non-empty, false) should fail")
		}
		if err := s.DeleteDir("a", true); err != nil {
			t.Fatalf("DeleteDir() failed: %v", err)
		}
		if s.ExistsDir("a") {
			t.Error("directory still exists")
		}
		for _, p := range []string{"", ".", "/data", "..", "/etc"} {
			if err := s.DeleteDir(p, true); err == nil {
				t.Errorf("DeleteDir(%q) should be refused", p)
			}
		}
	})

	t.Run("List", func(t *testing.T) {
		t.Parallel()
		s := newTestFileStore(t)
		for _, p := range []string{"c/02-b.md", "c/01-a.md", "c/notes.txt", "c/sub/03-c.md"} {
			if err := s.WriteText(p, "x"); err != nil {
				t.Fatalf("WriteText() failed: %v", err)
			}
		}
		files, err := s.ListFiles("c", "*.md")
		if err != nil {
			t.Fatalf("ListFiles() failed: %v", err)
		}
		want := []string{filepath.Join("/data", "c", "01-a.md"), filepath.Join("/data", "c", "02-b.md")}
		if !slices.Equal(files, want) {
			t.Errorf("ListFiles() = %q, want %q", files, want)
		}
		dirs, err := s.ListDirs("c")
		if err != nil {
			t.Fatalf("ListDirs() failed: %v", err)
		}
		if !slices.Equal(dirs, []string{filepath.Join("/data", "c", "sub")}) {
			t.Errorf("ListDirs() = %q", dirs)
		}
		if files, err := s.ListFiles("nope", "*.md"); err != nil || len(files) != 0 {
			t.Errorf("ListFiles(missing) = %q, %v", files, err)
		}
		if _, err := s.ListFiles("c", "["); err == nil {
			t.Error("ListFiles(bad pattern) should fail")
		}
	})
	t.Run("Overwrite", func(t *testing.T) {
		t.Parallel()
		ffs := &failFs{Fs: afero.NewMemMapFs()}
		s, err := NewFileStore(ffs, "/data")
		if err != nil {
			t.Fatalf("NewFileStore() failed: %v", err)
		}
		for _, content := range []string{"old", "new"} {
			if err := s.WriteText("b/book.json", content); err != nil {
				t.Fatalf("WriteText() failed: %v", err)
			}
		}
		ffs.arm("book.json")
		if err := s.WriteText("b/book.json", "broken"); err == nil {
			t.Fatal("WriteText() should fail")
		}
		if got, _ := s.ReadText("b/book.json"); got != "new" {
			t.Errorf("ReadText() = %q, want %q", got, "new")
		}
		files, err := s.ListFiles("b", "*")
		if err != nil {
			t.Fatalf("ListFiles() failed: %v", err)
		}
		if want := []string{filepath.Join("/data", "b", "book.json")}; !slices.Equal(files, want) {
			t.Errorf("ListFiles() = %q, want %q", files, want)
		}
		fi, err := ffs.Stat("/data/b/book.json")
		if err != nil {
			t.Fatal(err)
		}
		if fi.Mode().Perm() != 0o644 {
			t.Errorf("mode = %v", fi.Mode())
		}
	})
}
