package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/maruel/mdbooks/internal/storage/git"
)

// fakeVCS records the calls made by the repositories.
type fakeVCS struct {
	mu      sync.Mutex
	inits   []string
	commits map[string][]string
	forgot  []string
	fail    bool
}

func (f *fakeVCS) Init(_ context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits = append(f.inits, dir)
	return nil
}

func (f *fakeVCS) CommitAll(_ context.Context, dir, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("commit failed")
	}
	if f.commits == nil {
		f.commits = map[string][]string{}
	}
	f.commits[dir] = append(f.commits[dir], message)
	return nil
}

func (f *fakeVCS) History(_ context.Context, dir string, _ int) ([]*git.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*git.Commit
	msgs := f.commits[dir]
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, &git.Commit{Message: msgs[i]})
	}
	return out, nil
}

func (f *fakeVCS) Status(context.Context, string) (*git.Status, error) {
	return &git.Status{ModifiedFiles: []string{}, AddedFiles: []string{}, DeletedFiles: []string{}}, nil
}

func (f *fakeVCS) Forget(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgot = append(f.forgot, dir)
}

func (f *fakeVCS) messages(dir string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commits[dir]...)
}

// failFs fails writes to one base name, or removal of another, once armed.
type failFs struct {
	afero.Fs
	mu         sync.Mutex
	fail       string
	failRemove string
}

func (f *failFs) arm(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = name
}

func (f *failFs) armRemove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRemove = name
}

// OpenFile also fails the temporary files FileStore.WriteText creates for
// the armed name.
func (f *failFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	base := filepath.Base(name)
	if fail != "" && flag&os.O_CREATE != 0 && (base == fail || strings.HasPrefix(base, "."+fail+".")) {
		return nil, &os.PathError{Op: "open", Path: name, Err: errors.New("injected failure")}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func (f *failFs) Remove(name string) error {
	f.mu.Lock()
	fail := f.failRemove
	f.mu.Unlock()
	if fail != "" && filepath.Base(name) == fail {
		return &os.PathError{Op: "remove", Path: name, Err: errors.New("injected failure")}
	}
	return f.Fs.Remove(name)
}

type testEnv struct {
	fs       afero.Fs
	store    *FileStore
	vcs      *fakeVCS
	books    *BookRepository
	chapters *ChapterRepository
}

var testNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func newTestEnv(t *testing.T, mode ReconcileMode) *testEnv {
	t.Helper()
	return newTestEnvFs(t, afero.NewMemMapFs(), mode)
}

func newTestEnvFs(t *testing.T, fsys afero.Fs, mode ReconcileMode) *testEnv {
	t.Helper()
	store, err := NewFileStore(fsys, "/data")
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}
	vcs := &fakeVCS{}
	books, err := NewBookRepository(store, vcs, "Books", &BookOptions{
		Reconcile: mode,
		Now:       func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewBookRepository() failed: %v", err)
	}
	return &testEnv{fs: fsys, store: store, vcs: vcs, books: books, chapters: NewChapterRepository(books)}
}

// writeBook writes a raw book.json and optional chapter files.
func (e *testEnv) writeBook(t *testing.T, id, bookJSON string, files map[string]string) {
	t.Helper()
	dir := e.books.Dir(id)
	if err := e.store.WriteText(filepath.Join(dir, "book.json"), bookJSON); err != nil {
		t.Fatalf("WriteText() failed: %v", err)
	}
	if err := e.store.Mkdir(filepath.Join(dir, "chapters")); err != nil {
		t.Fatalf("Mkdir() failed: %v", err)
	}
	for name, content := range files {
		if err := e.store.WriteText(filepath.Join(dir, "chapters", name), content); err != nil {
			t.Fatalf("WriteText() failed: %v", err)
		}
	}
}

func (e *testEnv) chapterFile(id, name string) string {
	return filepath.Join(e.books.Dir(id), "chapters", name)
}
