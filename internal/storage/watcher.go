package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDelay is how long the Watcher waits after the last change of a
// book before synchronizing it.
const DefaultWatchDelay = 500 * time.Millisecond

// Watcher synchronizes books when their chapter files are edited by external
// tools.
//
// It watches the books root, every book directory and every chapters
// directory. Creating, removing or renaming a .md file schedules a Sync of
// the book once no other change happened for the delay.
//
// It only works when the BookRepository uses the OS file system.
type Watcher struct {
	books *BookRepository
	delay time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher returns a Watcher for books. A delay <= 0 means
// DefaultWatchDelay.
func NewWatcher(books *BookRepository, delay time.Duration) *Watcher {
	if delay <= 0 {
		delay = DefaultWatchDelay
	}
	return &Watcher{books: books, delay: delay, timers: map[string]*time.Timer{}}
}

// Start adds the watches and processes events in the background until ctx is
// canceled.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	root := w.books.Root()
	if err := fw.Add(root); err != nil {
		_ = fw.Close()
		return err
	}
	dirs, err := w.books.store.ListDirs(root)
	if err != nil {
		_ = fw.Close()
		return err
	}
	for _, d := range dirs {
		w.addBook(ctx, fw, d)
	}
	go func() {
		defer func() { _ = fw.Close() }()
		defer w.stopTimers()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				w.handle(ctx, fw, event)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching books", "err", err)
			}
		}
	}()
	slog.InfoContext(ctx, "Watching books", "root", root, "books", len(dirs))
	return nil
}

// addBook watches a book directory and its chapters directory.
func (w *Watcher) addBook(ctx context.Context, fw *fsnotify.Watcher, dir string) {
	for _, d := range []string{dir, filepath.Join(dir, chaptersDir)} {
		if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
			continue
		}
		if err := fw.Add(d); err != nil {
			slog.WarnContext(ctx, "Failed to watch directory", "dir", d, "err", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	rel, err := filepath.Rel(w.books.Root(), event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	parts := strings.Split(rel, string(filepath.Separator))
	switch {
	case len(parts) == 1 && event.Has(fsnotify.Create):
		// New book directory.
		w.addBook(ctx, fw, event.Name)
		w.schedule(ctx, parts[0])
	case len(parts) == 2 && parts[1] == chaptersDir && event.Has(fsnotify.Create):
		w.addBook(ctx, fw, filepath.Dir(event.Name))
		w.schedule(ctx, parts[0])
	case len(parts) == 3 && parts[1] == chaptersDir && filepath.Ext(parts[2]) == ".md":
		if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			w.schedule(ctx, parts[0])
		}
	}
}

// schedule runs Sync on bookID once no change happened for the delay.
func (w *Watcher) schedule(ctx context.Context, bookID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[bookID]; ok {
		t.Reset(w.delay)
		return
	}
	w.timers[bookID] = time.AfterFunc(w.delay, func() {
		w.mu.Lock()
		delete(w.timers, bookID)
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if !w.books.store.Exists(filepath.Join(w.books.Dir(bookID), bookFile)) {
			return
		}
		changed, err := w.books.Sync(ctx, bookID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to synchronize book", "book", bookID, "err", err)
			return
		}
		if changed {
			slog.InfoContext(ctx, "Synchronized book after external change", "book", bookID)
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
}
