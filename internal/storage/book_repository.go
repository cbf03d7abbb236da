package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	apierrors "github.com/maruel/mdbooks/internal/errors"
	"github.com/maruel/mdbooks/internal/models"
	"github.com/maruel/mdbooks/internal/storage/git"
)

const (
	bookFile    = "book.json"
	chaptersDir = "chapters"
	assetsDir   = "assets"
)

// commitTimeFormat is the timestamp layout used in commit messages.
const commitTimeFormat = "2006-01-02 15:04:05"

// BookOptions configures a BookRepository.
type BookOptions struct {
	// Reconcile is the reconciliation mode applied on every load. Defaults to
	// ReconcileAlways.
	Reconcile ReconcileMode
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// BookRepository owns the book collection and is the only writer of
// book.json.
//
// Every book lives in its own directory below the books root:
//
//	<root>/<bookID>/book.json
//	<root>/<bookID>/chapters/NN-<chapterID>.md
//	<root>/<bookID>/assets/
type BookRepository struct {
	store *FileStore
	vcs   git.Backend
	root  string
	mode  ReconcileMode
	now   func() time.Time
	locks *bookLocks
}

// NewBookRepository returns a BookRepository storing books in booksDir, a path
// relative to the store root or absolute. vcs records a commit after every
// mutation.
func NewBookRepository(store *FileStore, vcs git.Backend, booksDir string, opts *BookOptions) (*BookRepository, error) {
	if opts == nil {
		opts = &BookOptions{}
	}
	if err := opts.Reconcile.Validate(); err != nil {
		return nil, err
	}
	r := &BookRepository{
		store: store,
		vcs:   vcs,
		root:  store.abs(booksDir),
		mode:  opts.Reconcile,
		now:   opts.Now,
		locks: &bookLocks{},
	}
	if r.mode == "" {
		r.mode = ReconcileAlways
	}
	if r.now == nil {
		r.now = time.Now
	}
	if err := store.Mkdir(r.root); err != nil {
		return nil, fmt.Errorf("failed to create books directory: %w", err)
	}
	return r, nil
}

// Root returns the books root directory.
func (r *BookRepository) Root() string {
	return r.root
}

// Dir returns the directory of the book with the given id.
func (r *BookRepository) Dir(bookID string) string {
	return filepath.Join(r.root, bookID)
}

func (r *BookRepository) chaptersDir(bookID string) string {
	return filepath.Join(r.root, bookID, chaptersDir)
}

func (r *BookRepository) chapterPath(bookID, fileName string) string {
	return filepath.Join(r.root, bookID, chaptersDir, fileName)
}

func (r *BookRepository) timestamp() models.Time {
	return models.ToTime(r.now().Truncate(time.Millisecond))
}

// ListAll returns every book, sorted by title then id.
//
// Directories without a readable book.json are skipped.
func (r *BookRepository) ListAll(ctx context.Context) ([]*models.Book, error) {
	dirs, err := r.store.ListDirs(r.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	books := make([]*models.Book, 0, len(dirs))
	for _, dir := range dirs {
		id := filepath.Base(dir)
		if !r.store.Exists(filepath.Join(dir, bookFile)) {
			continue
		}
		b, err := r.load(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "Skipping unreadable book", "book", id, "err", err)
			continue
		}
		books = append(books, b)
	}
	slices.SortFunc(books, func(a, b *models.Book) int {
		if c := strings.Compare(a.Title, b.Title); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return books, nil
}

// ListForUser returns the books userID may read: the public ones and the
// private ones listing userID in AllowedUsers.
func (r *BookRepository) ListForUser(ctx context.Context, userID string) ([]*models.Book, error) {
	all, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(b *models.Book) bool { return !b.CanRead(userID) }), nil
}

// GetByID returns the book with its reconciled chapter list.
//
// A missing directory, a missing book.json and an undecodable book.json are
// all reported as NotFound.
func (r *BookRepository) GetByID(ctx context.Context, bookID string) (*models.Book, error) {
	if !validID(bookID) {
		return nil, apierrors.NotFound("book")
	}
	return r.load(ctx, bookID)
}

// Create stores a new book. The id, timestamps and repository path are
// assigned; the other fields come from book.
func (r *BookRepository) Create(ctx context.Context, book *models.Book) (*models.Book, error) {
	if strings.TrimSpace(book.Title) == "" {
		return nil, apierrors.MissingField("title")
	}
	now := r.timestamp()
	b := *book
	// Books with the same title created in the same second get a suffix.
	base := NewBookID(b.Title, now.Time)
	exists := func(id string) bool { return r.store.ExistsDir(r.Dir(id)) }
	var unlock func()
	for {
		b.ID = uniqueID(base, exists)
		unlock = r.locks.lock(b.ID)
		if !exists(b.ID) {
			break
		}
		unlock()
	}
	defer unlock()

	dir := r.Dir(b.ID)
	b.GitRepositoryPath = dir
	b.CreatedAt = now
	b.UpdatedAt = now
	if b.CoverColor == "" {
		b.CoverColor = models.DefaultCoverColor
	}
	b.Chapters = slices.Clone(b.Chapters)
	for i := range b.Chapters {
		b.Chapters[i].BookID = b.ID
	}
	b.SortChapters()
	for _, d := range []string{dir, filepath.Join(dir, chaptersDir), filepath.Join(dir, assetsDir)} {
		if err := r.store.Mkdir(d); err != nil {
			return nil, apierrors.StorageWithError("failed to create book directory", err)
		}
	}
	if err := r.vcs.Init(ctx, dir); err != nil {
		slog.ErrorContext(ctx, "Failed to initialize book repository", "book", b.ID, "err", err)
	}
	if err := r.save(&b); err != nil {
		return nil, err
	}
	r.commit(ctx, b.ID, "Initial book creation")
	return &b, nil
}

// Update replaces the metadata of an existing book with book.
//
// CreatedAt and GitRepositoryPath are kept from the stored book when book
// leaves them empty. A nil Chapters keeps the stored chapter list.
func (r *BookRepository) Update(ctx context.Context, book *models.Book) (*models.Book, error) {
	if !validID(book.ID) {
		return nil, apierrors.NotFound("book")
	}
	defer r.locks.lock(book.ID)()
	cur, err := r.readMeta(ctx, book.ID)
	if err != nil {
		return nil, err
	}
	b := *book
	if b.CreatedAt.IsZero() {
		b.CreatedAt = cur.CreatedAt
	}
	if b.GitRepositoryPath == "" {
		b.GitRepositoryPath = cur.GitRepositoryPath
	}
	if b.Chapters == nil {
		b.Chapters = cur.Chapters
	} else {
		b.Chapters = slices.Clone(b.Chapters)
	}
	b.SortChapters()
	now := r.timestamp()
	b.UpdatedAt = now
	if err := r.save(&b); err != nil {
		return nil, err
	}
	r.commit(ctx, b.ID, "Updated book metadata - "+now.Format(commitTimeFormat))
	return &b, nil
}

// Delete removes the book directory and everything in it. It returns false
// if the book didn't exist. No commit is recorded since the repository is
// removed along with the book.
func (r *BookRepository) Delete(ctx context.Context, bookID string) (bool, error) {
	if !validID(bookID) {
		return false, nil
	}
	defer r.locks.lock(bookID)()
	dir := r.Dir(bookID)
	if !r.store.ExistsDir(dir) {
		return false, nil
	}
	if err := r.store.DeleteDir(dir, true); err != nil {
		return false, apierrors.StorageWithError("failed to delete book", err)
	}
	if f, ok := r.vcs.(interface{ Forget(dir string) }); ok {
		f.Forget(dir)
	}
	slog.InfoContext(ctx, "Deleted book", "book", bookID)
	return true, nil
}

// UserHasAccess reports whether userID may read the book. An unknown book
// yields false.
func (r *BookRepository) UserHasAccess(ctx context.Context, userID, bookID string) bool {
	b, err := r.GetByID(ctx, bookID)
	if err != nil {
		return false
	}
	return b.CanRead(userID)
}

// History returns up to n commits of the book, newest first.
func (r *BookRepository) History(ctx context.Context, bookID string, n int) ([]*git.Commit, error) {
	if err := r.mustExist(bookID); err != nil {
		return nil, err
	}
	commits, err := r.vcs.History(ctx, r.Dir(bookID), n)
	if err != nil {
		return nil, apierrors.InternalWithError("failed to read history", err)
	}
	if commits == nil {
		commits = []*git.Commit{}
	}
	return commits, nil
}

// Status returns the uncommitted changes of the book.
func (r *BookRepository) Status(ctx context.Context, bookID string) (*git.Status, error) {
	if err := r.mustExist(bookID); err != nil {
		return nil, err
	}
	st, err := r.vcs.Status(ctx, r.Dir(bookID))
	if err != nil {
		return nil, apierrors.InternalWithError("failed to read status", err)
	}
	return st, nil
}

// Sync persists the reconciled chapter list of the book when it differs from
// book.json and records a commit. It reports whether book.json changed.
func (r *BookRepository) Sync(ctx context.Context, bookID string) (bool, error) {
	if !validID(bookID) {
		return false, apierrors.NotFound("book")
	}
	defer r.locks.lock(bookID)()
	b, err := r.readMeta(ctx, bookID)
	if err != nil {
		return false, err
	}
	stored := b.Chapters
	files, err := r.chapterFiles(bookID)
	if err != nil {
		return false, err
	}
	b.Chapters = reconcile(bookID, stored, files, r.mode, r.timestamp())
	if sameChapters(stored, b.Chapters) {
		return false, nil
	}
	b.UpdatedAt = r.timestamp()
	if err := r.save(b); err != nil {
		return false, err
	}
	slog.InfoContext(ctx, "Synchronized chapters", "book", bookID, "before", len(stored), "after", len(b.Chapters))
	r.commit(ctx, bookID, "Synchronized chapters with filesystem")
	return true, nil
}

// SyncAll runs Sync on every book and returns the ids of the books that
// changed. Errors of individual books are joined.
func (r *BookRepository) SyncAll(ctx context.Context) ([]string, error) {
	dirs, err := r.store.ListDirs(r.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	var changed []string
	var errs []error
	for _, dir := range dirs {
		id := filepath.Base(dir)
		if !r.store.Exists(filepath.Join(dir, bookFile)) {
			continue
		}
		ok, err := r.Sync(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		if ok {
			changed = append(changed, id)
		}
	}
	return changed, errors.Join(errs...)
}

func (r *BookRepository) mustExist(bookID string) error {
	if !validID(bookID) || !r.store.Exists(filepath.Join(r.Dir(bookID), bookFile)) {
		return apierrors.NotFound("book")
	}
	return nil
}

// load reads book.json and reconciles its chapter list with the files. The
// caller may or may not hold the book lock.
func (r *BookRepository) load(ctx context.Context, bookID string) (*models.Book, error) {
	b, err := r.readMeta(ctx, bookID)
	if err != nil {
		return nil, err
	}
	files, err := r.chapterFiles(bookID)
	if err != nil {
		return nil, err
	}
	b.Chapters = reconcile(bookID, b.Chapters, files, r.mode, r.timestamp())
	return b, nil
}

// readMeta decodes book.json as stored, without reconciliation.
func (r *BookRepository) readMeta(ctx context.Context, bookID string) (*models.Book, error) {
	data, err := r.store.ReadText(filepath.Join(r.Dir(bookID), bookFile))
	if err != nil {
		return nil, apierrors.NotFound("book")
	}
	b := &models.Book{}
	if err := json.Unmarshal([]byte(data), b); err != nil {
		slog.WarnContext(ctx, "Failed to decode book metadata", "book", bookID, "err", err)
		return nil, apierrors.NotFound("book")
	}
	b.ID = bookID
	return b, nil
}

// chapterFiles returns the base names of the .md files in the chapters
// directory, sorted.
func (r *BookRepository) chapterFiles(bookID string) ([]string, error) {
	paths, err := r.store.ListFiles(r.chaptersDir(bookID), "*.md")
	if err != nil {
		return nil, apierrors.StorageWithError("failed to list chapters", err)
	}
	for i, p := range paths {
		paths[i] = filepath.Base(p)
	}
	return paths, nil
}

// save writes book.json. Chapter content is never persisted in it. The
// caller holds the book lock.
func (r *BookRepository) save(b *models.Book) error {
	out := *b
	if out.AllowedUsers == nil {
		out.AllowedUsers = []string{}
	}
	if out.Settings.AllowedCodeLanguages == nil {
		out.Settings.AllowedCodeLanguages = []string{}
	}
	out.Chapters = make([]models.Chapter, len(b.Chapters))
	for i := range b.Chapters {
		out.Chapters[i] = b.Chapters[i].Stripped()
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return apierrors.InternalWithError("failed to encode book", err)
	}
	if err := r.store.WriteText(filepath.Join(r.Dir(b.ID), bookFile), string(data)+"\n"); err != nil {
		return apierrors.StorageWithError("failed to write book metadata", err)
	}
	return nil
}

// commit records every change of the book. Failures are logged and
// swallowed: the history is an audit trail, not a transaction log.
func (r *BookRepository) commit(ctx context.Context, bookID, message string) {
	if err := r.vcs.CommitAll(ctx, r.Dir(bookID), message); err != nil {
		slog.ErrorContext(ctx, "Failed to commit", "book", bookID, "message", message, "err", err)
	}
}
