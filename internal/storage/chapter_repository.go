package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"

	apierrors "github.com/maruel/mdbooks/internal/errors"
	"github.com/maruel/mdbooks/internal/markdown"
	"github.com/maruel/mdbooks/internal/models"
)

// chapterOp is the change applied to a book's chapter list by syncMetadata.
type chapterOp int

const (
	opAdd chapterOp = iota
	opUpdate
	opDelete
)

func (o chapterOp) String() string {
	switch o {
	case opAdd:
		return "add"
	case opUpdate:
		return "update"
	case opDelete:
		return "delete"
	default:
		return fmt.Sprintf("chapterOp(%d)", int(o))
	}
}

// ChapterRepository owns the chapter files of the books of a BookRepository.
//
// It writes the .md files itself and goes through the BookRepository for
// book.json. Mutations hold the same per-book lock as the BookRepository.
type ChapterRepository struct {
	books *BookRepository
}

// NewChapterRepository returns a ChapterRepository for the books of books.
func NewChapterRepository(books *BookRepository) *ChapterRepository {
	return &ChapterRepository{books: books}
}

// List returns the chapters of the book in order, with their content.
//
// Entries without a file name, or whose file name points outside the
// chapters directory, are skipped. An entry whose file is missing is returned
// with empty content.
func (r *ChapterRepository) List(ctx context.Context, bookID string) ([]*models.Chapter, error) {
	b, err := r.books.GetByID(ctx, bookID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Chapter, 0, len(b.Chapters))
	for i := range b.Chapters {
		c := b.Chapters[i]
		if c.FileName == "" {
			continue
		}
		if !validFileName(c.FileName) {
			slog.WarnContext(ctx, "Skipping chapter with invalid file name", "book", bookID, "chapter", c.ID, "file", c.FileName)
			continue
		}
		p := r.books.chapterPath(bookID, c.FileName)
		if r.books.store.Exists(p) {
			if c.Content, err = r.books.store.ReadText(p); err != nil {
				slog.WarnContext(ctx, "Failed to read chapter file", "book", bookID, "chapter", c.ID, "err", err)
			}
		} else {
			slog.WarnContext(ctx, "Chapter file missing", "book", bookID, "chapter", c.ID, "file", c.FileName)
		}
		fillTitle(&c)
		out = append(out, &c)
	}
	return out, nil
}

// Get returns one chapter with its content.
//
// An unknown book or chapter is NotFound, as is an entry whose file name
// points outside the chapters directory. When the entry exists but its file
// doesn't, the chapter is returned with an error message as its content so
// that the reader can still navigate the book.
func (r *ChapterRepository) Get(ctx context.Context, bookID, chapterID string) (*models.Chapter, error) {
	b, err := r.books.GetByID(ctx, bookID)
	if err != nil {
		return nil, err
	}
	e, ok := b.Chapter(chapterID)
	if !ok {
		return nil, apierrors.NotFound("chapter")
	}
	c := *e
	if c.FileName != "" && !validFileName(c.FileName) {
		return nil, apierrors.NotFound("chapter")
	}
	switch p := r.books.chapterPath(bookID, c.FileName); {
	case c.FileName == "":
		c.Content = fmt.Sprintf("Error: chapter %q has no file name.", c.ID)
	case !r.books.store.Exists(p):
		slog.WarnContext(ctx, "Chapter file missing", "book", bookID, "chapter", c.ID, "file", c.FileName)
		c.Content = fmt.Sprintf("Error: chapter file %q not found.", c.FileName)
	default:
		if c.Content, err = r.books.store.ReadText(p); err != nil {
			c.Content = fmt.Sprintf("Error: failed to read chapter file %q: %v", c.FileName, err)
		}
	}
	fillTitle(&c)
	return &c, nil
}

// GetByOrder returns the first chapter of List with the given order.
func (r *ChapterRepository) GetByOrder(ctx context.Context, bookID string, order int) (*models.Chapter, error) {
	chapters, err := r.List(ctx, bookID)
	if err != nil {
		return nil, err
	}
	for _, c := range chapters {
		if c.Order == order {
			return c, nil
		}
	}
	return nil, apierrors.NotFound("chapter")
}

// Create writes a new chapter file and adds it to the book.
//
// The id is derived from the title and made unique within the book. An
// Order <= 0 puts the chapter after the last one. Empty content is replaced
// by a placeholder. Other chapters are not renumbered, so orders may repeat
// until Reorder is called.
func (r *ChapterRepository) Create(ctx context.Context, ch *models.Chapter) (*models.Chapter, error) {
	if strings.TrimSpace(ch.Title) == "" {
		return nil, apierrors.MissingField("title")
	}
	if !validID(ch.BookID) {
		return nil, apierrors.NotFound("book")
	}
	defer r.books.locks.lock(ch.BookID)()
	b, err := r.books.load(ctx, ch.BookID)
	if err != nil {
		return nil, err
	}

	c := *ch
	c.Title = strings.TrimSpace(c.Title)
	if c.Order <= 0 {
		c.Order = 1
		for _, e := range b.Chapters {
			c.Order = max(c.Order, e.Order+1)
		}
	}
	base := Slugify(c.Title)
	if base == "" {
		base = "chapter"
	}
	c.ID = uniqueID(base, func(id string) bool {
		if _, ok := b.Chapter(id); ok {
			return true
		}
		return r.books.store.Exists(r.books.chapterPath(c.BookID, ChapterFileName(c.Order, id)))
	})
	c.FileName = ChapterFileName(c.Order, c.ID)
	now := r.books.timestamp()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Content == "" {
		c.Content = "# " + c.Title + "\n\nThis chapter is under construction."
	}
	if err := r.books.store.WriteText(r.books.chapterPath(c.BookID, c.FileName), c.Content); err != nil {
		return nil, apierrors.StorageWithError("failed to write chapter", err)
	}
	r.syncMetadata(ctx, c.BookID, &c, opAdd)
	r.books.commit(ctx, c.BookID, "Added new chapter: "+c.Title)
	return &c, nil
}

// Update rewrites the content of an existing chapter file and patches its
// book.json entry.
//
// An empty FileName is taken from the current entry when the order didn't
// change, else derived from Order and ID. Update never creates a file: a
// missing file is PreconditionFailed. A file name that isn't a .md file
// directly in the chapters directory is BadRequest. Use Move to change the
// order of a chapter and rename its file.
func (r *ChapterRepository) Update(ctx context.Context, ch *models.Chapter) (*models.Chapter, error) {
	if !validID(ch.BookID) {
		return nil, apierrors.NotFound("book")
	}
	if ch.ID == "" {
		return nil, apierrors.MissingField("id")
	}
	defer r.books.locks.lock(ch.BookID)()
	b, err := r.books.load(ctx, ch.BookID)
	if err != nil {
		return nil, err
	}

	c := *ch
	cur, exists := b.Chapter(c.ID)
	if exists {
		if c.Order <= 0 {
			c.Order = cur.Order
		}
		if c.Title == "" {
			c.Title = cur.Title
		}
		if c.FileName == "" && c.Order == cur.Order {
			c.FileName = cur.FileName
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = cur.CreatedAt
		}
	}
	if c.FileName == "" {
		c.FileName = ChapterFileName(c.Order, c.ID)
	}
	if !validFileName(c.FileName) {
		return nil, apierrors.BadRequest(fmt.Sprintf("invalid chapter file name %q", c.FileName))
	}
	p := r.books.chapterPath(c.BookID, c.FileName)
	if !r.books.store.Exists(p) {
		return nil, apierrors.PreconditionFailed(fmt.Sprintf("chapter file %q does not exist", c.FileName)).Wrap(fs.ErrNotExist)
	}
	now := r.books.timestamp()
	c.UpdatedAt = now
	if err := r.books.store.WriteText(p, c.Content); err != nil {
		return nil, apierrors.StorageWithError("failed to write chapter", err)
	}
	r.syncMetadata(ctx, c.BookID, &c, opUpdate)
	r.books.commit(ctx, c.BookID, "Updated chapter: "+c.Title+" - "+now.Format(commitTimeFormat))
	return &c, nil
}

// Delete removes the chapter file and its book.json entry. It returns false
// if the book or the chapter doesn't exist. A file name pointing outside the
// chapters directory is left alone and only the entry is removed.
func (r *ChapterRepository) Delete(ctx context.Context, bookID, chapterID string) (bool, error) {
	if !validID(bookID) {
		return false, nil
	}
	defer r.books.locks.lock(bookID)()
	b, err := r.books.load(ctx, bookID)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	c, ok := b.Chapter(chapterID)
	if !ok {
		return false, nil
	}
	switch {
	case c.FileName == "":
	case !validFileName(c.FileName):
		slog.WarnContext(ctx, "Not deleting chapter file with invalid name", "book", bookID, "chapter", c.ID, "file", c.FileName)
	default:
		if err := r.books.store.DeleteFile(r.books.chapterPath(bookID, c.FileName)); err != nil {
			return false, apierrors.StorageWithError("failed to delete chapter", err)
		}
	}
	r.syncMetadata(ctx, bookID, c, opDelete)
	r.books.commit(ctx, bookID, "Deleted chapter: "+c.Title)
	return true, nil
}

// rename is one chapter file move done by Reorder.
type rename struct {
	from, to string
}

// Reorder gives the chapter at position i of chapterIDs the order i+1,
// renaming its file to match. Chapters not listed keep their order.
//
// Files are moved by copy then delete. If a move fails, the moves already done
// are undone in reverse order, book.json is left as is and the error is
// returned. On success a single commit records the whole reorder.
func (r *ChapterRepository) Reorder(ctx context.Context, bookID string, chapterIDs []string) error {
	if !validID(bookID) {
		return apierrors.NotFound("book")
	}
	defer r.books.locks.lock(bookID)()
	b, err := r.books.load(ctx, bookID)
	if err != nil {
		return err
	}
	target := make(map[string]int, len(chapterIDs))
	for i, id := range chapterIDs {
		if _, dup := target[id]; dup {
			return apierrors.BadRequest(fmt.Sprintf("chapter %q listed twice", id))
		}
		if _, ok := b.Chapter(id); !ok {
			return apierrors.NotFound("chapter").WithDetail("id", id)
		}
		target[id] = i + 1
	}

	// Plan every move before touching the disk.
	var moves []rename
	now := r.books.timestamp()
	for i := range b.Chapters {
		c := &b.Chapters[i]
		order, ok := target[c.ID]
		if !ok {
			continue
		}
		name := ChapterFileName(order, c.ID)
		if !validFileName(name) || (c.FileName != "" && !validFileName(c.FileName)) {
			return apierrors.BadRequest(fmt.Sprintf("chapter %q has an invalid file name", c.ID))
		}
		if c.Order == order && (c.FileName == name || c.FileName == "") {
			continue
		}
		if c.FileName != "" && c.FileName != name {
			if r.books.store.Exists(r.books.chapterPath(bookID, name)) {
				return apierrors.Conflict(fmt.Sprintf("chapter file %q already exists", name))
			}
			moves = append(moves, rename{from: c.FileName, to: name})
			c.FileName = name
		}
		c.Order = order
		c.UpdatedAt = now
	}

	var done []rename
	for _, m := range moves {
		if err := r.move(bookID, m); err != nil {
			r.rollback(ctx, bookID, done)
			return apierrors.StorageWithError("failed to rename chapter file", err)
		}
		done = append(done, m)
	}
	b.SortChapters()
	b.UpdatedAt = now
	if err := r.books.save(b); err != nil {
		r.rollback(ctx, bookID, done)
		return err
	}
	slog.InfoContext(ctx, "Reordered chapters", "book", bookID, "renamed", len(done))
	r.books.commit(ctx, bookID, "Reordered chapters")
	return nil
}

// Move gives one chapter a new order and renames its file to match. Other
// chapters keep their order.
//
// A chapter without a file is PreconditionFailed and an existing target file
// is Conflict. If book.json can't be saved the rename is undone.
func (r *ChapterRepository) Move(ctx context.Context, bookID, chapterID string, order int) (*models.Chapter, error) {
	if !validID(bookID) {
		return nil, apierrors.NotFound("book")
	}
	if order <= 0 {
		return nil, apierrors.BadRequest("order must be positive")
	}
	defer r.books.locks.lock(bookID)()
	b, err := r.books.load(ctx, bookID)
	if err != nil {
		return nil, err
	}
	c, ok := b.Chapter(chapterID)
	if !ok {
		return nil, apierrors.NotFound("chapter")
	}
	m := rename{from: c.FileName, to: ChapterFileName(order, c.ID)}
	if !validFileName(m.to) || (m.from != "" && !validFileName(m.from)) {
		return nil, apierrors.BadRequest(fmt.Sprintf("chapter %q has an invalid file name", c.ID))
	}
	if !r.books.store.Exists(r.books.chapterPath(bookID, m.from)) {
		return nil, apierrors.PreconditionFailed(fmt.Sprintf("chapter file %q does not exist", m.from)).Wrap(fs.ErrNotExist)
	}
	var done []rename
	if m.to != m.from {
		if r.books.store.Exists(r.books.chapterPath(bookID, m.to)) {
			return nil, apierrors.Conflict(fmt.Sprintf("chapter file %q already exists", m.to))
		}
		if err := r.move(bookID, m); err != nil {
			return nil, apierrors.StorageWithError("failed to rename chapter file", err)
		}
		done = append(done, m)
	}
	now := r.books.timestamp()
	c.FileName = m.to
	c.Order = order
	c.UpdatedAt = now
	out := *c
	b.SortChapters()
	b.UpdatedAt = now
	if err := r.books.save(b); err != nil {
		r.rollback(ctx, bookID, done)
		return nil, err
	}
	r.books.commit(ctx, bookID, "Moved chapter: "+out.Title)
	return &out, nil
}

// move copies a chapter file to its new name then deletes the old one. When
// the old one can't be deleted, the copy is removed so only m.from remains.
func (r *ChapterRepository) move(bookID string, m rename) error {
	content, err := r.books.store.ReadText(r.books.chapterPath(bookID, m.from))
	if err != nil {
		return err
	}
	to := r.books.chapterPath(bookID, m.to)
	if err := r.books.store.WriteText(to, content); err != nil {
		return err
	}
	if err := r.books.store.DeleteFile(r.books.chapterPath(bookID, m.from)); err != nil {
		return errors.Join(err, r.books.store.DeleteFile(to))
	}
	return nil
}

// rollback undoes done in reverse order. Failures are logged.
func (r *ChapterRepository) rollback(ctx context.Context, bookID string, done []rename) {
	for _, m := range slices.Backward(done) {
		if err := r.move(bookID, rename{from: m.to, to: m.from}); err != nil {
			slog.ErrorContext(ctx, "Failed to undo chapter rename", "book", bookID, "from", m.to, "to", m.from, "err", err)
		}
	}
}

// syncMetadata applies op for c to the chapter list in book.json.
//
// The chapter file operation already succeeded when this runs; failures are
// logged and swallowed so they don't turn it into an error.
func (r *ChapterRepository) syncMetadata(ctx context.Context, bookID string, c *models.Chapter, op chapterOp) {
	if err := r.applyMetadata(ctx, bookID, c, op); err != nil {
		slog.ErrorContext(ctx, "Failed to update book metadata", "book", bookID, "chapter", c.ID, "op", op.String(), "err", err)
	}
}

func (r *ChapterRepository) applyMetadata(ctx context.Context, bookID string, c *models.Chapter, op chapterOp) error {
	// Reloading reconciles with the files as they are now, so the chapter
	// may already appear as an entry synthesized from its file name.
	b, err := r.books.load(ctx, bookID)
	if err != nil {
		return err
	}
	same := func(e models.Chapter) bool { return e.ID == c.ID || e.FileName == c.FileName }
	switch op {
	case opAdd:
		b.Chapters = slices.DeleteFunc(b.Chapters, same)
		s := c.Stripped()
		b.Chapters = append(b.Chapters, s)
	case opUpdate:
		e, ok := b.Chapter(c.ID)
		if !ok {
			b.Chapters = slices.DeleteFunc(b.Chapters, same)
			b.Chapters = append(b.Chapters, c.Stripped())
			break
		}
		e.Title = c.Title
		e.FileName = c.FileName
		e.Order = c.Order
		e.IsPublished = c.IsPublished
		e.UpdatedAt = c.UpdatedAt
	case opDelete:
		b.Chapters = slices.DeleteFunc(b.Chapters, func(e models.Chapter) bool { return e.ID == c.ID })
	}
	b.SortChapters()
	b.UpdatedAt = r.books.timestamp()
	return r.books.save(b)
}

// fillTitle names a chapter whose entry has no title after its first level-1
// heading, else after its file name.
func fillTitle(c *models.Chapter) {
	if c.Title != "" {
		return
	}
	if c.Title = markdown.FirstHeading(c.Content); c.Title == "" && c.FileName != "" {
		c.Title = TitleFromFileName(c.FileName)
	}
}
