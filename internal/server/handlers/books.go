package handlers

import (
	"context"

	"github.com/maruel/mdbooks/internal/errors"
	"github.com/maruel/mdbooks/internal/models"
	"github.com/maruel/mdbooks/internal/storage"
	"github.com/maruel/mdbooks/internal/storage/git"
)

// BookHandler handles book requests.
type BookHandler struct {
	books *storage.BookRepository
}

// NewBookHandler creates a new book handler.
func NewBookHandler(books *storage.BookRepository) *BookHandler {
	return &BookHandler{books: books}
}

// BookRequest identifies a book by its path.
type BookRequest struct {
	ID string `path:"id"`
}

// ListBooksResponse is a response containing a list of books.
type ListBooksResponse struct {
	Books []*models.Book `json:"books"`
}

// CreateBookRequest is a request to create a book.
type CreateBookRequest struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Author       string   `json:"author"`
	CoverColor   string   `json:"coverColor"`
	IsPublic     *bool    `json:"isPublic"`
	AllowedUsers []string `json:"allowedUsers"`
}

// UpdateBookRequest is a request to update the metadata of a book. Absent
// fields keep their current value.
type UpdateBookRequest struct {
	ID             string               `path:"id" json:"-"`
	Title          *string              `json:"title"`
	Description    *string              `json:"description"`
	Author         *string              `json:"author"`
	CoverColor     *string              `json:"coverColor"`
	CoverImagePath *string              `json:"coverImagePath"`
	IsPublic       *bool                `json:"isPublic"`
	AllowedUsers   []string             `json:"allowedUsers"`
	Settings       *models.BookSettings `json:"settings"`
}

// HistoryRequest is a request for the commits of a book.
type HistoryRequest struct {
	ID    string `path:"id"`
	Limit int    `query:"limit"`
}

// HistoryResponse lists commits, newest first.
type HistoryResponse struct {
	Commits []*git.Commit `json:"commits"`
}

// SyncResponse reports whether book.json was rewritten.
type SyncResponse struct {
	Changed bool `json:"changed"`
}

// EmptyResponse is the response of requests that return nothing.
type EmptyResponse struct{}

// ListBooks returns the books the caller may read.
func (h *BookHandler) ListBooks(ctx context.Context, _ struct{}) (*ListBooksResponse, error) {
	all, err := h.books.ListAll(ctx)
	if err != nil {
		return nil, errors.InternalWithError("Failed to list books", err)
	}
	u := models.GetUser(ctx)
	out := make([]*models.Book, 0, len(all))
	for _, b := range all {
		if canRead(u, b) {
			out = append(out, b)
		}
	}
	return &ListBooksResponse{Books: out}, nil
}

// GetBook returns one book with its chapter list.
func (h *BookHandler) GetBook(ctx context.Context, req BookRequest) (*models.Book, error) {
	return readableBook(ctx, h.books, req.ID)
}

// CreateBook creates a book.
func (h *BookHandler) CreateBook(ctx context.Context, req CreateBookRequest) (*models.Book, error) {
	b := models.NewBook(req.Title)
	b.Description = req.Description
	b.Author = req.Author
	if req.CoverColor != "" {
		b.CoverColor = req.CoverColor
	}
	if req.IsPublic != nil {
		b.IsPublic = *req.IsPublic
	}
	if req.AllowedUsers != nil {
		b.AllowedUsers = req.AllowedUsers
	}
	return h.books.Create(ctx, b)
}

// UpdateBook updates the metadata of a book. The chapter list is left alone.
func (h *BookHandler) UpdateBook(ctx context.Context, req UpdateBookRequest) (*models.Book, error) {
	b, err := h.books.GetByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		if *req.Title == "" {
			return nil, errors.MissingField("title")
		}
		b.Title = *req.Title
	}
	setIf(&b.Description, req.Description)
	setIf(&b.Author, req.Author)
	setIf(&b.CoverColor, req.CoverColor)
	if req.CoverImagePath != nil {
		b.CoverImagePath = req.CoverImagePath
	}
	if req.IsPublic != nil {
		b.IsPublic = *req.IsPublic
	}
	if req.AllowedUsers != nil {
		b.AllowedUsers = req.AllowedUsers
	}
	if req.Settings != nil {
		b.Settings = *req.Settings
	}
	b.Chapters = nil
	return h.books.Update(ctx, b)
}

// DeleteBook deletes a book and its repository.
func (h *BookHandler) DeleteBook(ctx context.Context, req BookRequest) (*EmptyResponse, error) {
	ok, err := h.books.Delete(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound("book")
	}
	return &EmptyResponse{}, nil
}

// History returns the commits of a book.
func (h *BookHandler) History(ctx context.Context, req HistoryRequest) (*HistoryResponse, error) {
	commits, err := h.books.History(ctx, req.ID, req.Limit)
	if err != nil {
		return nil, err
	}
	return &HistoryResponse{Commits: commits}, nil
}

// Status returns the uncommitted changes of a book.
func (h *BookHandler) Status(ctx context.Context, req BookRequest) (*git.Status, error) {
	return h.books.Status(ctx, req.ID)
}

// Sync reconciles the chapter list of a book with its chapter files.
func (h *BookHandler) Sync(ctx context.Context, req BookRequest) (*SyncResponse, error) {
	changed, err := h.books.Sync(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &SyncResponse{Changed: changed}, nil
}

// canRead reports whether u may read b. A nil u is an anonymous caller.
// AllowedUsers may list user ids or usernames.
func canRead(u *models.User, b *models.Book) bool {
	switch {
	case b.IsPublic:
		return true
	case u == nil:
		return false
	case u.IsAdmin():
		return true
	default:
		return b.CanRead(u.ID) || b.CanRead(u.Username)
	}
}

// readableBook returns the book if the caller may read it.
func readableBook(ctx context.Context, books *storage.BookRepository, bookID string) (*models.Book, error) {
	b, err := books.GetByID(ctx, bookID)
	if err != nil {
		return nil, err
	}
	u := models.GetUser(ctx)
	if !canRead(u, b) {
		if u == nil {
			return nil, errors.Unauthorized()
		}
		return nil, errors.Forbidden("You don't have access to this book")
	}
	return b, nil
}

func setIf(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
