package handlers

import (
	"context"

	"github.com/maruel/mdbooks/internal/errors"
	"github.com/maruel/mdbooks/internal/models"
	"github.com/maruel/mdbooks/internal/storage"
)

// ChapterHandler handles chapter requests.
type ChapterHandler struct {
	books    *storage.BookRepository
	chapters *storage.ChapterRepository
}

// NewChapterHandler creates a new chapter handler.
func NewChapterHandler(books *storage.BookRepository, chapters *storage.ChapterRepository) *ChapterHandler {
	return &ChapterHandler{books: books, chapters: chapters}
}

// ChapterRequest identifies a chapter by its path.
type ChapterRequest struct {
	BookID    string `path:"id"`
	ChapterID string `path:"cid"`
}

// ChapterByOrderRequest identifies a chapter by its position.
type ChapterByOrderRequest struct {
	BookID string `path:"id"`
	Order  int    `path:"order"`
}

// ListChaptersResponse is a response containing the chapters of a book.
type ListChaptersResponse struct {
	Chapters []*models.Chapter `json:"chapters"`
}

// CreateChapterRequest is a request to add a chapter to a book.
type CreateChapterRequest struct {
	BookID      string `path:"id" json:"-"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Order       int    `json:"order"`
	IsPublished *bool  `json:"isPublished"`
}

// UpdateChapterRequest is a request to update a chapter. Absent fields keep
// their current value. A new order renames the chapter file to match.
type UpdateChapterRequest struct {
	BookID      string  `path:"id" json:"-"`
	ChapterID   string  `path:"cid" json:"-"`
	Title       *string `json:"title"`
	Content     *string `json:"content"`
	Order       int     `json:"order"`
	IsPublished *bool   `json:"isPublished"`
}

// ReorderRequest lists chapter ids in their new order.
type ReorderRequest struct {
	BookID     string   `path:"id" json:"-"`
	ChapterIDs []string `json:"chapterIds"`
}

// ListChapters returns the chapters of a book with their content.
func (h *ChapterHandler) ListChapters(ctx context.Context, req BookRequest) (*ListChaptersResponse, error) {
	if _, err := readableBook(ctx, h.books, req.ID); err != nil {
		return nil, err
	}
	chapters, err := h.chapters.List(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &ListChaptersResponse{Chapters: chapters}, nil
}

// GetChapter returns a chapter with its content.
func (h *ChapterHandler) GetChapter(ctx context.Context, req ChapterRequest) (*models.Chapter, error) {
	if _, err := readableBook(ctx, h.books, req.BookID); err != nil {
		return nil, err
	}
	return h.chapters.Get(ctx, req.BookID, req.ChapterID)
}

// GetChapterByOrder returns the chapter at the given position.
func (h *ChapterHandler) GetChapterByOrder(ctx context.Context, req ChapterByOrderRequest) (*models.Chapter, error) {
	if _, err := readableBook(ctx, h.books, req.BookID); err != nil {
		return nil, err
	}
	return h.chapters.GetByOrder(ctx, req.BookID, req.Order)
}

// CreateChapter adds a chapter to a book.
func (h *ChapterHandler) CreateChapter(ctx context.Context, req CreateChapterRequest) (*models.Chapter, error) {
	c := &models.Chapter{
		BookID:      req.BookID,
		Title:       req.Title,
		Content:     req.Content,
		Order:       req.Order,
		IsPublished: true,
	}
	if req.IsPublished != nil {
		c.IsPublished = *req.IsPublished
	}
	return h.chapters.Create(ctx, c)
}

// UpdateChapter updates a chapter.
//
// Fields are merged from the book.json entry, not from the title derived
// from the content or the file name.
func (h *ChapterHandler) UpdateChapter(ctx context.Context, req UpdateChapterRequest) (*models.Chapter, error) {
	b, err := h.books.GetByID(ctx, req.BookID)
	if err != nil {
		return nil, err
	}
	e, ok := b.Chapter(req.ChapterID)
	if !ok {
		return nil, errors.NotFound("chapter")
	}
	cur := *e
	content := ""
	if req.Content != nil {
		content = *req.Content
	} else {
		full, err := h.chapters.Get(ctx, req.BookID, req.ChapterID)
		if err != nil {
			return nil, err
		}
		content = full.Content
	}
	if req.Order > 0 && req.Order != cur.Order {
		moved, err := h.chapters.Move(ctx, req.BookID, req.ChapterID, req.Order)
		if err != nil {
			return nil, err
		}
		cur = *moved
	}
	c := &models.Chapter{
		ID:          cur.ID,
		BookID:      req.BookID,
		Title:       cur.Title,
		FileName:    cur.FileName,
		Content:     content,
		Order:       cur.Order,
		IsPublished: cur.IsPublished,
	}
	setIf(&c.Title, req.Title)
	if req.IsPublished != nil {
		c.IsPublished = *req.IsPublished
	}
	return h.chapters.Update(ctx, c)
}

// DeleteChapter removes a chapter and its file.
func (h *ChapterHandler) DeleteChapter(ctx context.Context, req ChapterRequest) (*EmptyResponse, error) {
	ok, err := h.chapters.Delete(ctx, req.BookID, req.ChapterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound("chapter")
	}
	return &EmptyResponse{}, nil
}

// ReorderChapters renumbers the chapters of a book.
func (h *ChapterHandler) ReorderChapters(ctx context.Context, req ReorderRequest) (*ListChaptersResponse, error) {
	if len(req.ChapterIDs) == 0 {
		return nil, errors.MissingField("chapterIds")
	}
	if err := h.chapters.Reorder(ctx, req.BookID, req.ChapterIDs); err != nil {
		return nil, err
	}
	chapters, err := h.chapters.List(ctx, req.BookID)
	if err != nil {
		return nil, err
	}
	return &ListChaptersResponse{Chapters: chapters}, nil
}
