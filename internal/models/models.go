// Package models defines the core data structures used throughout the application.
package models

import (
	"encoding/json"
	"slices"
	"strings"
)

// DefaultOrder is the order given to chapters whose file name carries no
// numeric prefix.
const DefaultOrder = 999

// DefaultCoverColor is the cover color of a book that doesn't set one.
const DefaultCoverColor = "#4f46e5"

// Book is the metadata of a book, persisted as book.json at the root of the
// book's directory.
type Book struct {
	ID                string       `json:"id" jsonschema:"description=URL-safe identifier derived from title and creation time"`
	Title             string       `json:"title"`
	Description       string       `json:"description"`
	Author            string       `json:"author"`
	CoverColor        string       `json:"coverColor"`
	CoverImagePath    *string      `json:"coverImagePath"`
	IsPublic          bool         `json:"isPublic"`
	AllowedUsers      []string     `json:"allowedUsers" jsonschema:"description=User identifiers allowed to read a private book"`
	Chapters          []Chapter    `json:"chapters"`
	GitRepositoryPath string       `json:"gitRepositoryPath"`
	CreatedAt         Time         `json:"createdAt"`
	UpdatedAt         Time         `json:"updatedAt"`
	Settings          BookSettings `json:"settings"`
}

// NewBook returns a Book with the defaults of a freshly created book.
func NewBook(title string) *Book {
	return &Book{
		Title:        title,
		CoverColor:   DefaultCoverColor,
		IsPublic:     true,
		AllowedUsers: []string{},
		Chapters:     []Chapter{},
		Settings:     DefaultBookSettings(),
	}
}

// CanRead reports whether userID may read the book. Public books are readable
// by anyone; private ones only by the users in AllowedUsers, compared case
// insensitively.
func (b *Book) CanRead(userID string) bool {
	if b.IsPublic {
		return true
	}
	return slices.ContainsFunc(b.AllowedUsers, func(u string) bool {
		return strings.EqualFold(u, userID)
	})
}

// Chapter returns the chapter metadata entry with the given id.
func (b *Book) Chapter(id string) (*Chapter, bool) {
	for i := range b.Chapters {
		if b.Chapters[i].ID == id {
			return &b.Chapters[i], true
		}
	}
	return nil, false
}

// SortChapters sorts chapters by Order. Ties keep their relative order.
func (b *Book) SortChapters() {
	SortChapters(b.Chapters)
}

// SortChapters stable-sorts chapters by Order ascending.
func SortChapters(chapters []Chapter) {
	slices.SortStableFunc(chapters, func(a, b Chapter) int {
		return a.Order - b.Order
	})
}

// Chapter is a Markdown document belonging to a book.
//
// The text lives in the chapter's file. The copy embedded in book.json always
// has an empty Content.
type Chapter struct {
	ID          string `json:"id"`
	BookID      string `json:"bookId"`
	Title       string `json:"title"`
	FileName    string `json:"fileName" jsonschema:"description=File under chapters/ named {order:02}-{id}.md"`
	Order       int    `json:"order"`
	Content     string `json:"content"`
	IsPublished bool   `json:"isPublished"`
	CreatedAt   Time   `json:"createdAt"`
	UpdatedAt   Time   `json:"updatedAt"`
}

// Stripped returns a copy of c without its content, as stored in book.json.
func (c *Chapter) Stripped() Chapter {
	s := *c
	s.Content = ""
	return s
}

// BookSettings are per-book reader settings.
type BookSettings struct {
	AllowCodeExecution          bool     `json:"allowCodeExecution"`
	AllowedCodeLanguages        []string `json:"allowedCodeLanguages"`
	CodeExecutionTimeoutSeconds int      `json:"codeExecutionTimeoutSeconds"`
	ShowLineNumbers             bool     `json:"showLineNumbers"`
}

// DefaultBookSettings returns the settings of a new book.
func DefaultBookSettings() BookSettings {
	return BookSettings{
		AllowedCodeLanguages:        []string{},
		CodeExecutionTimeoutSeconds: 30,
		ShowLineNumbers:             true,
	}
}

// UnmarshalJSON decodes a book, keeping the defaults of NewBook for absent
// fields.
func (b *Book) UnmarshalJSON(data []byte) error {
	type alias Book
	a := alias(*NewBook(""))
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*b = Book(a)
	return nil
}

// UnmarshalJSON decodes a chapter. Chapters are published unless stated
// otherwise.
func (c *Chapter) UnmarshalJSON(data []byte) error {
	type alias Chapter
	a := alias{IsPublished: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Chapter(a)
	return nil
}
