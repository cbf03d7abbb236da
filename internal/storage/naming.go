package storage

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/maruel/mdbooks/internal/markdown"
	"github.com/maruel/mdbooks/internal/models"
)

// bookIDTimeFormat is the UTC timestamp suffix of book ids.
const bookIDTimeFormat = "20060102150405"

// Slugify lower-cases s, turns whitespace into hyphens and drops everything
// but letters, digits, hyphens and underscores. Runs of hyphens collapse into
// one and leading or trailing hyphens are trimmed.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r) || r == '-':
			dash = true
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
		default:
			continue
		}
		if dash && b.Len() != 0 {
			b.WriteByte('-')
		}
		dash = false
		b.WriteRune(r)
	}
	return b.String()
}

// NewBookID returns the id of a book titled title created at now.
func NewBookID(title string, now time.Time) string {
	slug := Slugify(title)
	if slug == "" {
		slug = "book"
	}
	return slug + "-" + now.UTC().Format(bookIDTimeFormat)
}

// ChapterFileName returns the file name of a chapter: the order zero padded to
// two digits, a hyphen, the id and ".md".
func ChapterFileName(order int, id string) string {
	return fmt.Sprintf("%02d-%s.md", order, id)
}

// ParseOrder returns the number formed by the leading digits of a chapter file
// name, or models.DefaultOrder if there are none.
func ParseOrder(fileName string) int {
	stem := fileStem(fileName)
	i := strings.IndexFunc(stem, func(r rune) bool { return r < '0' || r > '9' })
	if i == -1 {
		i = len(stem)
	}
	if i == 0 {
		return models.DefaultOrder
	}
	n, err := strconv.Atoi(stem[:i])
	if err != nil {
		return models.DefaultOrder
	}
	return n
}

// TitleFromFileName derives a chapter title from its file name: the order
// prefix and the separators that follow it are removed, hyphens and
// underscores become spaces and every word is capitalized.
func TitleFromFileName(fileName string) string {
	rest := stripOrderPrefix(fileStem(fileName))
	rest = strings.Join(strings.FieldsFunc(rest, func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	}), " ")
	if rest == "" {
		return fileStem(fileName)
	}
	return markdown.TitleCase(rest)
}

// fileStem returns the base name of p without its extension.
func fileStem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// stripOrderPrefix removes the leading digits of stem and the separators that
// follow them.
func stripOrderPrefix(stem string) string {
	s := strings.TrimLeft(stem, "0123456789")
	return strings.TrimLeft(s, "-_. ")
}

// uniqueID returns base, or base suffixed with -2, -3, ... until taken
// reports false.
func uniqueID(base string, taken func(string) bool) string {
	id := base
	for n := 2; taken(id); n++ {
		id = base + "-" + strconv.Itoa(n)
	}
	return id
}

// validID reports whether id can name a directory below the books root.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

// validFileName reports whether name can name a chapter file directly in a
// book's chapters directory.
func validFileName(name string) bool {
	return strings.HasSuffix(name, ".md") && filepath.Base(name) == name && !strings.ContainsAny(name, `/\`)
}
