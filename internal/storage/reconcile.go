package storage

import (
	"fmt"
	"slices"

	"github.com/maruel/mdbooks/internal/models"
)

// ReconcileMode selects how a book's chapter list is merged with the files
// found in its chapters directory.
type ReconcileMode string

const (
	// ReconcileAlways cross-checks metadata against files on every load.
	// Files missing from the metadata are added and entries whose file is
	// gone are dropped.
	ReconcileAlways ReconcileMode = "always"
	// ReconcileIfEmpty only scans the files when the metadata lists no
	// chapters; otherwise the metadata is trusted as is.
	ReconcileIfEmpty ReconcileMode = "if-empty"
)

// Validate returns an error if m is not a known mode. The empty mode is
// valid and means ReconcileAlways.
func (m ReconcileMode) Validate() error {
	switch m {
	case "", ReconcileAlways, ReconcileIfEmpty:
		return nil
	}
	return fmt.Errorf("unknown reconcile mode %q", m)
}

// reconcile merges the chapter entries of book.json with files, the base
// names of the .md files in the chapters directory.
//
// Entries found in both keep their metadata fields. The result has BookID set
// on every entry and is stable-sorted by Order. meta is not modified.
func reconcile(bookID string, meta []models.Chapter, files []string, mode ReconcileMode, now models.Time) []models.Chapter {
	var out []models.Chapter
	if mode == ReconcileIfEmpty {
		if len(meta) != 0 {
			out = slices.Clone(meta)
		} else {
			out = synthesize(nil, files, now)
		}
	} else {
		out = crossCheck(meta, files, now)
	}
	for i := range out {
		if out[i].BookID == "" {
			out[i].BookID = bookID
		}
	}
	models.SortChapters(out)
	return out
}

// crossCheck keeps the entries of meta that have a file, then appends the
// files no entry claimed.
func crossCheck(meta []models.Chapter, files []string, now models.Time) []models.Chapter {
	unclaimed := make(map[string]bool, len(files))
	for _, f := range files {
		unclaimed[f] = true
	}
	// Exact file name matches first so that an id based match can't steal a
	// file explicitly named by another entry.
	matched := make([]string, len(meta))
	for i := range meta {
		if f := meta[i].FileName; f != "" && unclaimed[f] {
			matched[i] = f
			delete(unclaimed, f)
		}
	}
	for i := range meta {
		if matched[i] != "" || meta[i].ID == "" {
			continue
		}
		if f := findByID(meta[i].ID, files, unclaimed); f != "" {
			matched[i] = f
			delete(unclaimed, f)
		}
	}
	out := make([]models.Chapter, 0, len(files))
	for i := range meta {
		if matched[i] == "" {
			continue
		}
		c := meta[i]
		c.FileName = matched[i]
		out = append(out, c)
	}
	var rest []string
	for _, f := range files {
		if unclaimed[f] {
			rest = append(rest, f)
		}
	}
	return synthesize(out, rest, now)
}

// findByID returns the unclaimed file whose stem is id, or whose stem without
// its order prefix is id.
func findByID(id string, files []string, unclaimed map[string]bool) string {
	for _, f := range files {
		if unclaimed[f] && fileStem(f) == id {
			return f
		}
	}
	for _, f := range files {
		if unclaimed[f] && stripOrderPrefix(fileStem(f)) == id {
			return f
		}
	}
	return ""
}

// synthesize appends an entry derived from each file name to existing.
func synthesize(existing []models.Chapter, files []string, now models.Time) []models.Chapter {
	taken := make(map[string]bool, len(existing)+len(files))
	for _, c := range existing {
		taken[c.ID] = true
	}
	for _, f := range files {
		stem := fileStem(f)
		id := stripOrderPrefix(stem)
		if id == "" || taken[id] {
			id = uniqueID(stem, func(s string) bool { return taken[s] })
		}
		taken[id] = true
		existing = append(existing, models.Chapter{
			ID:          id,
			Title:       TitleFromFileName(f),
			FileName:    f,
			Order:       ParseOrder(f),
			IsPublished: true,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return existing
}

// sameChapters reports whether a and b list the same entries in the same
// order, ignoring content and timestamps.
func sameChapters(a, b []models.Chapter) bool {
	return slices.EqualFunc(a, b, func(x, y models.Chapter) bool {
		return x.ID == y.ID && x.BookID == y.BookID && x.Title == y.Title &&
			x.FileName == y.FileName && x.Order == y.Order && x.IsPublished == y.IsPublished
	})
}
