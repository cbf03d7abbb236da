package storage

import (
	"slices"
	"testing"

	"github.com/maruel/mdbooks/internal/models"
)

func chapterIDs(chapters []models.Chapter) []string {
	out := make([]string, 0, len(chapters))
	for _, c := range chapters {
		out = append(out, c.ID)
	}
	return out
}

func TestReconcile(t *testing.T) {
	t.Parallel()
	now := models.Now()

	t.Run("EmptyMetadataScansFiles", func(t *testing.T) {
		t.Parallel()
		for _, mode := range []ReconcileMode{ReconcileAlways, ReconcileIfEmpty} {
			got := reconcile("b1", nil, []string{"02-setup.md", "01-getting-started.md", "appendix.md"}, mode, now)
			if want := []string{"getting-started", "setup", "appendix"}; !slices.Equal(chapterIDs(got), want) {
				t.Fatalf("%s: ids = %q, want %q", mode, chapterIDs(got), want)
			}
			c := got[0]
			if c.Title != "Getting Started" || c.Order != 1 || c.FileName != "01-getting-started.md" || !c.IsPublished || c.BookID != "b1" {
				t.Errorf("%s: chapter = %+v", mode, c)
			}
			if got[2].Order != models.DefaultOrder {
				t.Errorf("%s: appendix order = %d", mode, got[2].Order)
			}
		}
	})

	t.Run("IfEmptyTrustsMetadata", func(t *testing.T) {
		t.Parallel()
		meta := []models.Chapter{
			{ID: "setup", FileName: "02-setup.md", Order: 2},
			{ID: "gone", FileName: "01-gone.md", Order: 1},
		}
		got := reconcile("b1", meta, []string{"02-setup.md", "03-new.md"}, ReconcileIfEmpty, now)
		if want := []string{"gone", "setup"}; !slices.Equal(chapterIDs(got), want) {
			t.Errorf("ids = %q, want %q", chapterIDs(got), want)
		}
		if meta[0].BookID != "" {
			t.Error("input was modified")
		}
	})

	t.Run("AlwaysCrossChecks", func(t *testing.T) {
		t.Parallel()
		meta := []models.Chapter{
			{ID: "setup", Title: "Custom Setup", FileName: "02-setup.md", Order: 2, IsPublished: false, BookID: "b1"},
			{ID: "gone", FileName: "01-gone.md", Order: 1},
		}
		got := reconcile("b1", meta, []string{"02-setup.md", "03-new-file.md"}, ReconcileAlways, now)
		if want := []string{"setup", "new-file"}; !slices.Equal(chapterIDs(got), want) {
			t.Fatalf("ids = %q, want %q", chapterIDs(got), want)
		}
		if got[0].Title != "Custom Setup" || got[0].IsPublished {
			t.Errorf("metadata fields not preserved: %+v", got[0])
		}
		if got[1].Title != "New File" || got[1].Order != 3 {
			t.Errorf("new entry = %+v", got[1])
		}
	})

	t.Run("MatchByID", func(t *testing.T) {
		t.Parallel()
		meta := []models.Chapter{
			{ID: "intro", FileName: "01-intro.md", Order: 1},
			{ID: "setup", Order: 2},
			{ID: "notes", FileName: "stale.md", Order: 3},
		}
		got := reconcile("b1", meta, []string{"01-intro.md", "05-setup.md", "notes.md"}, ReconcileAlways, now)
		if want := []string{"intro", "setup", "notes"}; !slices.Equal(chapterIDs(got), want) {
			t.Fatalf("ids = %q, want %q", chapterIDs(got), want)
		}
		if got[1].FileName != "05-setup.md" || got[1].Order != 2 {
			t.Errorf("setup = %+v", got[1])
		}
		if got[2].FileName != "notes.md" {
			t.Errorf("notes = %+v", got[2])
		}
	})

	t.Run("ExactNameWins", func(t *testing.T) {
		t.Parallel()
		// "intro" would match 01-intro.md by id but another entry names it.
		meta := []models.Chapter{
			{ID: "intro", FileName: "missing.md", Order: 1},
			{ID: "other", FileName: "01-intro.md", Order: 2},
		}
		got := reconcile("b1", meta, []string{"01-intro.md"}, ReconcileAlways, now)
		if want := []string{"other"}; !slices.Equal(chapterIDs(got), want) {
			t.Errorf("ids = %q, want %q", chapterIDs(got), want)
		}
	})

	t.Run("SynthesizedIDCollision", func(t *testing.T) {
		t.Parallel()
		meta := []models.Chapter{{ID: "intro", FileName: "01-intro.md", Order: 1}}
		got := reconcile("b1", meta, []string{"01-intro.md", "02-intro.md", "03.md"}, ReconcileAlways, now)
		if want := []string{"intro", "02-intro", "03"}; !slices.Equal(chapterIDs(got), want) {
			t.Errorf("ids = %q, want %q", chapterIDs(got), want)
		}
	})

	t.Run("StableTies", func(t *testing.T) {
		t.Parallel()
		meta := []models.Chapter{
			{ID: "b", FileName: "02-b.md", Order: 2},
			{ID: "a", FileName: "02-a.md", Order: 2},
			{ID: "z", FileName: "01-z.md", Order: 1},
		}
		got := reconcile("b1", meta, []string{"01-z.md", "02-a.md", "02-b.md"}, ReconcileAlways, now)
		if want := []string{"z", "b", "a"}; !slices.Equal(chapterIDs(got), want) {
			t.Errorf("ids = %q, want %q", chapterIDs(got), want)
		}
	})
}

func TestReconcileModeValidate(t *testing.T) {
	t.Parallel()
	for _, m := range []ReconcileMode{"", ReconcileAlways, ReconcileIfEmpty} {
		if err := m.Validate(); err != nil {
			t.Errorf("Validate(%q) failed: %v", m, err)
		}
	}
	if err := ReconcileMode("sometimes").Validate(); err == nil {
		t.Error("Validate(sometimes) should fail")
	}
}

func TestSameChapters(t *testing.T) {
	t.Parallel()
	a := []models.Chapter{{ID: "a", Order: 1, Content: "x"}}
	b := []models.Chapter{{ID: "a", Order: 1, UpdatedAt: models.Now()}}
	if !sameChapters(a, b) {
		t.Error("content and timestamps should be ignored")
	}
	b[0].Order = 2
	if sameChapters(a, b) {
		t.Error("order change not detected")
	}
}
